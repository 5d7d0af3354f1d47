package memory

import "github.com/ent0n29/mnemo/internal/tokens"

// messageTokens returns the message's token count, computing and
// caching it on first use.
func messageTokens(c *tokens.Counter, m *Message) int {
	if m.TokenCount > 0 {
		return m.TokenCount
	}
	m.TokenCount = c.Count(m.Content)
	return m.TokenCount
}

// batchTokens sums cached counts over a batch without recomputing
// already-counted messages.
func batchTokens(c *tokens.Counter, msgs []Message) int {
	total := 0
	for i := range msgs {
		total += messageTokens(c, &msgs[i])
	}
	return total
}

// shouldTrigger reports whether the cumulative count exceeds threshold.
func shouldTrigger(c *tokens.Counter, msgs []Message, threshold int) bool {
	if threshold <= 0 {
		return false
	}
	return batchTokens(c, msgs) > threshold
}

// overflow returns the oldest prefix to evict so the remaining
// cumulative count fits maxTokens.
func overflow(c *tokens.Counter, msgs []Message, maxTokens int) []Message {
	if maxTokens <= 0 {
		return nil
	}
	total := batchTokens(c, msgs)
	n := 0
	for total > maxTokens && n < len(msgs) {
		total -= messageTokens(c, &msgs[n])
		n++
	}
	return msgs[:n]
}
