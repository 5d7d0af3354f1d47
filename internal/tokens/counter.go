package tokens

import "log"

// CountFunc produces a token count for a piece of text. Implementations
// may wrap an exact tokenizer; errors fall back to the heuristic.
type CountFunc func(text string) (int, error)

// Counter estimates token counts with a pluggable counting function.
// The zero-config counter uses the chars/4 heuristic, which is good
// enough for threshold comparison but not billing-accurate.
type Counter struct {
	fn CountFunc
}

func NewCounter(fn CountFunc) *Counter {
	return &Counter{fn: fn}
}

// Estimate approximates token count as ceil(len/4), following common
// English-text tokenization averages.
func Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// Count returns the token count for text. A failing or panicking
// counting function never propagates; the heuristic answers instead.
func (c *Counter) Count(text string) (n int) {
	if c == nil || c.fn == nil {
		return Estimate(text)
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("token counter panic, using heuristic: %v", r)
			n = Estimate(text)
		}
	}()
	n, err := c.fn(text)
	if err != nil || n < 0 {
		return Estimate(text)
	}
	return n
}

// CountAll sums counts over a batch of texts.
func (c *Counter) CountAll(texts []string) int {
	total := 0
	for _, t := range texts {
		total += c.Count(t)
	}
	return total
}
