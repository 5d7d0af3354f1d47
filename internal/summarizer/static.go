// Package summarizer provides the implementations behind the memory
// manager's Summarize hook: a deterministic static condenser that
// never fails, and an HTTP adapter for model-backed endpoints.
package summarizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/mnemo/internal/memory"
)

// Static condenses a batch without calling a model. The output keeps
// enough shape for prompt assembly: turn counts, the opening user
// message, and the most recent exchange, folded onto the prior summary.
type Static struct {
	// MaxExcerptLen bounds each quoted message fragment.
	MaxExcerptLen int
}

func NewStatic() *Static {
	return &Static{MaxExcerptLen: 120}
}

func (s *Static) Summarize(_ context.Context, prior string, msgs []memory.Message) (string, error) {
	if len(msgs) == 0 {
		return prior, nil
	}

	var userCount, assistantCount int
	var firstUser, lastContent string
	for _, m := range msgs {
		switch m.Role {
		case memory.RoleUser:
			userCount++
			if firstUser == "" {
				firstUser = m.Content
			}
		case memory.RoleAssistant:
			assistantCount++
		}
		lastContent = m.Content
	}

	var b strings.Builder
	if prior != "" {
		b.WriteString(prior)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "[compacted %d turns: %d user, %d assistant]", len(msgs), userCount, assistantCount)
	if firstUser != "" {
		fmt.Fprintf(&b, " opened: %q.", s.excerpt(firstUser))
	}
	fmt.Fprintf(&b, " latest: %q.", s.excerpt(lastContent))
	return b.String(), nil
}

func (s *Static) excerpt(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	max := s.MaxExcerptLen
	if max <= 0 {
		max = 120
	}
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}
