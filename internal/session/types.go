package session

import "fmt"

// Config holds the per-session tunables. A zero field means "inherit
// the process-wide default".
type Config struct {
	SummaryTriggerTokens int `json:"summary_trigger_tokens"`
	MaxBufferTokens      int `json:"max_buffer_tokens"`
	MaxBufferMessages    int `json:"max_buffer_messages"`
}

// Validate rejects explicitly negative overrides; zero means inherit.
func (c Config) Validate() error {
	if c.SummaryTriggerTokens < 0 {
		return fmt.Errorf("summary_trigger_tokens must be >= 0, got %d", c.SummaryTriggerTokens)
	}
	if c.MaxBufferTokens < 0 {
		return fmt.Errorf("max_buffer_tokens must be >= 0, got %d", c.MaxBufferTokens)
	}
	if c.MaxBufferMessages < 0 {
		return fmt.Errorf("max_buffer_messages must be >= 0, got %d", c.MaxBufferMessages)
	}
	return nil
}

// Merge overlays a session override onto process defaults. Pure
// function: unset (zero) override fields inherit the default.
func Merge(override, defaults Config) Config {
	out := defaults
	if override.SummaryTriggerTokens > 0 {
		out.SummaryTriggerTokens = override.SummaryTriggerTokens
	}
	if override.MaxBufferTokens > 0 {
		out.MaxBufferTokens = override.MaxBufferTokens
	}
	if override.MaxBufferMessages > 0 {
		out.MaxBufferMessages = override.MaxBufferMessages
	}
	return out
}
