package summarizer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/mnemo/internal/memory"
)

// Config selects and parameterizes a summarizer implementation.
type Config struct {
	Mode    string
	HTTPURL string
}

func New(cfg Config) (memory.Summarizer, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "static"
	}

	switch mode {
	case "static":
		return NewStatic(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("summarizer HTTP url is required for http mode")
		}
		return NewHTTP(cfg.HTTPURL), nil
	default:
		return nil, fmt.Errorf("unsupported summarizer mode %q", cfg.Mode)
	}
}
