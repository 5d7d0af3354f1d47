package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/mnemo/internal/memory"
)

// HTTP posts compaction batches to a summarization endpoint. The
// endpoint receives the prior summary and the messages and answers
// with JSON carrying the new summary text, or plain text.
type HTTP struct {
	url    string
	client *http.Client
}

func NewHTTP(url string) *HTTP {
	return &HTTP{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type summarizeRequest struct {
	Prior    string           `json:"prior_summary,omitempty"`
	Messages []memory.Message `json:"messages"`
}

func (h *HTTP) Summarize(ctx context.Context, prior string, msgs []memory.Message) (string, error) {
	payload, err := json.Marshal(summarizeRequest{Prior: prior, Messages: msgs})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := h.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("summarizer http status %d: %s", res.StatusCode, string(body))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		// Plain text endpoints are fine too.
		return strings.TrimSpace(string(body)), nil
	}

	text := extractText(obj)
	if text == "" {
		return "", fmt.Errorf("summarizer response carried no text")
	}
	return text, nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"summary", "text", "output", "message"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
