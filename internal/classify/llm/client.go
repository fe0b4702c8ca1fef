package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config holds classification service connection settings.
type Config struct {
	URL       string        `yaml:"url"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxTokens int           `yaml:"max_tokens"`
}

// Client calls a messages-style text completion API. The stable prompt prefix
// travels as a cache-marked system block so the service can reuse it across
// calls; only the volatile suffix goes in the user message.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a service client with a per-call timeout.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type systemBlock struct {
	Type         string            `json:"type"`
	Text         string            `json:"text"`
	CacheControl map[string]string `json:"cache_control,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	System      []systemBlock `json:"system,omitempty"`
	Messages    []message     `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type completionResponse struct {
	Content []contentBlock `json:"content"`
	Error   *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one classification request and returns the response text.
// prefix may be empty for requests with no cacheable portion.
func (c *Client) Complete(ctx context.Context, prefix, body string) (string, error) {
	return c.complete(ctx, prefix, body, c.cfg.MaxTokens)
}

// RefreshCache re-issues a minimal request against the cacheable prefix alone
// to keep its service-side cache entry warm through idle periods.
func (c *Client) RefreshCache(ctx context.Context, prefix string) error {
	_, err := c.complete(ctx, prefix, "ok", 10)
	return err
}

func (c *Client) complete(ctx context.Context, prefix, body string, maxTokens int) (string, error) {
	req := completionRequest{
		Model:       c.cfg.Model,
		MaxTokens:   maxTokens,
		Temperature: 0,
		Messages:    []message{{Role: "user", Content: body}},
	}
	if prefix != "" {
		req.System = []systemBlock{{
			Type:         "text",
			Text:         prefix,
			CacheControl: map[string]string{"type": "ephemeral"},
		}}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode service request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.URL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build service request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		class := ClassTransient
		if errors.Is(err, context.Canceled) {
			class = ClassFatal
		}
		return "", &ServiceError{Class: class, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &ServiceError{Class: ClassTransient, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(raw)
		var parsed completionResponse
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", &ServiceError{
			StatusCode: resp.StatusCode,
			Class:      classifyStatus(resp.StatusCode),
			Message:    msg,
		}
	}

	var parsed completionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &ServiceError{Class: ClassFatal, Message: "malformed response body", Err: err}
	}
	for _, block := range parsed.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", ErrEmptyResponse
}
