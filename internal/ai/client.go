package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salesbot/config"
	"salesbot/internal/util"

	"github.com/go-resty/resty/v2"
)

var ErrNoCompletion = errors.New("completion service returned no choices")

// Completer is the contract the orchestrator depends on. The completion
// service is an external black box; implementations must carry a bounded
// timeout.
type Completer interface {
	Complete(ctx context.Context, messages []ChatMessage, tools []Tool) (*ChatMessage, error)
}

// Client calls an OpenAI-compatible chat completion endpoint.
type Client struct {
	http  *resty.Client
	model string
}

func NewClient(cfg config.AIConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.APIKey).
		SetTimeout(timeout)

	return &Client{http: http, model: cfg.Model}
}

// Complete runs one completion round and returns the assistant message,
// which may carry tool call requests instead of final text.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage, tools []Tool) (*ChatMessage, error) {
	start := time.Now()
	defer func() {
		util.CompletionLatency.Observe(time.Since(start).Seconds())
	}()

	var result completionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(completionRequest{
			Model:    c.model,
			Messages: messages,
			Tools:    tools,
		}).
		SetResult(&result).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	if resp.IsError() {
		if result.Error != nil {
			return nil, fmt.Errorf("completion service error: %s", result.Error.Message)
		}
		return nil, fmt.Errorf("completion service error: status %d", resp.StatusCode())
	}
	if len(result.Choices) == 0 {
		return nil, ErrNoCompletion
	}

	message := result.Choices[0].Message
	return &message, nil
}
