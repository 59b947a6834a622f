// Package llm – provider client.
//
// This file implements the HTTP client for an OpenAI-compatible
// chat-completions endpoint. The provider is treated as an opaque, unreliable
// network service: timeouts, rate limits, and 5xx responses surface as
// transient extraction errors so the retry loop can take another attempt,
// while 4xx responses (bad key, bad request) are not retried.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultBaseURL is the OpenAI API endpoint; overridable for compatible
// providers and for tests.
const DefaultBaseURL = "https://api.openai.com/v1"

// ChatClient is the narrow provider contract the extractor depends on.
// Implementations must be safe for concurrent use.
type ChatClient interface {
	// Complete sends the instruction and user message and returns the raw
	// assistant text.
	Complete(ctx context.Context, instruction, message string) (string, error)
}

// chatRequest is the chat-completions request payload.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the subset of the chat-completions response we consume.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Client calls an OpenAI-compatible chat-completions API via resty.
type Client struct {
	http  *resty.Client
	model string
}

// NewClient builds a provider client. baseURL falls back to DefaultBaseURL
// when empty; timeout bounds each individual HTTP attempt.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	rc := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{http: rc, model: model}
}

// Complete implements ChatClient. Deterministic output is preferred, so the
// temperature is pinned to zero.
func (c *Client) Complete(ctx context.Context, instruction, message string) (string, error) {
	var out chatResponse
	var apiErr apiError

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model: c.model,
			Messages: []chatMessage{
				{Role: "system", Content: instruction},
				{Role: "user", Content: message},
			},
			Temperature: 0,
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/chat/completions")
	if err != nil {
		// Transport-level failure (DNS, timeout, connection reset).
		return "", transientErr(err)
	}

	if resp.IsError() {
		err := fmt.Errorf("provider returned %d: %s", resp.StatusCode(), apiErr.Error.Message)
		// Rate limits and server errors are worth another attempt; anything
		// else (bad key, malformed request) will not improve on retry.
		if resp.StatusCode() == 429 || resp.StatusCode() >= 500 {
			return "", transientErr(err)
		}
		return "", permanentErr(err)
	}

	if len(out.Choices) == 0 {
		return "", transientErr(fmt.Errorf("provider returned no choices"))
	}
	return out.Choices[0].Message.Content, nil
}
