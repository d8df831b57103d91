// Package llm defines the model-call contract and an OpenAI-compatible
// chat-completions client implementing it.
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

// ErrProvider marks network or provider failures. Unlike tool errors, these
// terminate the invocation rather than feeding back into the conversation.
var ErrProvider = errors.New("llm: provider failure")

// Message is one turn of a model conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is one model completion. Truncated reports a length-limit stop
// rather than a natural one; callers re-issue for continuation.
type Response struct {
	Content   string
	Truncated bool
}

// Model is the call contract consumed by the invocation state machine.
type Model interface {
	Complete(ctx context.Context, messages []Message) (Response, error)
}

// defaultCallTimeout bounds one provider call. A hung provider must not be
// able to stall the dispatch loop forever.
const defaultCallTimeout = 5 * time.Minute

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	BaseURL   string
	ModelName string
	APIKey    string
	MaxTokens int

	// HTTPClient defaults to one with the call timeout applied.
	HTTPClient *http.Client
}

// NewClient builds a Client for one configured model entry.
func NewClient(baseURL, modelName, apiKey string, maxTokens int) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("llm: base url is required")
	}
	if modelName == "" {
		return nil, fmt.Errorf("llm: model name is required")
	}
	return &Client{
		BaseURL:    baseURL,
		ModelName:  modelName,
		APIKey:     apiKey,
		MaxTokens:  maxTokens,
		HTTPClient: &http.Client{Timeout: defaultCallTimeout},
	}, nil
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete issues one chat completion.
func (c *Client) Complete(ctx context.Context, messages []Message) (Response, error) {
	body, err := json.Marshal(chatRequest{
		Model:     c.ModelName,
		Messages:  messages,
		MaxTokens: c.MaxTokens,
	})
	if err != nil {
		return Response{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("llm: call %s: %w: %w", c.ModelName, ErrProvider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Response{}, fmt.Errorf("llm: read response: %w: %w", ErrProvider, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("llm: %s returned %d: %w", c.ModelName, resp.StatusCode, ErrProvider)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, fmt.Errorf("llm: decode response: %w: %w", ErrProvider, err)
	}
	if parsed.Error != nil {
		return Response{}, fmt.Errorf("llm: %s: %s: %w", c.ModelName, parsed.Error.Message, ErrProvider)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, fmt.Errorf("llm: %s returned no choices: %w", c.ModelName, ErrProvider)
	}

	choice := parsed.Choices[0]
	return Response{
		Content:   choice.Message.Content,
		Truncated: choice.FinishReason == "length",
	}, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: defaultCallTimeout}
}
