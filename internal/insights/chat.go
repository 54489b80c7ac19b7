// Package insights generates per-visit patient insights from a visit
// transcript using an LLM chat-completions API, citing stored references.
package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/medscribe/reference-harvester/internal/observability"
)

// Default values for the chat-completions client.
const (
	defaultChatBaseURL    = "https://api.openai.com/v1"
	defaultChatModel      = "gpt-4-turbo"
	defaultChatMaxTokens  = 2048
	defaultChatTimeout    = 60 * time.Second
	defaultChatRetryDelay = 2 * time.Second
)

// chatRequest represents the Chat Completions API request body.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// chatMessage represents a single message in the chat conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// responseFormat specifies the output format for the API response.
type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse represents the Chat Completions API response body.
type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// chatErrorResponse represents an error response from the API.
type chatErrorResponse struct {
	Error chatErrorDetail `json:"error"`
}

type chatErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// ChatClient sends a system/user prompt pair to a chat-completions API and
// returns the assistant's reply text.
type ChatClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Model() string
}

// ClientConfig holds the parameters needed to create a chat client.
type ClientConfig struct {
	// APIKey is the provider API key.
	APIKey string
	// Model is the model identifier (e.g., "gpt-4-turbo").
	Model string
	// BaseURL is the API base URL (empty means the provider default).
	BaseURL string
	// Temperature controls sampling randomness.
	Temperature float64
	// Timeout is the per-call timeout.
	Timeout time.Duration
	// MaxRetries is the maximum retry attempts for transient errors.
	MaxRetries int
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration
}

// OpenAIChatClient implements ChatClient against an OpenAI-compatible
// Chat Completions API. Transient errors (5xx, 429) are retried with
// increasing backoff.
type OpenAIChatClient struct {
	httpClient *http.Client
	config     ClientConfig
	metrics    *observability.Metrics
}

var _ ChatClient = (*OpenAIChatClient)(nil)

// NewOpenAIChatClient creates a new chat-completions client.
// metrics may be nil; request outcomes are then not recorded.
func NewOpenAIChatClient(cfg ClientConfig, metrics *observability.Metrics) *OpenAIChatClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultChatBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultChatModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultChatTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultChatRetryDelay
	}

	return &OpenAIChatClient{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		config:  cfg,
		metrics: metrics,
	}
}

// Model returns the model identifier being used.
func (c *OpenAIChatClient) Model() string {
	return c.config.Model
}

// Complete sends the prompts and returns the assistant reply content.
// The request asks for a JSON object response.
func (c *OpenAIChatClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	chatReq := chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: c.config.Temperature,
		MaxTokens:   defaultChatMaxTokens,
		ResponseFormat: &responseFormat{
			Type: "json_object",
		},
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.config.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("chat: context cancelled during retry wait: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		content, err := c.doRequest(ctx, chatReq)
		if err == nil {
			return content, nil
		}

		// Only retry on transient errors (5xx, 429).
		if !isTransientError(err) {
			return "", err
		}
		lastErr = err
	}

	return "", fmt.Errorf("chat: exhausted %d retries: %w", c.config.MaxRetries, lastErr)
}

// doRequest performs a single API request to the chat-completions endpoint.
func (c *OpenAIChatClient) doRequest(ctx context.Context, chatReq chatRequest) (string, error) {
	body, err := json.Marshal(chatReq)
	if err != nil {
		return "", fmt.Errorf("chat: failed to marshal request: %w", err)
	}

	endpoint := c.config.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("chat: failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.recordFailure("network")
		return "", fmt.Errorf("chat: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		c.recordFailure("read_body")
		return "", fmt.Errorf("chat: failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.recordFailure(fmt.Sprintf("http_%d", resp.StatusCode))
		return "", parseChatAPIError(resp.StatusCode, respBody)
	}

	if c.metrics != nil {
		c.metrics.RecordLLMRequest("chat_completion", c.config.Model, time.Since(start).Seconds())
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("chat: failed to unmarshal response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("chat: empty choices in response")
	}

	return chatResp.Choices[0].Message.Content, nil
}

func (c *OpenAIChatClient) recordFailure(errorType string) {
	if c.metrics != nil {
		c.metrics.RecordLLMRequestFailed("chat_completion", c.config.Model, errorType)
	}
}

// parseChatAPIError parses an API error from the response status and body.
func parseChatAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{
		Provider:   "openai",
		StatusCode: statusCode,
		Message:    string(body),
	}

	var errResp chatErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
		apiErr.Type = errResp.Error.Type
		apiErr.Code = errResp.Error.Code
	}

	return apiErr
}
