// Package openrouter implements port.VLMClient against the OpenRouter
// chat-completions API.
package openrouter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"medcoder/internal/config"
	"medcoder/internal/port"
	"medcoder/internal/vlm"
)

const apiURL = "https://openrouter.ai/api/v1/chat/completions"

// Client calls a vision-language model through OpenRouter.
type Client struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewClient creates an OpenRouter-backed VLM client from config.
func NewClient(cfg *config.VLMConfig) *Client {
	return newClient(cfg, cfg.Endpoint)
}

// NewClientWithEndpoint creates a client pointing at a custom API endpoint (for testing).
func NewClientWithEndpoint(cfg *config.VLMConfig, endpoint string) *Client {
	return newClient(cfg, endpoint)
}

func newClient(cfg *config.VLMConfig, endpoint string) *Client {
	model := cfg.Model
	if model == "" {
		model = "qwen/qwen2.5-vl-72b-instruct"
	}
	if endpoint == "" {
		endpoint = apiURL
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		apiKey:   cfg.APIKey,
		model:    model,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Submit sends the image and extraction prompt to the model and returns the
// raw reply text. Network failures and timeouts are reported as
// *vlm.TransportError; HTTP 429 as *vlm.RateLimitError.
func (c *Client) Submit(ctx context.Context, input port.SubmitInput) (string, error) {
	dataURI := fmt.Sprintf("data:%s;base64,%s",
		input.ContentType, base64.StdEncoding.EncodeToString(input.ImageBytes))

	reqBody := map[string]interface{}{
		"model": c.model,
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": []map[string]interface{}{
					{
						"type":      "image_url",
						"image_url": map[string]interface{}{"url": dataURI},
					},
					{
						"type": "text",
						"text": vlm.BuildCodingPrompt(),
					},
				},
			},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", classifyTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransport(err)
	}

	if resp.StatusCode != http.StatusOK {
		baseErr := fmt.Errorf("openrouter API error (status %d): %s", resp.StatusCode, truncate(string(respBody), 300))
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := vlm.ParseRetryAfterHeader(resp.Header.Get("Retry-After"))
			return "", vlm.NewRateLimitError("openrouter", baseErr, retryAfter)
		}
		return "", &vlm.TransportError{Err: baseErr}
	}

	return extractContent(respBody)
}

// classifyTransport wraps a client-side error, flagging timeouts so callers
// can report them distinctly.
func classifyTransport(err error) error {
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout())
	return &vlm.TransportError{Err: err, Timeout: timeout}
}

// apiResponse models the OpenRouter chat-completions response.
type apiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func extractContent(body []byte) (string, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshaling response: %w (raw: %s)", err, truncate(string(body), 300))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from API: no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
