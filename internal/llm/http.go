package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/extremecoder-rgb/JeevanSetu/internal/core"
)

// DefaultBaseURL is Gemini's OpenAI-compatible endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

// Chat API types (OpenAI-compatible)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type Choice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      ChatMessage `json:"message"`
}

type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// HTTPBackend calls an OpenAI-compatible chat completions endpoint.
type HTTPBackend struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPBackend creates a backend for baseURL, or DefaultBaseURL if empty.
// Per-call deadlines come from the request context.
func NewHTTPBackend(baseURL string) *HTTPBackend {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTPBackend{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
	}
}

func (b *HTTPBackend) Generate(ctx context.Context, req Request) (string, error) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(ChatCompletionRequest{
		Model:       req.Model,
		Messages:    []ChatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}); err != nil {
		return "", core.NewCallError(core.FailMalformed, "encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+"/chat/completions", buf)
	if err != nil {
		return "", core.NewCallError(core.FailMalformed, "build request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.Credential)
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := b.HTTPClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", core.NewCallError(core.FailTimeout, "request timed out", err)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", core.NewCallError(core.FailUnavailable, "request failed", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", core.NewCallError(statusFailure(res.StatusCode), fmt.Sprintf("status %d: %s", res.StatusCode, errorMessage(body)), nil)
	}

	var cr ChatCompletionResponse
	if err := json.NewDecoder(res.Body).Decode(&cr); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", core.NewCallError(core.FailTimeout, "response timed out", err)
		}
		return "", core.NewCallError(core.FailEmpty, "unreadable response body", err)
	}
	if len(cr.Choices) == 0 || strings.TrimSpace(cr.Choices[0].Message.Content) == "" {
		return "", core.NewCallError(core.FailEmpty, "response has no content", nil)
	}
	return cr.Choices[0].Message.Content, nil
}

func statusFailure(status int) core.CallFailure {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return core.FailAuth
	case status == http.StatusNotFound:
		return core.FailInvalidModel
	case status == http.StatusTooManyRequests:
		return core.FailRateLimited
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return core.FailTimeout
	case status >= 500:
		return core.FailUnavailable
	default:
		return core.FailMalformed
	}
}

func errorMessage(body []byte) string {
	var ae apiError
	if err := json.Unmarshal(body, &ae); err == nil && ae.Error.Message != "" {
		return ae.Error.Message
	}
	if len(body) == 0 {
		return "no body"
	}
	return strings.TrimSpace(string(body))
}
