// Package openai is the OpenAI Chat Completions analysis provider.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"radar-backend/internal/analysis"
	"radar-backend/internal/llm"
	"radar-backend/internal/shared/telemetry"
)

// Name is the provider identifier used in chain config and metrics.
const Name = "openai"

const defaultBaseURL = "https://api.openai.com/v1"

// Options configures a Client.
type Options struct {
	APIKey        string
	Model         string
	BaseURL       string
	RatePerSecond float64
	Burst         int
	HTTPClient    *http.Client
}

// Client implements llm.Provider using OpenAI Chat Completions.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	limiter    *rate.Limiter
	httpClient *http.Client
}

// NewClient constructs a new OpenAI client. Per-call deadlines come from the
// caller's context, so the default http.Client carries no timeout of its own.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return nil, fmt.Errorf("OPENAI_MODEL is required")
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		apiKey:     opts.APIKey,
		model:      opts.Model,
		baseURL:    baseURL,
		limiter:    newLimiter(opts.RatePerSecond, opts.Burst),
		httpClient: httpClient,
	}, nil
}

func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    *float32       `json:"temperature,omitempty"`
	ResponseFormat responseFormat `json:"response_format"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (c *Client) Name() string { return Name }

// Analyze sends noteText to the model and decodes the structured result.
func (c *Client) Analyze(ctx context.Context, noteText string) (analysis.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return analysis.Result{}, llm.NewError(Name, llm.KindRateLimited, err)
	}

	messages := llm.BuildMessages(noteText)
	reqMessages := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		reqMessages = append(reqMessages, chatMessage{Role: m.Role, Content: m.Content})
	}
	reqBody := chatRequest{
		Model:          c.model,
		Messages:       reqMessages,
		ResponseFormat: responseFormat{Type: "json_object"},
	}
	// gpt-5 models only accept the default temperature.
	if !isGPT5(c.model) {
		temp := float32(0)
		reqBody.Temperature = &temp
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return analysis.Result{}, llm.NewError(Name, llm.KindUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return analysis.Result{}, llm.NewError(Name, llm.KindUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return analysis.Result{}, llm.Classify(Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return analysis.Result{}, llm.Classify(Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return analysis.Result{}, llm.FromStatus(Name, resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return analysis.Result{}, llm.NewError(Name, llm.KindMalformedResponse, fmt.Errorf("response parse: %w", err))
	}
	if parsed.Error != nil {
		return analysis.Result{}, llm.NewError(Name, llm.KindUnavailable, fmt.Errorf("%s (%s)", parsed.Error.Message, parsed.Error.Type))
	}
	if len(parsed.Choices) == 0 {
		return analysis.Result{}, llm.NewError(Name, llm.KindMalformedResponse, fmt.Errorf("response missing choices"))
	}
	logUsage(c.model, parsed)

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	result, err := analysis.Decode([]byte(content))
	if err != nil {
		return analysis.Result{}, llm.NewError(Name, llm.KindMalformedResponse, err)
	}
	return result, nil
}

func logUsage(model string, parsed chatResponse) {
	fields := map[string]any{"provider": Name, "model": model, "response_id": parsed.ID}
	if parsed.Usage != nil {
		fields["prompt_tokens"] = parsed.Usage.PromptTokens
		fields["completion_tokens"] = parsed.Usage.CompletionTokens
		fields["total_tokens"] = parsed.Usage.TotalTokens
	}
	telemetry.Debug("llm.response", fields)
}

func isGPT5(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "gpt-5")
}

var _ llm.Provider = (*Client)(nil)
