// Package anthropic is the Anthropic Messages API analysis provider.
package anthropic

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
const Name = "anthropic"

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
	maxTokens      = 2048
)

// Options configures a Client.
type Options struct {
	APIKey        string
	Model         string
	BaseURL       string
	RatePerSecond float64
	Burst         int
	HTTPClient    *http.Client
}

// Client implements llm.Provider using the Messages API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	limiter    *rate.Limiter
	httpClient *http.Client
}

// NewClient constructs a new Anthropic client.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, fmt.Errorf("ANTHROPIC_MODEL is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		apiKey:     opts.APIKey,
		model:      opts.Model,
		baseURL:    baseURL,
		limiter:    limiter,
		httpClient: httpClient,
	}, nil
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type apiError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) Name() string { return Name }

// Analyze sends noteText to Claude and decodes the structured result.
func (c *Client) Analyze(ctx context.Context, noteText string) (analysis.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return analysis.Result{}, llm.NewError(Name, llm.KindRateLimited, err)
	}

	req := messagesRequest{Model: c.model, MaxTokens: maxTokens}
	for _, m := range llm.BuildMessages(noteText) {
		if m.Role == "system" {
			req.System = m.Content
			continue
		}
		req.Messages = append(req.Messages, message{Role: m.Role, Content: m.Content})
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return analysis.Result{}, llm.NewError(Name, llm.KindUnavailable, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return analysis.Result{}, llm.NewError(Name, llm.KindUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return analysis.Result{}, llm.Classify(Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return analysis.Result{}, llm.Classify(Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		detail := string(body)
		var errResp apiError
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			detail = errResp.Error.Type + ": " + errResp.Error.Message
		}
		// 529 is Anthropic's overloaded status.
		return analysis.Result{}, llm.FromStatus(Name, resp.StatusCode, detail)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return analysis.Result{}, llm.NewError(Name, llm.KindMalformedResponse, fmt.Errorf("response parse: %w", err))
	}
	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	telemetry.Debug("llm.response", map[string]any{
		"provider":      Name,
		"model":         c.model,
		"response_id":   parsed.ID,
		"stop_reason":   parsed.StopReason,
		"input_tokens":  parsed.Usage.InputTokens,
		"output_tokens": parsed.Usage.OutputTokens,
	})

	result, err := analysis.Decode([]byte(stripFences(text.String())))
	if err != nil {
		return analysis.Result{}, llm.NewError(Name, llm.KindMalformedResponse, err)
	}
	return result, nil
}

// stripFences removes a surrounding markdown code fence if the model added one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

var _ llm.Provider = (*Client)(nil)
