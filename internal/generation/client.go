// Package generation talks to the text-generation provider and turns its JSON
// output into site artifacts.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrFailed              = errors.New("generation failed")
	ErrTimeout             = errors.New("generation timed out")
	ErrProviderRateLimited = fmt.Errorf("%w: provider rate limited", ErrFailed)
	ErrNotConfigured       = fmt.Errorf("%w: provider not configured", ErrFailed)
)

type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	// Timeout bounds the whole call, including time spent waiting on the
	// outbound throttle. Zero uses the client default.
	Timeout time.Duration
}

type Result struct {
	JSON       json.RawMessage
	TokensUsed int
	CostUSD    float64
	Model      string
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

type Options struct {
	BaseURL        string
	APIKey         string
	Model          string
	Timeout        time.Duration
	RequestsPerSec float64
	CostPer1K      float64
}

type Client struct {
	baseURL   string
	apiKey    string
	model     string
	timeout   time.Duration
	costPer1K float64
	limiter   *rate.Limiter
	http      *http.Client
}

func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	limit := rate.Inf
	if opts.RequestsPerSec > 0 {
		limit = rate.Limit(opts.RequestsPerSec)
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		apiKey:    opts.APIKey,
		model:     opts.Model,
		timeout:   timeout,
		costPer1K: opts.CostPer1K,
		limiter:   rate.NewLimiter(limit, 1),
		http:      &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *Client) Generate(ctx context.Context, req Request) (Result, error) {
	if c.baseURL == "" || c.apiKey == "" {
		return Result{}, ErrNotConfigured
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Wait fails early when the throttle delay would outlast the deadline.
	if err := c.limiter.Wait(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return Result{}, fmt.Errorf("%w: %v", ErrFailed, err)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: encode request: %v", ErrFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("%w: build request: %v", ErrFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, classify(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Result{}, fmt.Errorf("%w (status %d)", ErrProviderRateLimited, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("%w: provider status %d: %s", ErrFailed, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctxErr := classify(ctx, err); errors.Is(ctxErr, ErrTimeout) {
			return Result{}, ctxErr
		}
		return Result{}, fmt.Errorf("%w: decode response: %v", ErrFailed, err)
	}
	if len(out.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: empty response", ErrFailed)
	}
	content := strings.TrimSpace(stripFence(out.Choices[0].Message.Content))
	if !json.Valid([]byte(content)) {
		return Result{}, fmt.Errorf("%w: provider returned invalid JSON", ErrFailed)
	}

	model := out.Model
	if model == "" {
		model = c.model
	}
	return Result{
		JSON:       json.RawMessage(content),
		TokensUsed: out.Usage.TotalTokens,
		CostUSD:    float64(out.Usage.TotalTokens) / 1000 * c.costPer1K,
		Model:      model,
	}, nil
}

// classify maps transport errors onto ErrTimeout or ErrFailed.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrFailed, err)
}

// stripFence removes a markdown code fence some models wrap JSON in.
func stripFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	return strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
}
