package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/hf-guideline-server/internal/domain"
)

// LLMConfig configures the narrative rendering client. The endpoint is any
// OpenAI-compatible chat completion API.
type LLMConfig struct {
	BaseURL   string        `json:"base_url"`
	APIKey    string        `json:"api_key"`
	Model     string        `json:"model"`
	Timeout   time.Duration `json:"timeout"`
	RateLimit int           `json:"rate_limit"` // requests per second
}

// LLMClient calls a chat completion endpoint to phrase the recommendation
// set as clinical narrative. It never invents content: the prompt carries
// the full structured set and instructs rephrasing only.
type LLMClient struct {
	config     LLMConfig
	httpClient *http.Client
	rateLimit  *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
}

// NewLLMClient creates a narrative rendering client.
func NewLLMClient(config LLMConfig) *LLMClient {
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-renderer",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	})

	return &LLMClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		breaker:   breaker,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

const systemPrompt = `You are a clinical documentation assistant. Rewrite the ` +
	`structured heart failure recommendation report below as flowing clinical ` +
	`narrative. Keep every recommendation, class, level of evidence, dose, and ` +
	`caveat exactly as given. Do not add, remove, or reorder recommendations.`

// Render phrases the static report as narrative. Any failure, including an
// open circuit breaker, returns a RenderError; the caller falls back to the
// static report.
func (c *LLMClient) Render(ctx context.Context, staticReport string) (string, error) {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return "", &domain.RenderError{Provider: "llm", Reason: err}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.complete(ctx, staticReport)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return "", &domain.RenderError{Provider: "llm", Reason: fmt.Errorf("service unavailable (circuit breaker open)")}
		}
		return "", &domain.RenderError{Provider: "llm", Reason: err}
	}
	return result.(string), nil
}

func (c *LLMClient) complete(ctx context.Context, report string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: report},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("chat completion returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode chat completion: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("chat completion returned no content")
	}
	return parsed.Choices[0].Message.Content, nil
}
