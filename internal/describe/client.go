package describe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const systemPrompt = `You document source code. For every function you are given, return a JSON array where each element has the fields: full_name, short_description (one sentence), input_output_description (parameters and return value), long_description (a short paragraph), and components. components is an array of {start_line, end_line, short_description, long_description} covering the function's logical blocks, with line numbers relative to the function where the definition line is line 1. Leave components empty for trivial functions. Return only the JSON array.`

// ClientConfig configures the chat-completions client.
type ClientConfig struct {
	BaseURL    string // endpoint root, e.g. https://api.openai.com/v1
	APIKey     string
	Model      string
	MaxRetries int           // retries per batch on retryable failures, default 3
	RateLimit  rate.Limit    // requests per second, default 2
	Timeout    time.Duration // per-request timeout, default 120s
	Logger     *slog.Logger
}

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient builds a Client with sane defaults filled in.
func NewClient(cfg ClientConfig) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(cfg.RateLimit, 1),
		logger:     cfg.Logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// DescribeBatch sends one batch to the model and parses its JSON reply.
func (c *Client) DescribeBatch(ctx context.Context, req BatchRequest) ([]FunctionDescription, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(req)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("describe.retry", "attempt", attempt, "error", lastErr)
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		content, retryable, err := c.send(ctx, body)
		if err == nil {
			return parseDescriptions(content)
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("describe batch: %w", lastErr)
}

func (c *Client) send(ctx context.Context, body []byte) (content string, retryable bool, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", true, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", false, fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", false, fmt.Errorf("response has no choices")
	}
	return parsed.Choices[0].Message.Content, false, nil
}

func buildPrompt(req BatchRequest) string {
	var b strings.Builder
	if req.NamesOnly {
		b.WriteString("Describe these functions from their names and signatures alone:\n\n")
		for _, d := range req.Functions {
			fmt.Fprintf(&b, "%s(%s)\n", d.FullName(), strings.Join(d.ParamOrder, ", "))
		}
		return b.String()
	}
	b.WriteString("Describe these functions:\n")
	for _, d := range req.Functions {
		fmt.Fprintf(&b, "\n### %s\n```\n%s\n```\n", d.FullName(), d.Source())
	}
	return b.String()
}

// parseDescriptions tolerates a code fence around the JSON array.
func parseDescriptions(content string) ([]FunctionDescription, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	var out []FunctionDescription
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &out); err != nil {
		return nil, fmt.Errorf("decoding descriptions: %w", err)
	}
	return out, nil
}

func sleepBackoff(ctx context.Context, attempt int) error {
	delay := time.Second << (attempt - 1)
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
