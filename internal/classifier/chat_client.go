package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/encounter-scribe/internal/encounter"
	"github.com/lexiqai/encounter-scribe/internal/observability"
	"github.com/lexiqai/encounter-scribe/internal/resilience"
)

const systemPrompt = "You classify moments of a clinical visit. Reply with exactly one word: START, END, CONTINUE or WAIT."

// ChatConfig configures the chat-completions classifier
type ChatConfig struct {
	BaseURL string // e.g. https://api.openai.com/v1 or http://localhost:11434/v1
	APIKey  string
	Model   string
	Timeout time.Duration
}

// ChatClient classifies transcripts through an OpenAI-compatible
// chat-completions endpoint.
type ChatClient struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      *resilience.RetryConfig
	logger     zerolog.Logger
}

// chatRequest is the request payload for the chat-completions API
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewChatClient creates a chat-completions classifier
func NewChatClient(cfg ChatConfig, res Resilience) *ChatClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ChatClient{
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    res.newBreaker("classifier_chat"),
		retry:      res.Retry,
		logger:     observability.WithComponent("classifier_chat"),
	}
}

// Classify sends prompt and returns the verdict found in the reply
func (c *ChatClient) Classify(ctx context.Context, prompt string) (encounter.Verdict, error) {
	var verdict encounter.Verdict
	err := callProtected(ctx, c.breaker, c.retry, func(ctx context.Context) error {
		v, err := c.complete(ctx, prompt)
		if err != nil {
			return err
		}
		verdict = v
		return nil
	}, resilience.IsRetryableNetworkError)
	if err != nil {
		return "", fmt.Errorf("chat classifier: %w", err)
	}
	return verdict, nil
}

func (c *ChatClient) complete(ctx context.Context, prompt string) (encounter.Verdict, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("classifier API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return "", resilience.NewRetryableError(statusErr)
		}
		return "", statusErr
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	verdict, strategy, ok := extractVerdict(&parsed)
	if !ok {
		return "", ErrNoVerdict
	}
	c.logger.Debug().Str("verdict", string(verdict)).Str("source", strategy).Msg("Classifier verdict")
	return verdict, nil
}

// HealthCheck reports unhealthy while the breaker is open
func (c *ChatClient) HealthCheck(ctx context.Context) (bool, error) {
	if c.breaker.GetState() == resilience.StateOpen {
		return false, resilience.ErrCircuitOpen
	}
	return true, nil
}

// Close releases idle connections
func (c *ChatClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
