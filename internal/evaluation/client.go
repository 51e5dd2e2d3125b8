package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"RevAI/internal/domain"
	"RevAI/internal/ports"
)

// RetryConfig controls how many extra attempts are made and how long to wait
// after rate-limit or transport failures.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig allows two retries with a one second base delay.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 2, InitialDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Client implements ports.Evaluator on top of a chat completion API.
type Client struct {
	chat         ports.ChatClient
	retry        RetryConfig
	logger       *slog.Logger
	defaultModel string
	sleep        func(ctx context.Context, d time.Duration) error
}

// Option customizes a Client.
type Option func(*Client)

// WithDefaultModel sets the model used when a settings row leaves it empty.
func WithDefaultModel(model string) Option {
	return func(c *Client) {
		c.defaultModel = model
	}
}

var _ ports.Evaluator = (*Client)(nil)

// NewClient wires the chat client. A nil chat client is a configuration error.
func NewClient(chat ports.ChatClient, retry RetryConfig, logger *slog.Logger, opts ...Option) (*Client, error) {
	if chat == nil {
		return nil, fmt.Errorf("%w: chat client is missing", domain.ErrNotConfigured)
	}
	if retry.MaxRetries < 0 {
		retry.MaxRetries = 0
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Client{chat: chat, retry: retry, logger: logger, sleep: sleepContext}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Evaluate asks the model for a decision, retrying malformed replies and
// provider errors. Once attempts are exhausted it returns an Unsure fallback
// with Fallback set instead of an error. Only configuration problems and
// context cancellation are returned as errors.
func (c *Client) Evaluate(ctx context.Context, title, abstract, criteria string, settings domain.AISettings) (domain.Evaluation, error) {
	model, err := c.resolveModel(settings)
	if err != nil {
		return domain.Evaluation{}, err
	}

	prompt := BuildPrompt(title, abstract, criteria, settings)
	req := ports.ChatRequest{
		Model:       model,
		System:      prompt.System,
		Prompt:      prompt.User,
		Temperature: settings.Temperature,
		MaxTokens:   settings.MaxTokens,
		Seed:        settings.Seed,
	}

	maxAttempts := c.retry.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		raw, err := c.chat.Complete(ctx, req)
		if err == nil {
			decision, explanation, perr := ParseResponse(raw)
			if perr == nil {
				return domain.Evaluation{Decision: decision, Explanation: explanation, Attempts: attempt}, nil
			}
			err = perr
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Evaluation{}, ctxErr
		}
		if errors.Is(err, domain.ErrNotConfigured) {
			return domain.Evaluation{}, err
		}

		lastErr = err
		c.logger.Warn("evaluation attempt failed",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", err)

		if attempt == maxAttempts {
			break
		}
		if errors.Is(err, ports.ErrChatRateLimited) || errors.Is(err, ports.ErrChatTransport) {
			if serr := c.sleep(ctx, c.backoff(attempt)); serr != nil {
				return domain.Evaluation{}, serr
			}
		}
	}

	return domain.Evaluation{
		Decision:    domain.DecisionUnsure,
		Explanation: fallbackNote(maxAttempts, lastErr),
		Attempts:    maxAttempts,
		Fallback:    true,
	}, nil
}

// Validate checks that a model can be chosen for settings.
func (c *Client) Validate(settings domain.AISettings) error {
	_, err := c.resolveModel(settings)
	return err
}

func (c *Client) resolveModel(settings domain.AISettings) (string, error) {
	if settings.Model != "" {
		return settings.Model, nil
	}
	if c.defaultModel != "" {
		return c.defaultModel, nil
	}
	return "", fmt.Errorf("%w: ai settings %d have no model and no default is set", domain.ErrNotConfigured, settings.ID)
}

// backoff doubles the initial delay for every completed attempt.
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.retry.InitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	if c.retry.MaxDelay > 0 && delay > c.retry.MaxDelay {
		return c.retry.MaxDelay
	}
	return delay
}

func fallbackNote(attempts int, err error) string {
	reason := "unknown"
	switch {
	case errors.Is(err, ErrMissingDecision):
		reason = "missing_decision"
	case errors.Is(err, ErrMissingExplanation):
		reason = "missing_explanation"
	case errors.Is(err, ports.ErrChatRateLimited):
		reason = "rate_limited"
	case errors.Is(err, ports.ErrChatTransport):
		reason = "transport_error"
	case err != nil:
		reason = "provider_error"
	}
	return fmt.Sprintf("evaluation_failed: reason=%s attempts=%d", reason, attempts)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
