package analysis

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Model selection constants.
const (
	// ModelSonnet is the high-end model for enrichment calls
	ModelSonnet = "claude-sonnet-4-5-20250929"

	// ModelHaiku is the cost-efficient model for simple extraction
	ModelHaiku = "claude-3-5-haiku-20241022"
)

// GetDefaultModel returns the default model, checking PRISM_MODEL env var first
func GetDefaultModel() string {
	if model := os.Getenv("PRISM_MODEL"); model != "" {
		return model
	}
	return ModelSonnet
}

// Completer is the narrow surface enrichment services call the model through.
// It exists so services can be exercised against fakes in tests.
type Completer interface {
	// Complete sends one prompt and returns the model's text reply plus
	// token usage. The operation name is used for logging only.
	Complete(ctx context.Context, operation, prompt string) (string, Usage, error)

	// Cost values a call's token usage in USD for the configured model.
	Cost(u Usage) float64
}

// ClientConfig holds configuration for the Anthropic client
type ClientConfig struct {
	// APIKey is the Anthropic API key. If empty, reads from ANTHROPIC_API_KEY env var
	APIKey string

	// Model is the model identifier to use (default: GetDefaultModel())
	Model string

	// MaxTokens caps the length of each reply (default: 4096)
	MaxTokens int64

	// Retry holds resilience settings (default: DefaultRetryConfig())
	Retry RetryConfig
}

// Client calls the Anthropic API with retries, a circuit breaker, a rate
// limiter, and a cap on concurrent in-flight calls. It is safe for use from
// multiple goroutines.
type Client struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	retry     RetryConfig
	breaker   *CircuitBreaker
	sem       *semaphore.Weighted
	limiter   *rate.Limiter
	pricing   ModelPricing
}

var _ Completer = (*Client)(nil)

// NewClient creates a new Anthropic-backed Client
func NewClient(cfg ClientConfig) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic API key not provided and ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = GetDefaultModel()
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	// Use default retry config if not specified
	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	var breaker *CircuitBreaker
	if retry.CircuitBreakerEnabled {
		breaker = NewCircuitBreaker(
			retry.FailureThreshold,
			retry.SuccessThreshold,
			retry.OpenTimeout,
		)
		log.Printf("[AI] circuit breaker initialized: threshold=%d failures, recovery=%d successes, timeout=%v",
			retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
	}

	var sem *semaphore.Weighted
	if retry.MaxConcurrentCalls > 0 {
		sem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}

	var limiter *rate.Limiter
	if retry.RequestsPerSecond > 0 {
		burst := retry.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(retry.RequestsPerSecond), burst)
	}

	return &Client{
		client:    &client,
		model:     model,
		maxTokens: maxTokens,
		retry:     retry,
		breaker:   breaker,
		sem:       sem,
		limiter:   limiter,
		pricing:   PricingFor(model),
	}, nil
}

// Complete sends one prompt to the model and returns the reply text
func (c *Client) Complete(ctx context.Context, operation, prompt string) (string, Usage, error) {
	var response *anthropic.Message
	err := c.withRetry(ctx, operation, func(attemptCtx context.Context) error {
		resp, apiErr := c.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: c.maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("anthropic API call failed: %w", err)
	}

	// Extract the text content from the response
	var text string
	for _, block := range response.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	usage := Usage{
		InputTokens:  response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
	}
	return text, usage, nil
}

// Cost values token usage in USD at the configured model's pricing
func (c *Client) Cost(u Usage) float64 {
	return c.pricing.Cost(u)
}

// Model returns the configured model identifier
func (c *Client) Model() string {
	return c.model
}

// HealthCheck reports whether the client can accept calls right now.
// Returns an error if the circuit breaker is open.
func (c *Client) HealthCheck() error {
	if c.breaker == nil {
		return nil
	}
	state, failures, _ := c.breaker.GetMetrics()
	switch state {
	case CircuitOpen:
		return fmt.Errorf("analysis client unavailable: %w (failures=%d, retry in %v)",
			ErrCircuitOpen, failures, c.retry.OpenTimeout)
	case CircuitHalfOpen:
		log.Printf("[AI] circuit breaker half-open, probing for recovery")
	}
	return nil
}
