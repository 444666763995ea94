package classifier

import (
	"fmt"
	"time"

	"github.com/lexiqai/encounter-scribe/internal/config"
	"github.com/lexiqai/encounter-scribe/internal/resilience"
)

// NewFromConfig builds the adapter selected by CLASSIFIER_MODE.
// It returns nil for mode none.
func NewFromConfig(cfg *config.Config) (Client, error) {
	res := Resilience{
		Retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        2 * time.Second,
			BackoffMultiplier: 2.0,
		},
		MaxFailures:  cfg.CircuitBreakerMaxFailures,
		ResetTimeout: time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second,
	}

	switch cfg.ClassifierMode {
	case config.ClassifierModeChat:
		return NewChatClient(ChatConfig{
			BaseURL: cfg.ClassifierURL,
			APIKey:  cfg.ClassifierAPIKey,
			Model:   cfg.ClassifierModel,
			Timeout: cfg.ClassifierTimeoutDuration(),
		}, res), nil
	case config.ClassifierModeGRPC:
		return NewGRPCClient(cfg.ClassifierURL, res)
	case config.ClassifierModeNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown classifier mode %q", cfg.ClassifierMode)
	}
}
