package classifier

import (
	"context"
	"errors"
	"time"

	"github.com/lexiqai/encounter-scribe/internal/encounter"
	"github.com/lexiqai/encounter-scribe/internal/observability"
	"github.com/lexiqai/encounter-scribe/internal/resilience"
)

// ErrNoVerdict is returned when a response holds none of the verdict words
var ErrNoVerdict = errors.New("classifier response contained no verdict")

// Client is a classifier adapter the service can health check and close
type Client interface {
	encounter.Classifier
	HealthCheck(ctx context.Context) (bool, error)
	Close() error
}

// Resilience bundles the retry and breaker settings shared by the adapters
type Resilience struct {
	Retry        *resilience.RetryConfig
	MaxFailures  int
	ResetTimeout time.Duration
}

// DefaultResilience retries once and opens after five consecutive failures
func DefaultResilience() Resilience {
	return Resilience{
		Retry:        resilience.DefaultRetryConfig(),
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
	}
}

func (r Resilience) newBreaker(name string) *resilience.CircuitBreaker {
	cb := resilience.NewCircuitBreaker(name, r.MaxFailures, r.ResetTimeout)
	cb.OnStateChange = func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
		logger := observability.WithComponent("classifier")
		logger.Warn().
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Circuit breaker state changed")
	}
	observability.UpdateCircuitBreakerState(name, int(resilience.StateClosed))
	return cb
}

// callProtected runs fn with retries inside the breaker and records failures.
func callProtected(ctx context.Context, cb *resilience.CircuitBreaker, retry *resilience.RetryConfig, fn resilience.RetryableFunc, isRetryable resilience.IsRetryableError) error {
	err := cb.Call(func() error {
		return resilience.Retry(ctx, fn, retry, isRetryable)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		observability.IncrementCircuitBreakerFailures(cb.Name())
	}
	return err
}
