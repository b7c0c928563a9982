package gmail

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/teemow/mailbridge/internal/instrumentation"
)

// BreakerSettings tunes the circuit breaker shared by all Gmail clients of
// a Service.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker once exceeded.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	// Interval resets the failure counts while closed.
	Interval time.Duration
	// HalfOpenRequests is the number of probe requests allowed when half-open.
	HalfOpenRequests uint32
}

// DefaultBreakerSettings returns the production breaker tuning.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		Interval:            60 * time.Second,
		HalfOpenRequests:    3,
	}
}

func newBreaker(s BreakerSettings, logger *slog.Logger, metrics *instrumentation.Metrics) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: s.HalfOpenRequests,
		Interval:    s.Interval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures > s.ConsecutiveFailures {
				return true
			}
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			metrics.RecordBreakerTransition(context.Background(), to.String())
		},
		IsSuccessful: func(err error) bool {
			return !countsAsFailure(err)
		},
	})
}
