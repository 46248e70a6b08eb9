package streammux

import (
	"context"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerOpener wraps Mux.Open with a circuit breaker so that repeated
// transport failures (a flaky network, an upstream outage) stop the
// orchestrator from hammering a dead endpoint with reconnect attempts;
// once tripped, Open fails fast with gobreaker.ErrOpenState until the
// breaker's cooldown elapses and it allows a single trial connection
// through.
type BreakerOpener struct {
	mux     *Mux
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerOpener wraps mux with a breaker that trips after
// consecutiveFailures back-to-back failed Open calls (any error Open
// returns counts, not only StreamError{transport}) and stays open for
// cooldown before allowing a half-open trial.
func NewBreakerOpener(mux *Mux, consecutiveFailures uint32, cooldown time.Duration) *BreakerOpener {
	st := gobreaker.Settings{
		Name:    "streammux",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
	}
	return &BreakerOpener{
		mux:     mux,
		breaker: gobreaker.NewCircuitBreaker[struct{}](st),
	}
}

// Open attempts to open the underlying mux through the circuit breaker.
func (b *BreakerOpener) Open(ctx context.Context, url string, headers http.Header, cfg HandshakeConfig, deadline time.Duration) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.mux.Open(ctx, url, headers, cfg, deadline)
	})
	return err
}

// Mux returns the wrapped Mux for direct use (Subscribe, AwaitInitial,
// Close) once Open has succeeded.
func (b *BreakerOpener) Mux() *Mux { return b.mux }
