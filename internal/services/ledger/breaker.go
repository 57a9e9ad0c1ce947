package ledger

import (
	"errors"
	"log"
	"sync"
	"time"

	domain "corapay/internal/errors"

	"github.com/sony/gobreaker"
)

// BreakerExecutor wraps external provider calls. An open circuit surfaces as
// ErrProviderUnavailable, which the orchestrator turns into an immediate
// FAILED + reversal rather than a hang.
type BreakerExecutor interface {
	Execute(name string, fn func() (interface{}, error)) (interface{}, error)
}

// BreakerSettings tunes the per-provider circuit breakers.
type BreakerSettings struct {
	MaxRequests      uint32        // probes allowed while half-open
	Interval         time.Duration // rolling window for failure counts
	Cooldown         time.Duration // open duration before probing again
	MinRequests      uint32        // samples required before tripping
	FailureThreshold float64       // failure ratio that trips the breaker
}

// DefaultBreakerSettings trips a provider after 60% failures over at least
// five calls and probes again after 30 seconds.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:      1,
		Interval:         time.Minute,
		Cooldown:         30 * time.Second,
		MinRequests:      5,
		FailureThreshold: 0.6,
	}
}

// BreakerRegistry holds one circuit breaker per provider, created lazily.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings BreakerSettings
}

func NewBreakerRegistry(settings BreakerSettings) *BreakerRegistry {
	if settings.FailureThreshold <= 0 {
		settings = DefaultBreakerSettings()
	}
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: settings,
	}
}

func (r *BreakerRegistry) Execute(name string, fn func() (interface{}, error)) (interface{}, error) {
	out, err := r.breaker(name).Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.ErrProviderUnavailable.Wrap(err)
		}
		return nil, err
	}
	return out, nil
}

func (r *BreakerRegistry) breaker(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	s := r.settings
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("circuit breaker %s: %s -> %s", name, from, to)
		},
	})
	r.breakers[name] = cb
	return cb
}
