package ledger

import (
	"errors"
	"testing"
	"time"

	domain "corapay/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerRegistry_PassesResultsThrough(t *testing.T) {
	reg := NewBreakerRegistry(DefaultBreakerSettings())

	out, err := reg.Execute("stripe", func() (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	boom := errors.New("boom")
	_, err = reg.Execute("stripe", func() (interface{}, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestBreakerRegistry_OpensAfterFailures(t *testing.T) {
	reg := NewBreakerRegistry(BreakerSettings{
		MaxRequests:      1,
		Interval:         time.Minute,
		Cooldown:         time.Minute,
		MinRequests:      3,
		FailureThreshold: 0.6,
	})

	boom := errors.New("provider down")
	for i := 0; i < 3; i++ {
		_, err := reg.Execute("stripe", func() (interface{}, error) {
			return nil, boom
		})
		assert.Error(t, err)
	}

	// Circuit is open now: calls short-circuit without invoking fn.
	called := false
	_, err := reg.Execute("stripe", func() (interface{}, error) {
		called = true
		return nil, nil
	})
	assert.True(t, errors.Is(err, domain.ErrProviderUnavailable))
	assert.False(t, called)
}

func TestBreakerRegistry_IsolatesProviders(t *testing.T) {
	reg := NewBreakerRegistry(BreakerSettings{
		MaxRequests:      1,
		Interval:         time.Minute,
		Cooldown:         time.Minute,
		MinRequests:      3,
		FailureThreshold: 0.6,
	})

	boom := errors.New("provider down")
	for i := 0; i < 3; i++ {
		reg.Execute("flaky", func() (interface{}, error) { return nil, boom })
	}

	_, err := reg.Execute("flaky", func() (interface{}, error) { return nil, nil })
	assert.True(t, errors.Is(err, domain.ErrProviderUnavailable))

	// The other provider's circuit is unaffected.
	out, err := reg.Execute("healthy", func() (interface{}, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}
