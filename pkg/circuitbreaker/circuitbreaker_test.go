package circuitbreaker_test

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"

	"github.com/qortal/qortd/pkg/circuitbreaker"
)

var (
	errFoo  = errors.New("boom")
	failing = func() (interface{}, error) { return nil, errFoo }
	working = func() (interface{}, error) { return nil, nil }
)

func TestCircuitBreaker(t *testing.T) {
	t.Run("trips on failures", func(t *testing.T) {
		var changes []gobreaker.State
		cb := circuitbreaker.New(
			"test", circuitbreaker.DefaultSettings,
			func(_ string, _, to gobreaker.State) {
				changes = append(changes, to)
			},
		)

		for i := uint32(0); i <= circuitbreaker.DefaultSettings.MinRequests; i++ {
			_, err := cb.Execute(failing)
			require.ErrorIs(t, err, errFoo)
		}
		require.Equal(t, gobreaker.StateOpen, cb.State())
		require.Equal(t, []gobreaker.State{gobreaker.StateOpen}, changes)

		_, err := cb.Execute(working)
		require.ErrorIs(t, err, gobreaker.ErrOpenState)
	})

	t.Run("stays closed below the failure ratio", func(t *testing.T) {
		cb := circuitbreaker.New("test", circuitbreaker.DefaultSettings, nil)

		for i := 0; i < 30; i++ {
			fn := working
			if i%2 == 0 {
				fn = failing
			}
			// nolint
			cb.Execute(fn)
		}
		require.Equal(t, gobreaker.StateClosed, cb.State())
	})

	t.Run("half opens after timeout", func(t *testing.T) {
		settings := circuitbreaker.Settings{
			MinRequests:  1,
			FailureRatio: 1,
			OpenTimeout:  50 * time.Millisecond,
		}
		cb := circuitbreaker.New("test", settings, nil)

		for i := 0; i < 2; i++ {
			// nolint
			cb.Execute(failing)
		}
		require.Equal(t, gobreaker.StateOpen, cb.State())

		time.Sleep(2 * settings.OpenTimeout)
		require.Equal(t, gobreaker.StateHalfOpen, cb.State())

		_, err := cb.Execute(working)
		require.NoError(t, err)
		require.Equal(t, gobreaker.StateClosed, cb.State())
	})
}
