package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker"
)

// Settings tune when a breaker trips and for how long it stays open.
type Settings struct {
	// MinRequests is the number of requests that must be seen in the current
	// window before the breaker can trip.
	MinRequests uint32
	// FailureRatio is the share of failed requests that trips the breaker.
	FailureRatio float64
	// OpenTimeout is how long the breaker stays open before letting a trial request
	// request through.
	OpenTimeout time.Duration
	// Interval clears the counts of a closed breaker periodically. Zero never
	// clears them.
	Interval time.Duration
}

// DefaultSettings trip after more than 10 requests of which at least 60%
// failed.
var DefaultSettings = Settings{
	MinRequests:  10,
	FailureRatio: 0.6,
	OpenTimeout:  30 * time.Second,
	Interval:     5 * time.Minute,
}

// StateChangeFunc is notified every time a breaker changes state.
type StateChangeFunc func(name string, from, to gobreaker.State)

// New returns a breaker named after what it protects.
func New(
	name string, settings Settings, onStateChange StateChangeFunc,
) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:          name,
		Timeout:       settings.OpenTimeout,
		Interval:      settings.Interval,
		ReadyToTrip:   settings.readyToTrip,
		OnStateChange: onStateChange,
	})
}

func (s Settings) readyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests <= s.MinRequests {
		return false
	}
	ratio := float64(counts.TotalFailures) / float64(counts.Requests)
	return ratio >= s.FailureRatio
}
