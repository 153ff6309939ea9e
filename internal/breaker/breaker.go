// Package breaker provides a small process-scoped circuit-breaker registry
// over sony/gobreaker, used by every guarded tier (remoteCache, kvDoc,
// fsBackup, blobStore) and by RemoteConfig's fetch path. It is an explicit,
// init'd/shutdown'able service rather than a package-level singleton, per
// the "no top-level mutable global state" design note (§9).
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned when a breaker is open and a call is rejected without
// being attempted.
var ErrOpen = gobreaker.ErrOpenState

// Settings configures one named breaker.
type Settings struct {
	Name             string
	Timeout          time.Duration // nominal per-call timeout; Registry.Do applies its own timeout argument instead
	ErrorThreshold   float64       // fraction of failures that trips the breaker, e.g. 0.5
	ConsecutiveTrips uint32        // minimum requests observed before ErrorThreshold is evaluated
	ResetTimeout     time.Duration // how long the breaker stays open before probing half-open
}

// DefaultSettings returns the spec's default breaker parameters (§4.C):
// timeout in [3,10]s (we use 5s), 50% error threshold, 30s reset.
func DefaultSettings(name string) Settings {
	return Settings{
		Name:             name,
		Timeout:          5 * time.Second,
		ErrorThreshold:   0.5,
		ConsecutiveTrips: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// Registry holds the named breakers for a running process. Construct one
// with New at startup and Shutdown it on exit; never reach for a package
// singleton.
type Registry struct {
	breakers map[string]*gobreaker.CircuitBreaker
}

// New builds a Registry, one gobreaker.CircuitBreaker per setting.
func New(settings ...Settings) *Registry {
	r := &Registry{breakers: make(map[string]*gobreaker.CircuitBreaker, len(settings))}
	for _, s := range settings {
		s := s
		r.breakers[s.Name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    s.Name,
			Timeout: s.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < s.ConsecutiveTrips {
					return false
				}
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRatio >= s.ErrorThreshold
			},
		})
	}
	return r
}

// Do runs fn through the named breaker with a per-call timeout. If the
// breaker for name is unknown, fn runs unguarded (fail open on
// misconfiguration rather than silently dropping every call).
func (r *Registry) Do(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	cb, ok := r.breakers[name]
	if !ok {
		return fn(ctx)
	}
	_, err := cb.Execute(func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return nil, fn(cctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) {
		return ErrOpen
	}
	return err
}

// Open reports whether the named breaker is currently open. Unknown names
// report closed (available).
func (r *Registry) Open(name string) bool {
	cb, ok := r.breakers[name]
	if !ok {
		return false
	}
	return cb.State() == gobreaker.StateOpen
}

// Shutdown releases registry resources. gobreaker holds no background
// goroutines, so this is a no-op placeholder kept for symmetry with other
// process-scoped services (RemoteConfig) that do need explicit teardown.
func (r *Registry) Shutdown() {}
