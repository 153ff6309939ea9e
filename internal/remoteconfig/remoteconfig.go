// Package remoteconfig implements RemoteConfig (§4.G): typed key-to-number
// configuration refreshed from a remote source through a circuit breaker,
// with environment-variable overrides as the baseline and last-known-good
// values as the fallback when the remote source is unavailable.
package remoteconfig

import (
	"context"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ardriveapp/turbo-upload-core/internal/breaker"
	"github.com/ardriveapp/turbo-upload-core/internal/taskcounter"
)

// refreshTTL is the spec default (§4.G): cached values are reused for this
// long before the next Get performs a refresh attempt itself.
const refreshTTL = 3 * time.Minute

// Source fetches the latest remote values, keyed by Key name. A real
// implementation might call an internal config service; tests can supply
// any function.
type Source func(ctx context.Context) (map[Key]float64, error)

// RemoteConfig is a process-scoped configuration service; construct one
// with New and keep a reference, per the "no top-level mutable global
// state" design note (§9).
type RemoteConfig struct {
	v        *viper.Viper
	source   Source
	breakers *breaker.Registry
	log      *zap.Logger

	mu            sync.RWMutex
	lastKnownGood map[Key]float64
	lastFetchAt   time.Time

	subMu       sync.Mutex
	subscribers map[Key][]func(float64)
}

// New builds a RemoteConfig. source may be nil, in which case Get always
// falls back straight to defaults/env overrides (useful for local
// development and for components that don't need live tuning).
func New(source Source, breakers *breaker.Registry, log *zap.Logger) *RemoteConfig {
	if log == nil {
		log = zap.NewNop()
	}
	v := viper.New()
	for key, def := range defaultValue {
		v.SetDefault(string(key), def)
		if ev, ok := envVar[key]; ok {
			_ = v.BindEnv(string(key), ev)
		}
	}
	return &RemoteConfig{
		v:             v,
		source:        source,
		breakers:      breakers,
		log:           log,
		lastKnownGood: make(map[Key]float64),
		subscribers:   make(map[Key][]func(float64)),
	}
}

// baseline returns the env-override-or-default value for key, ignoring
// the remote source entirely; this is the final fallback tier.
func (r *RemoteConfig) baseline(key Key) float64 {
	return r.v.GetFloat64(string(key))
}

// Get returns the current value for key: the freshest successfully
// fetched remote value if one exists and the cache hasn't expired,
// otherwise it attempts a refresh (guarded by a circuit breaker), falling
// back to the last-known-good value and finally to the env/default
// baseline.
func (r *RemoteConfig) Get(ctx context.Context, key Key) float64 {
	r.maybeRefresh(ctx)

	r.mu.RLock()
	v, ok := r.lastKnownGood[key]
	r.mu.RUnlock()
	if ok {
		return v
	}
	return r.baseline(key)
}

func (r *RemoteConfig) maybeRefresh(ctx context.Context) {
	r.mu.RLock()
	stale := time.Since(r.lastFetchAt) >= refreshTTL
	r.mu.RUnlock()
	if !stale || r.source == nil {
		return
	}

	var fetched map[Key]float64
	err := r.breakers.Do(ctx, "remoteConfig", 5*time.Second, func(ctx context.Context) error {
		var ferr error
		fetched, ferr = r.source(ctx)
		return ferr
	})
	if err != nil {
		r.log.Warn("remoteconfig: refresh failed, using last-known-good/defaults", zap.Error(err))
		// Still bump lastFetchAt so a persistently broken source doesn't
		// retry on every single Get call; the breaker's own reset timeout
		// governs how soon a real retry happens.
		r.mu.Lock()
		r.lastFetchAt = time.Now()
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	changed := make(map[Key]float64, len(fetched))
	for k, v := range fetched {
		if old, ok := r.lastKnownGood[k]; !ok || old != v {
			changed[k] = v
		}
		r.lastKnownGood[k] = v
	}
	r.lastFetchAt = time.Now()
	r.mu.Unlock()

	for k, v := range changed {
		r.notify(k, v)
	}
}

// Subscribe registers callback to be invoked whenever key's value changes
// on a successful refresh. Each callback runs in its own goroutine; the
// refresh that saw the change (typically inside a caller's Get) waits up
// to 5s for the callbacks to return.
func (r *RemoteConfig) Subscribe(key Key, callback func(float64)) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subscribers[key] = append(r.subscribers[key], callback)
}

func (r *RemoteConfig) notify(key Key, value float64) {
	r.subMu.Lock()
	cbs := append([]func(float64){}, r.subscribers[key]...)
	r.subMu.Unlock()

	tc := taskcounter.New()
	for _, cb := range cbs {
		tc.StartTask()
		cb := cb
		go func() {
			defer tc.FinishTask()
			defer func() {
				if p := recover(); p != nil {
					r.log.Warn("remoteconfig: subscriber callback panicked", zap.Any("panic", p), zap.String("key", string(key)))
				}
			}()
			cb(value)
		}()
	}
	_ = tc.WaitForZero(5 * time.Second)
}
