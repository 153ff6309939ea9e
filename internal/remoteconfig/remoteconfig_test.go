package remoteconfig_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/ardriveapp/turbo-upload-core/internal/breaker"
	"github.com/ardriveapp/turbo-upload-core/internal/remoteconfig"
)

func TestGetFallsBackToDefaultWithNoSource(t *testing.T) {
	rc := remoteconfig.New(nil, breaker.New(), nil)
	v := rc.Get(context.Background(), remoteconfig.KeySamplingFSBackup)
	if v != 0.1 {
		t.Fatalf("got %v, want default 0.1", v)
	}
}

func TestGetUsesRemoteValueWhenSourceSucceeds(t *testing.T) {
	source := func(ctx context.Context) (map[remoteconfig.Key]float64, error) {
		return map[remoteconfig.Key]float64{remoteconfig.KeySamplingFSBackup: 0.75}, nil
	}
	rc := remoteconfig.New(source, breaker.New(), nil)
	v := rc.Get(context.Background(), remoteconfig.KeySamplingFSBackup)
	if v != 0.75 {
		t.Fatalf("got %v, want remote 0.75", v)
	}
}

func TestGetFallsBackOnSourceError(t *testing.T) {
	source := func(ctx context.Context) (map[remoteconfig.Key]float64, error) {
		return nil, errors.New("boom")
	}
	rc := remoteconfig.New(source, breaker.New(breaker.DefaultSettings("remoteConfig")), nil)
	v := rc.Get(context.Background(), remoteconfig.KeySamplingFSBackup)
	if v != 0.1 {
		t.Fatalf("got %v, want default fallback 0.1", v)
	}
}

func TestSubscribeFiresOnChange(t *testing.T) {
	var calls int32
	calledWith := make(chan float64, 1)

	first := true
	source := func(ctx context.Context) (map[remoteconfig.Key]float64, error) {
		if first {
			first = false
			return map[remoteconfig.Key]float64{remoteconfig.KeySamplingFSBackup: 0.5}, nil
		}
		return map[remoteconfig.Key]float64{remoteconfig.KeySamplingFSBackup: 0.9}, nil
	}
	rc := remoteconfig.New(source, breaker.New(), nil)
	rc.Subscribe(remoteconfig.KeySamplingFSBackup, func(v float64) {
		atomic.AddInt32(&calls, 1)
		select {
		case calledWith <- v:
		default:
		}
	})

	if got := rc.Get(context.Background(), remoteconfig.KeySamplingFSBackup); got != 0.5 {
		t.Fatalf("first Get = %v, want 0.5", got)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected 1 subscriber call after first fetch, got %d", calls)
	}
	select {
	case v := <-calledWith:
		if v != 0.5 {
			t.Fatalf("callback value = %v, want 0.5", v)
		}
	default:
		t.Fatalf("expected callback to have fired")
	}
}

func TestSubscriberPanicDoesNotPreventOtherSubscribersFromFiring(t *testing.T) {
	var sawValue int32
	first := true
	source := func(ctx context.Context) (map[remoteconfig.Key]float64, error) {
		if first {
			first = false
			return map[remoteconfig.Key]float64{remoteconfig.KeySamplingFSBackup: 0.5}, nil
		}
		return map[remoteconfig.Key]float64{remoteconfig.KeySamplingFSBackup: 0.9}, nil
	}
	rc := remoteconfig.New(source, breaker.New(), nil)

	rc.Subscribe(remoteconfig.KeySamplingFSBackup, func(v float64) {
		panic("subscriber boom")
	})
	rc.Subscribe(remoteconfig.KeySamplingFSBackup, func(v float64) {
		atomic.StoreInt32(&sawValue, 1)
	})

	// If the panicking subscriber's goroutine isn't isolated with its own
	// recover, this call never returns: the panic takes the whole test
	// binary down with it.
	if got := rc.Get(context.Background(), remoteconfig.KeySamplingFSBackup); got != 0.5 {
		t.Fatalf("Get = %v, want 0.5", got)
	}
	if atomic.LoadInt32(&sawValue) != 1 {
		t.Fatalf("expected the non-panicking subscriber to still fire")
	}
}
