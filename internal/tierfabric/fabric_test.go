package tierfabric_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ardriveapp/turbo-upload-core/internal/breaker"
	"github.com/ardriveapp/turbo-upload-core/internal/errs"
	"github.com/ardriveapp/turbo-upload-core/internal/tierfabric"
)

func newFSOnlyFabric(t *testing.T) *tierfabric.TierFabric {
	t.Helper()
	return tierfabric.New(tierfabric.Config{
		MemLRUMaxEntries: 100,
		FSBaseDir:        t.TempDir(),
		Rates:            tierfabric.SamplingRates{FSBackup: 1.0},
	}, breaker.New())
}

func TestPutRawThenGetRawRoundTrips(t *testing.T) {
	f := newFSOnlyFabric(t)
	ctx := context.Background()

	committed, err := f.PutRaw(ctx, "item-1", []byte("hello world"), 0)
	if err != nil {
		t.Fatalf("PutRaw: %v", err)
	}
	if len(committed) != 1 || committed[0] != "fsBackup" {
		t.Fatalf("committed = %v, want [fsBackup]", committed)
	}

	raw, err := f.GetRaw(ctx, "item-1")
	if err != nil {
		t.Fatalf("GetRaw: %v", err)
	}
	if string(raw) != "hello world" {
		t.Fatalf("GetRaw = %q, want %q", raw, "hello world")
	}
}

func TestPutRawFailsDurabilityInvariantWithNoTiersConfigured(t *testing.T) {
	f := tierfabric.New(tierfabric.Config{MemLRUMaxEntries: 10}, breaker.New())
	_, err := f.PutRaw(context.Background(), "item-1", []byte("x"), 0)
	if !errors.Is(err, errs.ErrNoDurableStore) {
		t.Fatalf("err = %v, want ErrNoDurableStore", err)
	}
}

func TestGetRawNotFoundBeforeWrite(t *testing.T) {
	f := newFSOnlyFabric(t)
	_, err := f.GetRaw(context.Background(), "missing")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReadRangeSlicesStoredBytes(t *testing.T) {
	f := newFSOnlyFabric(t)
	ctx := context.Background()
	if _, err := f.PutRaw(ctx, "item-1", []byte("0123456789"), 0); err != nil {
		t.Fatalf("PutRaw: %v", err)
	}
	got, err := f.ReadRange(ctx, "item-1", 2, 5)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if string(got) != "2345" {
		t.Fatalf("ReadRange = %q, want %q", got, "2345")
	}
}

func TestMetadataAndOffsetsRoundTrip(t *testing.T) {
	f := newFSOnlyFabric(t)
	ctx := context.Background()

	m := &tierfabric.Metadata{PayloadContentType: "text/plain", PayloadDataStart: 42}
	if err := f.PutMetadata(ctx, "item-1", m, 0); err != nil {
		t.Fatalf("PutMetadata: %v", err)
	}
	got, err := f.GetMetadata(ctx, "item-1")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if *got != *m {
		t.Fatalf("GetMetadata = %+v, want %+v", got, m)
	}

	o := &tierfabric.NestedOffset{ParentID: "bundle-1", RawLen: 10, PayloadStart: 5}
	if err := f.PutOffsets(ctx, "item-2", o, 0); err != nil {
		t.Fatalf("PutOffsets: %v", err)
	}
	gotO, err := f.GetOffsets(ctx, "item-2")
	if err != nil {
		t.Fatalf("GetOffsets: %v", err)
	}
	if *gotO != *o {
		t.Fatalf("GetOffsets = %+v, want %+v", gotO, o)
	}
}

func TestQuarantineRemovesItemFromLiveReadPath(t *testing.T) {
	f := newFSOnlyFabric(t)
	ctx := context.Background()

	if _, err := f.PutRaw(ctx, "item-1", []byte("suspect"), 0); err != nil {
		t.Fatalf("PutRaw: %v", err)
	}
	if err := f.Quarantine(ctx, "item-1"); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	if _, err := f.GetRaw(ctx, "item-1"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("GetRaw after quarantine = %v, want ErrNotFound", err)
	}
}

func TestStateTracksLifecycleTransitions(t *testing.T) {
	f := newFSOnlyFabric(t)
	ctx := context.Background()

	if s := f.State("item-1"); s != tierfabric.StateAbsent {
		t.Fatalf("state before write = %v, want StateAbsent", s)
	}
	if _, err := f.PutRaw(ctx, "item-1", []byte("hello"), 0); err != nil {
		t.Fatalf("PutRaw: %v", err)
	}
	if s := f.State("item-1"); s != tierfabric.StateCommitted {
		t.Fatalf("state after write = %v, want StateCommitted", s)
	}
	if err := f.Quarantine(ctx, "item-1"); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	if s := f.State("item-1"); s != tierfabric.StateQuarantined {
		t.Fatalf("state after quarantine = %v, want StateQuarantined", s)
	}
}

func TestExistsReflectsCommittedWrites(t *testing.T) {
	f := newFSOnlyFabric(t)
	ctx := context.Background()

	if ok, _ := f.Exists(ctx, "item-1"); ok {
		t.Fatalf("Exists before write = true, want false")
	}
	if _, err := f.PutRaw(ctx, "item-1", []byte("x"), 0); err != nil {
		t.Fatalf("PutRaw: %v", err)
	}
	if ok, _ := f.Exists(ctx, "item-1"); !ok {
		t.Fatalf("Exists after write = false, want true")
	}
}
