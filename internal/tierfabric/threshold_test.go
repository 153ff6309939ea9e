package tierfabric

import (
	"context"
	"testing"

	"github.com/ardriveapp/turbo-upload-core/internal/breaker"
)

// TestPutRawAboveThresholdSkipsMemAndRemoteCache exercises §4.C's small-item
// gate: an item larger than SmallItemThreshold must not land in memLRU (it
// never reaches remoteCache either, but this fixture has no Redis client to
// assert against directly) while still committing to a durable tier.
func TestPutRawAboveThresholdSkipsMemAndRemoteCache(t *testing.T) {
	f := New(Config{
		MemLRUMaxEntries:   100,
		FSBaseDir:          t.TempDir(),
		Rates:              SamplingRates{FSBackup: 1.0},
		SmallItemThreshold: 8,
	}, breaker.New())
	ctx := context.Background()

	big := []byte("this payload is well over the eight byte threshold")
	committed, err := f.PutRaw(ctx, "item-big", big, 0)
	if err != nil {
		t.Fatalf("PutRaw: %v", err)
	}
	if len(committed) != 1 || committed[0] != "fsBackup" {
		t.Fatalf("committed = %v, want [fsBackup]", committed)
	}
	if ok, _ := f.mem.Exists(ctx, rawKey("item-big")); ok {
		t.Fatalf("item above threshold should not be cached in memLRU")
	}

	small := []byte("tiny")
	if _, err := f.PutRaw(ctx, "item-small", small, 0); err != nil {
		t.Fatalf("PutRaw: %v", err)
	}
	if ok, _ := f.mem.Exists(ctx, rawKey("item-small")); !ok {
		t.Fatalf("item at or under threshold should be cached in memLRU")
	}
}

// TestNewAppliesDocThresholdDefaultAndOverride checks that the kvDoc-specific
// gate threshold defaults to smallItemDocThreshold and honors an explicit
// Config.DocThreshold override. kvDoc itself needs a live Mongo collection
// to exercise PutRaw's fan-out end to end, which is outside what these
// fixtures can construct, so this only pins down the threshold value
// PutRaw's `size <= f.docThreshold` gate reads.
func TestNewAppliesDocThresholdDefaultAndOverride(t *testing.T) {
	f := New(Config{MemLRUMaxEntries: 10}, breaker.New())
	if f.docThreshold != smallItemDocThreshold {
		t.Fatalf("docThreshold = %d, want default %d", f.docThreshold, smallItemDocThreshold)
	}

	f2 := New(Config{MemLRUMaxEntries: 10, DocThreshold: 4096}, breaker.New())
	if f2.docThreshold != 4096 {
		t.Fatalf("docThreshold = %d, want override 4096", f2.docThreshold)
	}
}
