package ingest_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ardriveapp/turbo-upload-core/internal/breaker"
	"github.com/ardriveapp/turbo-upload-core/internal/dataitem"
	"github.com/ardriveapp/turbo-upload-core/internal/errs"
	"github.com/ardriveapp/turbo-upload-core/internal/ingest"
	"github.com/ardriveapp/turbo-upload-core/internal/tierfabric"
)

// buildSignedItem assembles a minimal, well-formed, Ed25519-signed ANS-104
// item with no target/anchor/tags, mirroring the wire construction in the
// dataitem package's own tests. buildSignedItemWithHeaderLen additionally
// returns headerLen, the byte offset where payload begins, letting callers
// split raw at the boundary between header fields and payload bytes.
func buildSignedItem(t *testing.T, payload []byte) (raw []byte, id string) {
	raw, id, _ = buildSignedItemWithHeaderLen(t, payload)
	return raw, id
}

func buildSignedItemWithHeaderLen(t *testing.T, payload []byte) (raw []byte, id string, headerLen int) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	sigTypeBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(sigTypeBytes, uint16(dataitem.SigTypeSolana))

	tagsBytes, err := dataitem.SerializeTags(nil)
	if err != nil {
		t.Fatal(err)
	}

	digest := dataitem.DeepHash(sigTypeBytes, []byte(pub), nil, nil, tagsBytes, payload)
	sig := ed25519.Sign(priv, digest)
	idArr := sha256.Sum256(sig)

	var buf bytes.Buffer
	buf.Write(sigTypeBytes)
	buf.Write(sig)
	buf.Write([]byte(pub))
	buf.WriteByte(0) // no target
	buf.WriteByte(0) // no anchor
	numTags := make([]byte, 8)
	buf.Write(numTags)
	numTagsBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(numTagsBytes, uint64(len(tagsBytes)))
	buf.Write(numTagsBytes)
	buf.Write(tagsBytes)
	headerLen = buf.Len()
	buf.Write(payload)

	return buf.Bytes(), hexEncode(idArr[:]), headerLen
}

func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexdigits[v>>4]
		out[i*2+1] = hexdigits[v&0xf]
	}
	return string(out)
}

func newTestFabric(t *testing.T) *tierfabric.TierFabric {
	t.Helper()
	return tierfabric.New(tierfabric.Config{
		MemLRUMaxEntries: 100,
		FSBaseDir:        t.TempDir(),
		Rates:            tierfabric.SamplingRates{FSBackup: 1.0},
	}, breaker.New())
}

func TestIngestValidItemCommits(t *testing.T) {
	fabric := newTestFabric(t)
	coord := ingest.New(fabric, zap.NewNop())

	raw, wantID := buildSignedItem(t, []byte("hello turbo"))

	res, err := coord.Ingest(context.Background(), bytes.NewReader(raw), -1)
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected OK=true")
	}
	if res.ID != wantID {
		t.Fatalf("id mismatch: got %s want %s", res.ID, wantID)
	}
	if len(res.StoresCommitted) == 0 {
		t.Fatalf("expected at least one durable store committed")
	}

	stored, err := fabric.GetRaw(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("GetRaw after ingest: %v", err)
	}
	if !bytes.Equal(stored, raw) {
		t.Fatalf("stored bytes differ from input")
	}
}

func TestIngestInvalidItemRejected(t *testing.T) {
	fabric := newTestFabric(t)
	coord := ingest.New(fabric, zap.NewNop())

	raw, _ := buildSignedItem(t, []byte("hello turbo"))
	raw[len(raw)-1] ^= 0xFF // corrupt the payload after signing

	res, err := coord.Ingest(context.Background(), bytes.NewReader(raw), -1)
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if res.OK {
		t.Fatalf("expected OK=false for corrupted payload")
	}
}

// gatedReader yields header bytes normally, then blocks immediately before
// the payload until release is closed, giving the test a deterministic
// window in which a second concurrent Ingest for the same id is in flight.
type gatedReader struct {
	raw      []byte
	pos      int
	headerAt int
	release  chan struct{}
	gated    atomic.Bool
}

func (g *gatedReader) Read(p []byte) (int, error) {
	if g.pos >= len(g.raw) {
		return 0, io.EOF
	}
	if g.pos >= g.headerAt && g.gated.CompareAndSwap(false, true) {
		<-g.release
	}
	n := copy(p, g.raw[g.pos:])
	// Never cross the header boundary in a single Read, so the gate above
	// always triggers exactly at the header/payload split.
	if g.pos < g.headerAt && g.pos+n > g.headerAt {
		n = g.headerAt - g.pos
	}
	g.pos += n
	return n, nil
}

func TestIngestConflictOnDuplicateInFlight(t *testing.T) {
	fabric := newTestFabric(t)
	coord := ingest.New(fabric, zap.NewNop())

	raw, wantID, headerLen := buildSignedItemWithHeaderLen(t, bytes.Repeat([]byte{0x42}, 1<<20))

	gated := &gatedReader{raw: raw, headerAt: headerLen, release: make(chan struct{})}

	firstDone := make(chan *ingest.Result, 1)
	go func() {
		res, err := coord.Ingest(context.Background(), gated, -1)
		if err != nil {
			t.Errorf("first Ingest error: %v", err)
		}
		firstDone <- res
	}()

	// Give the first call time to resolve the id and acquire the in-flight
	// claim; it is now parked inside Read, waiting on gated.release.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("first ingest never reached the payload gate")
		default:
		}
		if gated.gated.Load() {
			break
		}
		time.Sleep(time.Millisecond)
	}

	_, err := coord.Ingest(context.Background(), bytes.NewReader(raw), -1)
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected Conflict while first ingest still in flight, got %v", err)
	}

	close(gated.release)
	res := <-firstDone
	if res == nil || !res.OK {
		t.Fatalf("expected the first, non-conflicting ingest to succeed")
	}
	if res.ID != wantID {
		t.Fatalf("id mismatch: got %s want %s", res.ID, wantID)
	}

	// Now that the first ingest has released its claim, a third call for
	// the same id must succeed rather than wedge forever.
	res2, err := coord.Ingest(context.Background(), bytes.NewReader(raw), -1)
	if err != nil {
		t.Fatalf("post-release Ingest error: %v", err)
	}
	if !res2.OK {
		t.Fatalf("expected post-release ingest to succeed")
	}
}
