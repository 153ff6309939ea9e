// Package bundleassembler implements BundleAssembler (§4.E): it turns a
// parsed bundle header plus a TierFabric handle into a single lazy byte
// stream equal to the header followed by each member item's raw bytes, with
// bounded prefetch memory and a side-channel extraction of per-item
// attributes.
package bundleassembler

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ardriveapp/turbo-upload-core/internal/dataitem"
	"github.com/ardriveapp/turbo-upload-core/internal/taskcounter"
	"github.com/ardriveapp/turbo-upload-core/internal/tierfabric"
)

const (
	maxInflightBytes    = 100 * 1024 * 1024
	maxInflightRequests = 100
	// attributeGuard bounds how long Attributes.Wait waits for extraction
	// tasks that are still running when the output stream ends.
	attributeGuard = 60 * time.Second
)

// ItemAttribute is a resolved per-item fact extracted from the side
// channel while the item's bytes flow through the output stream.
type ItemAttribute struct {
	ID             string
	RawSize        int64
	PayloadStart   int64
	ContentType    string
	OffsetInBundle int64
}

// Fetcher is the subset of TierFabric the assembler depends on, narrowed
// for testability.
type Fetcher interface {
	GetRaw(ctx context.Context, id string) ([]byte, error)
}

// Assembler drives a single assemble() call's worker pool; it is not
// reused across calls.
type Assembler struct {
	header  *dataitem.BundleHeaderInfo
	fabric  Fetcher
	log     *zap.Logger
}

// New builds an Assembler for header, reading item bytes through fabric.
func New(header *dataitem.BundleHeaderInfo, fabric Fetcher, log *zap.Logger) *Assembler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Assembler{header: header, fabric: fabric, log: log}
}

// Attributes is the promise returned alongside the output stream: it
// resolves to whatever attribute records were extracted by the time every
// started extraction task finished or attributeGuard elapsed, whichever is
// first.
type Attributes struct {
	tc   *taskcounter.TaskCounter
	mu   *sync.Mutex
	recs []ItemAttribute
}

// Wait blocks until every extraction task completes or attributeGuard
// elapses, then returns whatever has been collected so far.
func (a *Attributes) Wait() []ItemAttribute {
	// A guard timeout here just means some extraction tasks were still
	// running; fall through and return whatever finished in time, per
	// §4.E "resolving with what has been collected".
	_ = a.tc.WaitForZero(attributeGuard)

	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ItemAttribute, len(a.recs))
	copy(out, a.recs)
	return out
}

type fetchResult struct {
	idx  int
	data []byte
	err  error
}

// Assemble produces the output stream immediately and an Attributes
// promise that resolves once side-channel extraction finishes.
func (a *Assembler) Assemble(ctx context.Context) (io.Reader, *Attributes) {
	pr, pw := io.Pipe()
	attrs := &Attributes{tc: taskcounter.New(), mu: &sync.Mutex{}}

	go a.run(ctx, pw, attrs)

	return pr, attrs
}

func (a *Assembler) run(ctx context.Context, pw *io.PipeWriter, attrs *Attributes) {
	items := a.header.Items
	n := len(items)

	if _, err := pw.Write(dataitem.SerializeBundleHeader(items)); err != nil {
		pw.CloseWithError(err)
		return
	}

	streams := make(map[int][]byte)
	results := make(chan fetchResult, maxInflightRequests)

	var inflightBytes int64
	var inflightRequests int
	nextToFetch := 0
	nextToPipe := 0

	tryFetch := func() {
		for nextToFetch < n &&
			inflightRequests < maxInflightRequests &&
			inflightBytes+items[nextToFetch].Size <= maxInflightBytes {
			idx := nextToFetch
			id := hex.EncodeToString(items[idx].ID[:])
			inflightBytes += items[idx].Size
			inflightRequests++
			nextToFetch++
			go func() {
				data, err := a.fabric.GetRaw(ctx, id)
				results <- fetchResult{idx: idx, data: data, err: err}
			}()
		}
	}

	abort := func(err error) {
		pw.CloseWithError(err)
		// Drain remaining in-flight fetches so their goroutines don't
		// leak, discarding results since the stream is already dead.
		for inflightRequests > 0 {
			<-results
			inflightRequests--
		}
	}

	tryFetch()
	for nextToPipe < n {
		// Serve any data already fetched for nextToPipe before waiting
		// on more fetch completions.
		if data, ok := streams[nextToPipe]; ok {
			if _, err := pw.Write(data); err != nil {
				abort(err)
				return
			}
			item := items[nextToPipe]
			offset := item.DataOffset
			attrs.tc.StartTask()
			go a.extractAttribute(item, offset, data, attrs)

			delete(streams, nextToPipe)
			inflightBytes -= item.Size
			nextToPipe++
			tryFetch()
			continue
		}

		res := <-results
		inflightRequests--
		if res.err != nil {
			abort(fmt.Errorf("bundleassembler: fetch item %d: %w", res.idx, res.err))
			return
		}
		streams[res.idx] = res.data
	}

	pw.Close()
}

// extractAttribute re-parses enough of an already-fetched item's header to
// resolve its ItemAttribute record (§4.E side channel), without re-running
// signature verification: the item was already verified during ingest.
func (a *Assembler) extractAttribute(item dataitem.BundleItemRef, offsetInBundle int64, raw []byte, attrs *Attributes) {
	defer attrs.tc.FinishTask()

	id := hex.EncodeToString(item.ID[:])
	handle := dataitem.Parse(bytes.NewReader(raw), dataitem.Options{DeclaredLen: -1})
	go func() { _, _ = io.Copy(io.Discard, handle.Payload()) }()

	payloadStart, err := handle.PayloadDataStart()
	if err != nil {
		a.log.Warn("bundleassembler: attribute extraction failed", zap.String("id", id), zap.Error(err))
		return
	}

	rec := ItemAttribute{
		ID:             id,
		RawSize:        int64(len(raw)),
		PayloadStart:   payloadStart,
		ContentType:    contentTypeFromTags(handle),
		OffsetInBundle: offsetInBundle,
	}

	attrs.mu.Lock()
	attrs.recs = append(attrs.recs, rec)
	attrs.mu.Unlock()
}

// contentTypeFromTags looks for the conventional "Content-Type" tag,
// returning "" if absent; it does not block long since Tags() is ready
// immediately after the (already-fetched, in-memory) header is parsed.
func contentTypeFromTags(handle *dataitem.ItemHandle) string {
	tags, err := handle.Tags()
	if err != nil {
		return ""
	}
	for _, t := range tags {
		if t.Name == "Content-Type" {
			return t.Value
		}
	}
	return ""
}
