// Package ingest implements end-to-end orchestration of a single data-item
// upload: tapping the client's byte stream into the streaming parser and
// into each configured tier's write path, then committing or quarantining
// those writes once the parser's validity verdict is known.
package ingest

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ardriveapp/turbo-upload-core/internal/dataitem"
	"github.com/ardriveapp/turbo-upload-core/internal/errs"
	"github.com/ardriveapp/turbo-upload-core/internal/tierfabric"
)

// inflightTTL bounds how long an id holds the in-flight slot: a crashed or
// abandoned ingest must not permanently wedge future uploads of the same
// id (§4.D "in-flight map keyed by id with TTL (default 60s)").
const inflightTTL = 60 * time.Second

// Result is the outcome of a single Ingest call.
type Result struct {
	ID              string
	OK              bool
	StoresCommitted []string
}

// Coordinator is the IngestCoordinator (§4.D).
type Coordinator struct {
	fabric *tierfabric.TierFabric
	log    *zap.Logger

	mu       sync.Mutex
	inflight map[string]time.Time
}

// New builds a Coordinator writing through fabric.
func New(fabric *tierfabric.TierFabric, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{fabric: fabric, log: log, inflight: make(map[string]time.Time)}
}

// claim registers id as in-flight, returning false (Conflict) if another
// ingest already holds an unexpired claim.
func (c *Coordinator) claim(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until, ok := c.inflight[id]; ok && time.Now().Before(until) {
		return false
	}
	c.inflight[id] = time.Now().Add(inflightTTL)
	return true
}

func (c *Coordinator) release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, id)
}

// Ingest consumes r as a single ANS-104 data item, verifying it while
// simultaneously buffering it for each configured durable tier, and
// commits those writes only once the parser's validity verdict is known.
// declaredLen, when >= 0, is the total byte length declared for the whole
// item and is checked against the header plus payload bytes actually
// observed; a mismatch is reported as ErrIntegrityMismatch.
func (c *Coordinator) Ingest(ctx context.Context, r io.Reader, declaredLen int64) (*Result, error) {
	// Correlates every log line this call emits, independent of the item
	// id (which isn't known until the parser reaches the signature).
	reqID := uuid.New().String()
	opts := dataitem.Options{DeclaredLen: declaredLen, FailOnTagsSpecViolation: true, FailOnEmptyStringsInTags: false}

	// The parser and the byte-level tier sinks both need the raw wire
	// bytes (header and payload together) rather than only the payload,
	// since sinks persist the whole item. Tap the source once: one
	// branch feeds the parser a verbatim copy, the other branches feed
	// per-tier buffers.
	const numTierSinks = 1 // single logical "write through the fabric" sink; TierFabric itself fans out internally
	t, readers := newTap(r, 1+numTierSinks)
	parserReader := readers[0]
	fabricReader := readers[1]

	tapErrCh := make(chan error, 1)
	go func() { tapErrCh <- t.run() }()

	handle := dataitem.Parse(parserReader, opts)

	var fabricBuf bytes.Buffer
	fabricDone := make(chan error, 1)
	go func() {
		_, err := io.Copy(&fabricBuf, fabricReader)
		fabricDone <- err
	}()

	idArr, err := handle.ID()
	if err != nil {
		<-fabricDone
		<-tapErrCh
		return nil, fmt.Errorf("ingest: %w", err)
	}
	id := hex.EncodeToString(idArr[:])

	if !c.claim(id) {
		// Drain so the tap's goroutines don't block forever on an
		// abandoned reader, then report the conflict.
		go io.Copy(io.Discard, handle.Payload())
		<-fabricDone
		<-tapErrCh
		return nil, fmt.Errorf("ingest %s: %w", id, errs.ErrConflict)
	}
	defer c.release(id)

	// Drive the parser's payload reader to completion; this is what
	// actually pumps bytes through the tap (the parser goroutine reads
	// parserReader, which pulls from t.run via the pipe).
	if _, err := io.Copy(io.Discard, handle.Payload()); err != nil {
		c.log.Warn("ingest: payload drain error", zap.String("requestId", reqID), zap.String("id", id), zap.Error(err))
	}

	valid, verr := handle.IsValid()
	if tapErr := <-tapErrCh; tapErr != nil {
		c.log.Warn("ingest: tap error", zap.String("requestId", reqID), zap.String("id", id), zap.Error(tapErr))
	}
	if ferr := <-fabricDone; ferr != nil {
		c.log.Warn("ingest: fabric buffer copy error", zap.String("requestId", reqID), zap.String("id", id), zap.Error(ferr))
	}

	if verr != nil || !valid {
		if err := c.fabric.Quarantine(ctx, id); err != nil {
			c.log.Warn("ingest: quarantine after invalid item failed", zap.String("requestId", reqID), zap.String("id", id), zap.Error(err))
		}
		if verr != nil {
			return &Result{ID: id, OK: false}, fmt.Errorf("ingest %s: %w", id, verr)
		}
		return &Result{ID: id, OK: false}, nil
	}

	committed, err := c.fabric.PutRaw(ctx, id, fabricBuf.Bytes(), 0)
	if err != nil {
		c.log.Warn("ingest: no durable store committed", zap.String("requestId", reqID), zap.String("id", id), zap.Error(err))
		return &Result{ID: id, OK: false}, err
	}

	payloadStart, _ := handle.PayloadDataStart()
	_ = c.fabric.PutMetadata(ctx, id, &tierfabric.Metadata{PayloadDataStart: payloadStart}, 0)

	return &Result{ID: id, OK: true, StoresCommitted: committed}, nil
}
