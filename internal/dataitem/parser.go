package dataitem

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/ardriveapp/turbo-upload-core/internal/errs"
	"github.com/ardriveapp/turbo-upload-core/internal/ringbuf"
)

// maxLookahead bounds the CircularByteBuffer the parser uses for header
// fields: large enough for the biggest single header read (a 512-byte
// Arweave RSA signature or owner key), per the §5 resource bound.
const maxLookahead = 2048

// Options configures a single Parse call.
type Options struct {
	// FailOnTagsSpecViolation makes a tag-count/length violation fail the
	// parse with ErrSpecViolation instead of merely leaving IsValid=false.
	FailOnTagsSpecViolation bool
	// FailOnEmptyStringsInTags rejects zero-length tag names/values.
	FailOnEmptyStringsInTags bool
	// DeclaredLen, if >= 0, is the length the client claimed for the whole
	// data item; a mismatch against actual bytes raises IntegrityMismatch.
	DeclaredLen int64
}

// ItemHandle exposes lazy, idempotent, single-valued accessors for every
// field of a data item as it streams in. Each Wait-style accessor blocks
// until its region has been parsed (or the parse has failed) and caches its
// result. Payload() returns a pull-based io.Reader; the parser buffers
// nothing beyond maxLookahead regardless of how slowly the payload is
// drained.
type ItemHandle struct {
	events chan Event

	sigTypeReady chan struct{}
	sigType      SignatureType

	sigReady chan struct{}
	sig      []byte
	id       [32]byte

	ownerReady chan struct{}
	owner      []byte

	targetReady chan struct{}
	targetFlag  bool
	target      []byte

	anchorReady chan struct{}
	anchorFlag  bool
	anchor      []byte

	tagsReady    chan struct{}
	numTags      uint64
	numTagsBytes uint64
	tags         []Tag

	payloadStartReady chan struct{}
	payloadDataStart  int64

	payloadReader *io.PipeReader
	payloadWriter *io.PipeWriter

	doneReady   chan struct{}
	payloadSize int64
	isValid     bool

	mu     sync.Mutex
	err    error
	closed bool
}

func newItemHandle() *ItemHandle {
	return &ItemHandle{
		events:            make(chan Event, 16),
		sigTypeReady:      make(chan struct{}),
		sigReady:          make(chan struct{}),
		ownerReady:        make(chan struct{}),
		targetReady:       make(chan struct{}),
		anchorReady:       make(chan struct{}),
		tagsReady:         make(chan struct{}),
		payloadStartReady: make(chan struct{}),
		doneReady:         make(chan struct{}),
	}
}

// Events returns the tagged-variant event channel; it is closed once the
// terminal End or Error event has been sent.
func (h *ItemHandle) Events() <-chan Event { return h.events }

func (h *ItemHandle) fail(err error) {
	h.mu.Lock()
	if h.err == nil {
		h.err = err
	}
	h.mu.Unlock()
}

func (h *ItemHandle) failure() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// SignatureType blocks until the signature-type field has been parsed.
func (h *ItemHandle) SignatureType() (SignatureType, error) {
	<-h.sigTypeReady
	if err := h.failure(); err != nil {
		return 0, err
	}
	return h.sigType, nil
}

// Signature blocks until the signature field has been parsed.
func (h *ItemHandle) Signature() ([]byte, error) {
	<-h.sigReady
	if err := h.failure(); err != nil {
		return nil, err
	}
	return h.sig, nil
}

// ID blocks until the signature field has been parsed; id = sha256(sig).
func (h *ItemHandle) ID() ([32]byte, error) {
	<-h.sigReady
	if err := h.failure(); err != nil {
		return [32]byte{}, err
	}
	return h.id, nil
}

// Owner blocks until the owner public key has been parsed.
func (h *ItemHandle) Owner() ([]byte, error) {
	<-h.ownerReady
	if err := h.failure(); err != nil {
		return nil, err
	}
	return h.owner, nil
}

// Target blocks until the target region has been parsed; returns nil if
// the data item has no target.
func (h *ItemHandle) Target() ([]byte, error) {
	<-h.targetReady
	if err := h.failure(); err != nil {
		return nil, err
	}
	if !h.targetFlag {
		return nil, nil
	}
	return h.target, nil
}

// Anchor blocks until the anchor region has been parsed; returns nil if
// the data item has no anchor.
func (h *ItemHandle) Anchor() ([]byte, error) {
	<-h.anchorReady
	if err := h.failure(); err != nil {
		return nil, err
	}
	if !h.anchorFlag {
		return nil, nil
	}
	return h.anchor, nil
}

// Tags blocks until the tags section has been parsed and decoded.
func (h *ItemHandle) Tags() ([]Tag, error) {
	<-h.tagsReady
	if err := h.failure(); err != nil {
		return nil, err
	}
	return h.tags, nil
}

// NumTags blocks until the tag count field has been parsed.
func (h *ItemHandle) NumTags() (uint64, error) {
	<-h.tagsReady
	if err := h.failure(); err != nil {
		return 0, err
	}
	return h.numTags, nil
}

// PayloadDataStart blocks until the header has been fully parsed and
// returns the byte offset (from the start of the raw item) where the
// payload begins.
func (h *ItemHandle) PayloadDataStart() (int64, error) {
	<-h.payloadStartReady
	if err := h.failure(); err != nil {
		return 0, err
	}
	return h.payloadDataStart, nil
}

// Payload returns a downstream reader yielding payload bytes as they
// arrive. It must be drained (or closed) by the caller; the parser's
// internal pipe applies backpressure all the way back to the source
// reader, so a slow consumer throttles ingestion rather than causing
// unbounded buffering.
func (h *ItemHandle) Payload() io.Reader {
	<-h.payloadStartReady
	return h.payloadReader
}

// PayloadSize blocks until the payload has been fully consumed and
// returns its final byte count.
func (h *ItemHandle) PayloadSize() (int64, error) {
	<-h.doneReady
	if err := h.failure(); err != nil {
		return 0, err
	}
	return h.payloadSize, nil
}

// IsValid blocks until the payload has been fully consumed and
// signature/tag validation has completed.
func (h *ItemHandle) IsValid() (bool, error) {
	<-h.doneReady
	if err := h.failure(); err != nil {
		return false, err
	}
	return h.isValid, nil
}

// fieldReader wraps an io.Reader with a reused ring buffer so exact-length
// header reads never allocate beyond their result slice.
type fieldReader struct {
	src io.Reader
	rb  *ringbuf.Buffer
	tmp []byte
}

func newFieldReader(src io.Reader) *fieldReader {
	return &fieldReader{src: src, rb: ringbuf.New(maxLookahead), tmp: make([]byte, 4096)}
}

// readExact returns exactly n bytes, refilling the ring buffer from src as
// needed. n must not exceed maxLookahead.
func (r *fieldReader) readExact(n int) ([]byte, error) {
	for r.rb.UsedCapacity() < n {
		toRead := r.tmp
		if rem := r.rb.RemainingCapacity(); rem < len(toRead) {
			toRead = toRead[:rem]
		}
		if len(toRead) == 0 {
			break
		}
		m, err := r.src.Read(toRead)
		if m > 0 {
			if werr := r.rb.WriteFrom(toRead, 0, m); werr != nil {
				return nil, werr
			}
		}
		if err != nil {
			if err == io.EOF && r.rb.UsedCapacity() >= n {
				break
			}
			return nil, err
		}
	}
	return r.rb.Shift(n)
}

// readLarge reads n bytes that may exceed the ring's maxLookahead (the
// ANS-104 tagsBytes block can: up to 128 tags at 1024+3072 bytes each).
// It drains whatever is already buffered in the ring first, then reads the
// remainder directly from the source.
func (r *fieldReader) readLarge(n int) ([]byte, error) {
	if n <= maxLookahead {
		return r.readExact(n)
	}
	out := make([]byte, n)
	leftover := r.drainRing()
	copy(out, leftover)
	if _, err := io.ReadFull(r.src, out[len(leftover):]); err != nil {
		return nil, err
	}
	return out, nil
}

// drainRing flushes whatever header lookahead bytes remain unconsumed; used
// once the header is fully parsed to hand any buffered payload prefix to
// the payload pipe before streaming the rest of src directly.
func (r *fieldReader) drainRing() []byte {
	n := r.rb.UsedCapacity()
	if n == 0 {
		return nil
	}
	b, _ := r.rb.Shift(n)
	return b
}

// Parse consumes input according to the ANS-104 wire format (§6) and
// returns an ItemHandle immediately; every field becomes available as soon
// as its region of the stream has arrived. The payload is never buffered
// in full — callers must drain ItemHandle.Payload() for parsing to
// complete.
func Parse(input io.Reader, opts Options) *ItemHandle {
	h := newItemHandle()
	h.payloadReader, h.payloadWriter = io.Pipe()
	go h.run(input, opts)
	return h
}

func (h *ItemHandle) emit(ev Event) {
	select {
	case h.events <- ev:
	default:
		// Event bus is best-effort/observational; accessors are the
		// authoritative contract and never drop data.
	}
}

func (h *ItemHandle) terminate(err error) {
	if err != nil {
		h.fail(err)
		h.emit(Event{Kind: EventError, Err: err})
	} else {
		h.emit(Event{Kind: EventEnd})
	}
	close(h.events)
}

func (h *ItemHandle) run(input io.Reader, opts Options) {
	fr := newFieldReader(input)
	var offset int64

	abort := func(err error) {
		h.fail(err)
		for _, ch := range []chan struct{}{h.sigTypeReady, h.sigReady, h.ownerReady, h.targetReady, h.anchorReady, h.tagsReady, h.payloadStartReady} {
			select {
			case <-ch:
			default:
				close(ch)
			}
		}
		_ = h.payloadWriter.CloseWithError(err)
		close(h.doneReady)
		h.terminate(err)
	}

	sigTypeBytes, err := fr.readExact(2)
	if err != nil {
		abort(fmt.Errorf("%w: reading signature type: %v", errs.ErrParse, err))
		return
	}
	offset += 2
	sigType := SignatureType(binary.LittleEndian.Uint16(sigTypeBytes))
	if !KnownSignatureType(sigType) {
		abort(fmt.Errorf("%w: unknown signature type %d", errs.ErrParse, sigType))
		return
	}
	h.sigType = sigType
	close(h.sigTypeReady)
	h.emit(Event{Kind: EventSigType, SigType: sigType})

	sigLen, _ := SigLen(sigType)
	sig, err := fr.readExact(sigLen)
	if err != nil {
		abort(fmt.Errorf("%w: reading signature: %v", errs.ErrParse, err))
		return
	}
	offset += int64(sigLen)
	idArr := sha256.Sum256(sig)
	h.sig = sig
	h.id = idArr
	close(h.sigReady)
	h.emit(Event{Kind: EventSignature, Bytes: sig})

	pubLen, _ := PubKeyLen(sigType)
	owner, err := fr.readExact(pubLen)
	if err != nil {
		abort(fmt.Errorf("%w: reading owner: %v", errs.ErrParse, err))
		return
	}
	offset += int64(pubLen)
	h.owner = owner
	close(h.ownerReady)
	h.emit(Event{Kind: EventOwner, Bytes: owner})

	targetFlagB, err := fr.readExact(1)
	if err != nil {
		abort(fmt.Errorf("%w: reading target flag: %v", errs.ErrParse, err))
		return
	}
	offset++
	h.targetFlag = targetFlagB[0] == 1
	h.emit(Event{Kind: EventTargetFlag, Flag: h.targetFlag})
	var target []byte
	if h.targetFlag {
		target, err = fr.readExact(32)
		if err != nil {
			abort(fmt.Errorf("%w: reading target: %v", errs.ErrParse, err))
			return
		}
		offset += 32
		h.emit(Event{Kind: EventTarget, Bytes: target})
	}
	h.target = target
	close(h.targetReady)

	anchorFlagB, err := fr.readExact(1)
	if err != nil {
		abort(fmt.Errorf("%w: reading anchor flag: %v", errs.ErrParse, err))
		return
	}
	offset++
	h.anchorFlag = anchorFlagB[0] == 1
	h.emit(Event{Kind: EventAnchorFlag, Flag: h.anchorFlag})
	var anchor []byte
	if h.anchorFlag {
		anchor, err = fr.readExact(32)
		if err != nil {
			abort(fmt.Errorf("%w: reading anchor: %v", errs.ErrParse, err))
			return
		}
		offset += 32
		h.emit(Event{Kind: EventAnchor, Bytes: anchor})
	}
	h.anchor = anchor
	close(h.anchorReady)

	numTagsB, err := fr.readExact(8)
	if err != nil {
		abort(fmt.Errorf("%w: reading numTags: %v", errs.ErrParse, err))
		return
	}
	offset += 8
	numTags := binary.LittleEndian.Uint64(numTagsB)
	if numTags > MaxTags && opts.FailOnTagsSpecViolation {
		abort(fmt.Errorf("%w: numTags %d exceeds max %d", errs.ErrSpecViolation, numTags, MaxTags))
		return
	}
	h.numTags = numTags
	h.emit(Event{Kind: EventNumTags, NumTags: numTags})

	numTagsBytesB, err := fr.readExact(8)
	if err != nil {
		abort(fmt.Errorf("%w: reading numTagsBytes: %v", errs.ErrParse, err))
		return
	}
	offset += 8
	numTagsBytes := binary.LittleEndian.Uint64(numTagsBytesB)
	h.numTagsBytes = numTagsBytes
	h.emit(Event{Kind: EventNumTagsBytes, NumTagsBytes: numTagsBytes})

	var tagsBytes []byte
	if numTagsBytes > 0 {
		tagsBytes, err = fr.readLarge(int(numTagsBytes))
		if err != nil {
			abort(fmt.Errorf("%w: reading tagsBytes: %v", errs.ErrParse, err))
			return
		}
	}
	offset += int64(numTagsBytes)
	tags, err := DeserializeTags(tagsBytes)
	if err != nil {
		abort(err)
		return
	}
	if err := ValidateTags(tags, opts.FailOnEmptyStringsInTags); err != nil && opts.FailOnTagsSpecViolation {
		abort(err)
		return
	}
	h.tags = tags
	close(h.tagsReady)
	h.emit(Event{Kind: EventTagsBytes, Bytes: tagsBytes})

	h.payloadDataStart = offset
	close(h.payloadStartReady)
	h.emit(Event{Kind: EventPayloadStart, PayloadStart: offset})

	folder := newDeepHashFolder(sigTypeBytes, owner, orEmpty(target), orEmpty(anchor), tagsBytes)
	folder.startPayload()

	leftover := fr.drainRing()
	var total int64
	writeChunk := func(p []byte) error {
		if len(p) == 0 {
			return nil
		}
		folder.writePayload(p)
		total += int64(len(p))
		if _, werr := h.payloadWriter.Write(p); werr != nil {
			return werr
		}
		h.emit(Event{Kind: EventPayloadChunk, Bytes: p})
		return nil
	}

	if err := writeChunk(leftover); err != nil {
		abort(fmt.Errorf("%w: piping payload: %v", errs.ErrParse, err))
		return
	}
	buf := make([]byte, 32*1024)
	for {
		n, rerr := input.Read(buf)
		if n > 0 {
			if werr := writeChunk(buf[:n]); werr != nil {
				abort(fmt.Errorf("%w: piping payload: %v", errs.ErrParse, werr))
				return
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			abort(fmt.Errorf("%w: reading payload: %v", errs.ErrParse, rerr))
			return
		}
	}
	_ = h.payloadWriter.Close()
	h.emit(Event{Kind: EventPayloadEnd, PayloadSize: total})

	if opts.DeclaredLen >= 0 {
		declaredPayload := opts.DeclaredLen - offset
		if declaredPayload != total {
			abort(fmt.Errorf("%w: declared length %d, actual payload %d", errs.ErrIntegrityMismatch, declaredPayload, total))
			return
		}
	}

	digest := folder.sum()
	verr := VerifySignature(sigType, owner, sig, digest)
	valid := verr == nil
	if specErr := ValidateTags(tags, opts.FailOnEmptyStringsInTags); specErr != nil {
		valid = false
	}

	h.payloadSize = total
	h.isValid = valid
	close(h.doneReady)
	h.emit(Event{Kind: EventIsValid, Valid: valid})
	h.terminate(nil)
}

func orEmpty(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
