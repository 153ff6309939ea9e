// Package errs defines the sentinel error taxonomy shared by every stage of
// the ingestion and bundling pipeline (parser, tier fabric, ingest
// coordinator, bundle assembler, gateway client). HTTP collaborators map
// these to status codes; the core never imports net/http.
package errs

import "errors"

// Sentinel errors. Wrap with fmt.Errorf("...: %w", errs.ErrNotFound) to add
// context while keeping errors.Is working for callers.
var (
	// ParseError: malformed bytes, unknown signature type, length overrun.
	ErrParse = errors.New("parse error")
	// ErrVerification: the ANS-104 signature check failed.
	ErrVerification = errors.New("verification error")
	// ErrSpecViolation: tag count/length or empty name/value violates ANS-104.
	ErrSpecViolation = errors.New("ans-104 spec violation")
	// ErrUnavailable: a tier is inaccessible, or its breaker is open.
	ErrUnavailable = errors.New("tier unavailable")
	// ErrIntegrityMismatch: declared vs. actual byte count, or tiers disagree.
	ErrIntegrityMismatch = errors.New("integrity mismatch")
	// ErrConflict: a duplicate in-flight ingest for the same id.
	ErrConflict = errors.New("conflict")
	// ErrNotFound: the requested id/key does not exist in any tier.
	ErrNotFound = errors.New("not found")
	// ErrTimeout: an operation exceeded its deadline.
	ErrTimeout = errors.New("timeout")
	// ErrFatal: an explicitly-listed fatal condition, or an unrecognized fault.
	ErrFatal = errors.New("fatal error")
	// ErrNoDurableStore: ingestion finished but zero durable tiers committed.
	ErrNoDurableStore = errors.New("no durable store committed the item")
	// ErrInvalidChunkSize: a multipart chunk fell outside [chunkMin, chunkMax].
	ErrInvalidChunkSize = errors.New("invalid chunk size")
	// ErrOverflow: a CircularByteBuffer write exceeded remaining capacity.
	ErrOverflow = errors.New("ring buffer overflow")
	// ErrUnderflow: a CircularByteBuffer read exceeded used capacity.
	ErrUnderflow = errors.New("ring buffer underflow")
)
