// Package dataitem implements the ANS-104 data-item wire format: the
// streaming parser/verifier (StreamingParser, §4.B of the design), the
// signature-type length tables, the deep-hash scheme data items sign over,
// and bundle header parsing/serialization (§6 wire format).
package dataitem

import "time"

// SignatureType identifies the signing scheme a data item used. Values come
// from the ANS-104 registry; unknown values are rejected at parse time.
type SignatureType uint16

const (
	SigTypeArweave   SignatureType = 1 // RSA-4096 / RSA-PSS
	SigTypeSolana    SignatureType = 2 // Ed25519
	SigTypeEthereum  SignatureType = 3 // secp256k1
	SigTypeNoCurrent SignatureType = 0 // unused sentinel, never valid on wire
)

// MaxTags, MaxTagNameLen and MaxTagValLen are the ANS-104 tag-spec caps
// (§3). A violation always makes the parsed item invalid, and fails the
// parse outright when FailOnTagsSpecViolation is set.
const (
	MaxTags       = 128
	MaxTagNameLen = 1024
	MaxTagValLen  = 3072
)

// Tag is a single ANS-104 header tag: an ordered (name, value) string pair.
type Tag struct {
	Name  string
	Value string
}

// sigSpec describes the fixed lengths associated with a SignatureType.
type sigSpec struct {
	sigLen    int
	pubKeyLen int
}

var sigSpecs = map[SignatureType]sigSpec{
	SigTypeArweave:  {sigLen: 512, pubKeyLen: 512},
	SigTypeSolana:   {sigLen: 64, pubKeyLen: 32},
	SigTypeEthereum: {sigLen: 65, pubKeyLen: 65},
}

// SigLen returns the signature length in bytes for t, or ok=false if t is
// not a recognized signature type.
func SigLen(t SignatureType) (int, bool) {
	s, ok := sigSpecs[t]
	return s.sigLen, ok
}

// PubKeyLen returns the owner public-key length in bytes for t, or
// ok=false if t is not a recognized signature type.
func PubKeyLen(t SignatureType) (int, bool) {
	s, ok := sigSpecs[t]
	return s.pubKeyLen, ok
}

// KnownSignatureType reports whether t is in the recognized set.
func KnownSignatureType(t SignatureType) bool {
	_, ok := sigSpecs[t]
	return ok
}

// Item is the fully-resolved logical data item (§3). StreamingParser builds
// one incrementally via ItemHandle; once every accessor has been consumed
// the handle can be reduced to an Item for storage or logging.
type Item struct {
	ID              [32]byte
	SignatureType   SignatureType
	Signature       []byte
	OwnerPublicKey  []byte
	Target          []byte // 32 bytes, nil if absent
	Anchor          []byte // 32 bytes, nil if absent
	Tags            []Tag
	PayloadSize     int64
	PayloadDataStart int64
	IsValid         bool
	ParsedAt        time.Time
}

// HeaderFixedLen returns the number of header bytes preceding the tags
// section for a given signature type, target/anchor presence:
// sigType(2) + sig + pubkey + targetFlag(1) + target?(32) + anchorFlag(1) +
// anchor?(32) + numTags(8) + numTagsBytes(8).
func HeaderFixedLen(t SignatureType, hasTarget, hasAnchor bool) (int, bool) {
	sigLen, ok := SigLen(t)
	if !ok {
		return 0, false
	}
	pubLen, _ := PubKeyLen(t)
	n := 2 + sigLen + pubLen + 1 + 1 + 8 + 8
	if hasTarget {
		n += 32
	}
	if hasAnchor {
		n += 32
	}
	return n, true
}
