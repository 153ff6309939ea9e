package dataitem

import (
	"crypto/sha512"
	"hash"
	"strconv"
)

// deepHash implements the ANS-104 deep-hash scheme: a recursive,
// length-tagged SHA-384 fold over a list of byte chunks. The data item's
// signature covers deepHash([sigTypeBytes, owner, target, anchor, tagsBytes,
// payload]) — see §4.B.
//
// This streams: chunks whose bytes are not yet fully known (the payload)
// are folded in incrementally via deepHashFolder so the parser never
// buffers the payload to compute the signature base.
func deepHash(chunks [][]byte) []byte {
	acc := blobTagHash("list", len(chunks))
	for _, c := range chunks {
		acc = foldBlob(acc, c)
	}
	return acc
}

// DeepHash computes the ANS-104 deep-hash digest a data item's signature
// covers, given its six chunks in wire order (sigTypeBytes, owner, target,
// anchor, tagsBytes, payload). It is the non-streaming counterpart to the
// parser's internal deepHashFolder, exported for callers that already hold
// the full item in memory, such as item-construction tooling or tests.
func DeepHash(sigTypeBytes, owner, target, anchor, tagsBytes, payload []byte) []byte {
	return deepHash([][]byte{sigTypeBytes, owner, target, anchor, tagsBytes, payload})
}

// blobTagHash returns sha384(kind || lengthDecimal), the seed used both for
// the top-level "list" tag and for each blob's own tag.
func blobTagHash(kind string, length int) []byte {
	tag := append([]byte(kind), []byte(strconv.Itoa(length))...)
	h := sha512.Sum384(tag)
	return h[:]
}

// foldBlob folds one blob chunk into the running accumulator:
// acc' = sha384(acc || sha384(blobTag(len(chunk)) || sha384(chunk))).
func foldBlob(acc []byte, chunk []byte) []byte {
	tag := blobTagHash("blob", len(chunk))
	ch := sha512.Sum384(chunk)
	tagged := make([]byte, 0, len(tag)+len(ch))
	tagged = append(tagged, tag...)
	tagged = append(tagged, ch[:]...)
	blobHash := sha512.Sum384(tagged)

	pair := make([]byte, 0, len(acc)+len(blobHash))
	pair = append(pair, acc...)
	pair = append(pair, blobHash[:]...)
	next := sha512.Sum384(pair)
	return next[:]
}

// deepHashFolder accumulates the deep-hash fold incrementally so the
// parser can feed the payload through it a chunk at a time without
// buffering the whole payload. The payload's length-tagged blob hash only
// needs the running SHA-384 of its *content*, not its length, so the
// length (known only once the stream ends) can be folded in at sum() time.
// Callers seed with the known non-payload fields, stream payload bytes in
// order via writePayload, then call sum once EOF is reached.
type deepHashFolder struct {
	acc           []byte
	payloadHasher hash.Hash
	payloadLen    int64
}

// newDeepHashFolder seeds the fold with the five non-payload header chunks
// in ANS-104 order: sigTypeBytes, owner, target, anchor, tagsBytes.
func newDeepHashFolder(sigTypeBytes, owner, target, anchor, tagsBytes []byte) *deepHashFolder {
	const totalChunks = 6 // 5 header fields + payload
	f := &deepHashFolder{acc: blobTagHash("list", totalChunks)}
	for _, c := range [][]byte{sigTypeBytes, owner, target, anchor, tagsBytes} {
		f.acc = foldBlob(f.acc, c)
	}
	return f
}

// startPayload begins the streaming fold of the final ("payload") chunk.
func (f *deepHashFolder) startPayload() {
	f.payloadHasher = sha512.New384()
}

// writePayload feeds one arriving chunk of payload bytes into the fold.
func (f *deepHashFolder) writePayload(p []byte) {
	f.payloadHasher.Write(p)
	f.payloadLen += int64(len(p))
}

// sum finalizes the fold once the entire payload has been written and
// returns the 48-byte deep-hash digest the signature was computed over.
func (f *deepHashFolder) sum() []byte {
	payloadHash := f.payloadHasher.Sum(nil)
	payloadTag := blobTagHash("blob", int(f.payloadLen))
	tagged := make([]byte, 0, len(payloadTag)+len(payloadHash))
	tagged = append(tagged, payloadTag...)
	tagged = append(tagged, payloadHash...)
	blobHash := sha512.Sum384(tagged)

	pair := make([]byte, 0, len(f.acc)+len(blobHash))
	pair = append(pair, f.acc...)
	pair = append(pair, blobHash[:]...)
	final := sha512.Sum384(pair)
	return final[:]
}
