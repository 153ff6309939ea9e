package dataitem

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/big"

	"github.com/ardriveapp/turbo-upload-core/internal/errs"
)

// bundleEntrySize is the fixed width of one (size, id) header entry: a
// 32-byte little-endian size followed by a 32-byte id.
const bundleEntrySize = 64

// BundleItemRef is one entry of a parsed bundle header: the item's id,
// declared size, and its byte offset inside the bundle body.
type BundleItemRef struct {
	ID         [32]byte
	Size       int64
	DataOffset int64
}

// BundleHeaderInfo is the parsed form of a bundle's header region (§3, §6).
type BundleHeaderInfo struct {
	NumItems int
	Items    []BundleItemRef
}

// TotalSize returns 32 + 64*N + sum(Size_i), the full bundle byte count.
func (b *BundleHeaderInfo) TotalSize() int64 {
	total := int64(32 + bundleEntrySize*b.NumItems)
	for _, it := range b.Items {
		total += it.Size
	}
	return total
}

// ParseBundleHeaderInfo reads the 32-byte count and N 64-byte entries from
// r, computing each item's DataOffset, and leaves r positioned at the
// start of the first item's bytes.
func ParseBundleHeaderInfo(r io.Reader) (*BundleHeaderInfo, error) {
	countBuf := make([]byte, 32)
	if _, err := io.ReadFull(r, countBuf); err != nil {
		return nil, fmt.Errorf("%w: reading bundle item count: %v", errs.ErrParse, err)
	}
	count := new(big.Int).SetBytes(reverse(countBuf)).Uint64()
	if count > (1<<32)-1 {
		return nil, fmt.Errorf("%w: implausible bundle item count %d", errs.ErrParse, count)
	}
	n := int(count)

	entries := make([]byte, bundleEntrySize*n)
	if n > 0 {
		if _, err := io.ReadFull(r, entries); err != nil {
			return nil, fmt.Errorf("%w: reading bundle header entries: %v", errs.ErrParse, err)
		}
	}

	info := &BundleHeaderInfo{NumItems: n, Items: make([]BundleItemRef, n)}
	offset := int64(32 + bundleEntrySize*n)
	for i := 0; i < n; i++ {
		entry := entries[i*bundleEntrySize : (i+1)*bundleEntrySize]
		sizeLE := entry[:32]
		idBytes := entry[32:64]
		size := new(big.Int).SetBytes(reverse(sizeLE)).Int64()

		var id [32]byte
		copy(id[:], idBytes)

		info.Items[i] = BundleItemRef{ID: id, Size: size, DataOffset: offset}
		offset += size
	}
	return info, nil
}

// SerializeBundleHeader encodes the count and per-item (size, id) entries
// in header order, ready to be followed by the items' raw bytes.
func SerializeBundleHeader(items []BundleItemRef) []byte {
	out := make([]byte, 0, 32+bundleEntrySize*len(items))
	out = append(out, leUint256(uint64(len(items)))...)
	for _, it := range items {
		out = append(out, leUint256(uint64(it.Size))...)
		out = append(out, it.ID[:]...)
	}
	return out
}

func leUint256(v uint64) []byte {
	b := make([]byte, 32)
	binary.LittleEndian.PutUint64(b[:8], v)
	return b
}

// reverse returns a big-endian copy of a little-endian byte slice so it can
// be handed to math/big, which expects big-endian input.
func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
