package bundleassembler_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"testing"

	"github.com/ardriveapp/turbo-upload-core/internal/bundleassembler"
	"github.com/ardriveapp/turbo-upload-core/internal/dataitem"
)

type fakeFetcher struct {
	byID map[string][]byte
}

func (f *fakeFetcher) GetRaw(_ context.Context, id string) ([]byte, error) {
	raw, ok := f.byID[id]
	if !ok {
		return nil, errNotFoundForTest
	}
	return raw, nil
}

var errNotFoundForTest = &notFoundErr{}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "not found" }

func buildMinimalItem(t *testing.T, tagValue string, payload []byte) (raw []byte, id [32]byte) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	sigTypeBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(sigTypeBytes, uint16(dataitem.SigTypeSolana))

	var tags []dataitem.Tag
	if tagValue != "" {
		tags = []dataitem.Tag{{Name: "Content-Type", Value: tagValue}}
	}
	tagsBytes, err := dataitem.SerializeTags(tags)
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
	buf.WriteByte(0)
	buf.WriteByte(0)
	numTags := make([]byte, 8)
	binary.LittleEndian.PutUint64(numTags, uint64(len(tags)))
	buf.Write(numTags)
	numTagsBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(numTagsBytes, uint64(len(tagsBytes)))
	buf.Write(numTagsBytes)
	buf.Write(tagsBytes)
	buf.Write(payload)

	return buf.Bytes(), idArr
}

func TestAssembleConcatenatesHeaderAndItems(t *testing.T) {
	raw1, id1 := buildMinimalItem(t, "text/plain", []byte("first item payload"))
	raw2, id2 := buildMinimalItem(t, "application/json", []byte("{\"ok\":true}"))

	refs := []dataitem.BundleItemRef{
		{ID: id1, Size: int64(len(raw1))},
		{ID: id2, Size: int64(len(raw2))},
	}
	headerBytes := dataitem.SerializeBundleHeader(refs)
	header := mustParseHeader(t, headerBytes)

	fetcher := &fakeFetcher{byID: map[string][]byte{
		hex.EncodeToString(id1[:]): raw1,
		hex.EncodeToString(id2[:]): raw2,
	}}

	asm := bundleassembler.New(header, fetcher, nil)
	stream, attrs := asm.Assemble(context.Background())

	got, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("read assembled stream: %v", err)
	}

	want := append(append([]byte{}, headerBytes...), append(raw1, raw2...)...)
	if !bytes.Equal(got, want) {
		t.Fatalf("assembled stream mismatch: got %d bytes, want %d bytes", len(got), len(want))
	}

	records := attrs.Wait()
	if len(records) != 2 {
		t.Fatalf("expected 2 attribute records, got %d", len(records))
	}
	byID := map[string]bundleassembler.ItemAttribute{}
	for _, r := range records {
		byID[r.ID] = r
	}
	if rec, ok := byID[hex.EncodeToString(id1[:])]; !ok || rec.ContentType != "text/plain" {
		t.Fatalf("item1 attribute missing or wrong content type: %+v", rec)
	}
	if rec, ok := byID[hex.EncodeToString(id2[:])]; !ok || rec.ContentType != "application/json" {
		t.Fatalf("item2 attribute missing or wrong content type: %+v", rec)
	}
}

func mustParseHeader(t *testing.T, raw []byte) *dataitem.BundleHeaderInfo {
	t.Helper()
	h, err := dataitem.ParseBundleHeaderInfo(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	return h
}
