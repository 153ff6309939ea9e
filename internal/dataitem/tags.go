package dataitem

import (
	"fmt"

	"github.com/hamba/avro"

	"github.com/ardriveapp/turbo-upload-core/internal/errs"
)

// tagSchema mirrors the Avro array-of-record schema Arweave uses to pack
// ANS-104 tags on the wire (an array of {name: bytes, value: bytes}).
// Parsing with the real Avro block encoding buys us interop with every
// other ANS-104 implementation without hand-rolling varint block framing.
var tagSchema = avro.MustParse(`{
	"type": "array",
	"items": {
		"type": "record",
		"name": "Tag",
		"fields": [
			{"name": "name", "type": "bytes"},
			{"name": "value", "type": "bytes"}
		]
	}
}`)

type avroTag struct {
	Name  []byte `avro:"name"`
	Value []byte `avro:"value"`
}

// SerializeTags Avro-encodes tags into the tagsBytes region of the wire
// format.
func SerializeTags(tags []Tag) ([]byte, error) {
	if len(tags) == 0 {
		return []byte{}, nil
	}
	raw := make([]avroTag, len(tags))
	for i, t := range tags {
		raw[i] = avroTag{Name: []byte(t.Name), Value: []byte(t.Value)}
	}
	b, err := avro.Marshal(tagSchema, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: avro encode tags: %v", errs.ErrParse, err)
	}
	return b, nil
}

// DeserializeTags decodes the Avro-packed tagsBytes region back into an
// ordered tag list.
func DeserializeTags(tagsBytes []byte) ([]Tag, error) {
	if len(tagsBytes) == 0 {
		return nil, nil
	}
	var raw []avroTag
	if err := avro.Unmarshal(tagSchema, tagsBytes, &raw); err != nil {
		return nil, fmt.Errorf("%w: avro decode tags: %v", errs.ErrParse, err)
	}
	tags := make([]Tag, len(raw))
	for i, t := range raw {
		tags[i] = Tag{Name: string(t.Name), Value: string(t.Value)}
	}
	return tags, nil
}

// ValidateTags enforces the ANS-104 tag-spec caps (§3, §8 boundary
// behaviors). If failOnEmptyStrings is set, zero-length names/values are
// also rejected; otherwise they are accepted.
func ValidateTags(tags []Tag, failOnEmptyStrings bool) error {
	if len(tags) > MaxTags {
		return fmt.Errorf("%w: %d tags exceeds max of %d", errs.ErrSpecViolation, len(tags), MaxTags)
	}
	for i, t := range tags {
		if len(t.Name) > MaxTagNameLen {
			return fmt.Errorf("%w: tag[%d] name length %d exceeds max %d", errs.ErrSpecViolation, i, len(t.Name), MaxTagNameLen)
		}
		if len(t.Value) > MaxTagValLen {
			return fmt.Errorf("%w: tag[%d] value length %d exceeds max %d", errs.ErrSpecViolation, i, len(t.Value), MaxTagValLen)
		}
		if failOnEmptyStrings {
			if len(t.Name) == 0 {
				return fmt.Errorf("%w: tag[%d] has empty name", errs.ErrSpecViolation, i)
			}
			if len(t.Value) == 0 {
				return fmt.Errorf("%w: tag[%d] has empty value", errs.ErrSpecViolation, i)
			}
		}
	}
	return nil
}
