package tierfabric

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/ardriveapp/turbo-upload-core/internal/breaker"
	"github.com/ardriveapp/turbo-upload-core/internal/errs"
)

// contentIDMetaKey is the S3 object metadata header under which the
// locally computed CIDv1 content identifier is stored (§6 persisted
// state layout only names the raw-data-item/{id} key; this is additive).
const contentIDMetaKey = "turbo-content-cid"

// blobStore is the object-store tier (§4.C tier 5): the bulk-capacity,
// highest-latency tier, typically the only one asked to hold the largest
// items. It implements durableTier's metadata and offset methods as small
// JSON objects in the same bucket, but TierFabric only ever sends it raw
// item bytes, under raw-data-item/ keys.
type blobStore struct {
	client   *s3.Client
	bucket   string
	breakers *breaker.Registry
	log      *zap.Logger
}

func newBlobStore(client *s3.Client, bucket string, breakers *breaker.Registry, log *zap.Logger) *blobStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &blobStore{client: client, bucket: bucket, breakers: breakers, log: log}
}

func (b *blobStore) Name() string { return "blobStore" }

func (b *blobStore) guarded(ctx context.Context, fn func(ctx context.Context) error) error {
	err := b.breakers.Do(ctx, "blobStore", 15*time.Second, fn)
	if err == breaker.ErrOpen {
		return errs.ErrUnavailable
	}
	return err
}

func (b *blobStore) Exists(ctx context.Context, key string) (bool, error) {
	var found bool
	err := b.guarded(ctx, func(ctx context.Context) error {
		_, headErr := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
		if headErr == nil {
			found = true
			return nil
		}
		var nf *types.NotFound
		if errors.As(headErr, &nf) {
			return nil
		}
		return headErr
	})
	if err != nil {
		return false, errs.ErrUnavailable
	}
	return found, nil
}

func (b *blobStore) getObject(ctx context.Context, key, byteRange string) ([]byte, error) {
	var raw []byte
	err := b.guarded(ctx, func(ctx context.Context) error {
		in := &s3.GetObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)}
		if byteRange != "" {
			in.Range = aws.String(byteRange)
		}
		out, getErr := b.client.GetObject(ctx, in)
		if getErr != nil {
			return getErr
		}
		defer out.Body.Close()
		body, readErr := io.ReadAll(out.Body)
		raw = body
		return readErr
	})
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return nil, errNotFound(key)
	}
	if err != nil {
		return nil, errs.ErrUnavailable
	}
	return raw, nil
}

func (b *blobStore) GetRaw(ctx context.Context, key string) ([]byte, error) {
	return b.getObject(ctx, key, "")
}

// GetRange issues a ranged GET, matching remoteCache.GetRange's contract
// so TierFabric can treat both tiers identically for partial reads.
func (b *blobStore) GetRange(ctx context.Context, key string, start, end int64) ([]byte, error) {
	return b.getObject(ctx, key, fmt.Sprintf("bytes=%d-%d", start, end))
}

func (b *blobStore) putObject(ctx context.Context, key string, raw []byte, metadata map[string]string) error {
	return b.guarded(ctx, func(ctx context.Context) error {
		_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:   aws.String(b.bucket),
			Key:      aws.String(key),
			Body:     bytes.NewReader(raw),
			Metadata: metadata,
		})
		return err
	})
}

// PutRaw additionally computes a CIDv1 content identifier for raw and
// stores it as object metadata, so the blob store remains independently
// content-addressable (§6 grounding: teacher's Storage.Pin computes the
// same CIDv1/raw/sha2-256 locally before calling the IPFS gateway).
func (b *blobStore) PutRaw(ctx context.Context, key string, raw []byte, _ time.Duration) error {
	meta := map[string]string{}
	if cidStr, err := contentID(raw); err != nil {
		b.log.Warn("blobStore: failed computing content id", zap.String("key", key), zap.Error(err))
	} else {
		meta[contentIDMetaKey] = cidStr
	}
	return b.putObject(ctx, key, raw, meta)
}

func (b *blobStore) GetMetadata(ctx context.Context, key string) (*Metadata, error) {
	raw, err := b.GetRaw(ctx, key)
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errs.ErrParse
	}
	return &m, nil
}

func (b *blobStore) PutMetadata(ctx context.Context, key string, m *Metadata, ttl time.Duration) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.PutRaw(ctx, key, raw, ttl)
}

func (b *blobStore) GetOffsets(ctx context.Context, key string) (*NestedOffset, error) {
	raw, err := b.GetRaw(ctx, key)
	if err != nil {
		return nil, err
	}
	var o NestedOffset
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, errs.ErrParse
	}
	return &o, nil
}

func (b *blobStore) PutOffsets(ctx context.Context, key string, o *NestedOffset, ttl time.Duration) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return b.PutRaw(ctx, key, raw, ttl)
}

func (b *blobStore) Delete(ctx context.Context, key string) error {
	return b.guarded(ctx, func(ctx context.Context) error {
		_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
		return err
	})
}

// Quarantine copies the object to its quarantine/ prefix then deletes the
// original; S3 has no atomic rename.
func (b *blobStore) Quarantine(ctx context.Context, key string) error {
	qkey := blobQuarantineKey(key)
	err := b.guarded(ctx, func(ctx context.Context) error {
		_, copyErr := b.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(b.bucket),
			Key:        aws.String(qkey),
			CopySource: aws.String(b.bucket + "/" + key),
		})
		return copyErr
	})
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return nil
	}
	if err != nil {
		return err
	}
	return b.Delete(ctx, key)
}
