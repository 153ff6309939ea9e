package tierfabric

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ardriveapp/turbo-upload-core/internal/breaker"
	"github.com/ardriveapp/turbo-upload-core/internal/errs"
)

// smallItemDocThreshold is the spec default (§4.C tier 4): kvDoc only ever
// holds items at or below this size, since it is optimized for latency on
// small documents, not bulk storage.
const smallItemDocThreshold = 10 * 1024

// kvDocRecord is the Mongo document shape backing all three entry kinds;
// only the field matching Kind is populated.
type kvDocRecord struct {
	ID        string        `bson:"_id"`
	Kind      EntryKind     `bson:"kind"`
	Raw       []byte        `bson:"raw,omitempty"`
	Meta      *Metadata     `bson:"meta,omitempty"`
	Nested    *NestedOffset `bson:"nested,omitempty"`
	ExpiresAt time.Time     `bson:"expiresAt,omitempty"`
}

// kvDoc is the low-latency document-store tier (§4.C tier 4): TierFabric
// writes raw items to it only when they are no larger than its
// docThreshold (smallItemDocThreshold unless Config.DocThreshold is set).
type kvDoc struct {
	coll     *mongo.Collection
	breakers *breaker.Registry
	ttl      time.Duration
}

func newKVDoc(coll *mongo.Collection, breakers *breaker.Registry, ttl time.Duration) *kvDoc {
	return &kvDoc{coll: coll, breakers: breakers, ttl: ttl}
}

func (k *kvDoc) Name() string { return "kvDoc" }

func (k *kvDoc) guarded(ctx context.Context, fn func(ctx context.Context) error) error {
	err := k.breakers.Do(ctx, "kvDoc", 5*time.Second, fn)
	if err == breaker.ErrOpen {
		return errs.ErrUnavailable
	}
	return err
}

func (k *kvDoc) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := k.guarded(ctx, func(ctx context.Context) error {
		var ferr error
		n, ferr = k.coll.CountDocuments(ctx, bson.M{"_id": key}, options.Count().SetLimit(1))
		return ferr
	})
	if err != nil {
		return false, errs.ErrUnavailable
	}
	return n > 0, nil
}

func (k *kvDoc) findOne(ctx context.Context, key string) (*kvDocRecord, error) {
	var rec kvDocRecord
	err := k.guarded(ctx, func(ctx context.Context) error {
		return k.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&rec)
	})
	if err == mongo.ErrNoDocuments {
		return nil, errNotFound(key)
	}
	if err != nil {
		return nil, errs.ErrUnavailable
	}
	return &rec, nil
}

func (k *kvDoc) GetRaw(ctx context.Context, key string) ([]byte, error) {
	rec, err := k.findOne(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec.Raw == nil {
		return nil, errNotFound(key)
	}
	return rec.Raw, nil
}

func (k *kvDoc) PutRaw(ctx context.Context, key string, raw []byte, ttl time.Duration) error {
	return k.upsert(ctx, kvDocRecord{ID: key, Kind: EntryRaw, Raw: raw}, ttl)
}

func (k *kvDoc) GetMetadata(ctx context.Context, key string) (*Metadata, error) {
	rec, err := k.findOne(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec.Meta == nil {
		return nil, errNotFound(key)
	}
	return rec.Meta, nil
}

func (k *kvDoc) PutMetadata(ctx context.Context, key string, m *Metadata, ttl time.Duration) error {
	return k.upsert(ctx, kvDocRecord{ID: key, Kind: EntryMetadata, Meta: m}, ttl)
}

func (k *kvDoc) GetOffsets(ctx context.Context, key string) (*NestedOffset, error) {
	rec, err := k.findOne(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec.Nested == nil {
		return nil, errNotFound(key)
	}
	return rec.Nested, nil
}

func (k *kvDoc) PutOffsets(ctx context.Context, key string, o *NestedOffset, ttl time.Duration) error {
	return k.upsert(ctx, kvDocRecord{ID: key, Kind: EntryNestedOffset, Nested: o}, ttl)
}

func (k *kvDoc) upsert(ctx context.Context, rec kvDocRecord, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = k.ttl
	}
	if ttl > 0 {
		rec.ExpiresAt = time.Now().Add(ttl)
	}
	return k.guarded(ctx, func(ctx context.Context) error {
		_, err := k.coll.ReplaceOne(ctx, bson.M{"_id": rec.ID}, rec, options.Replace().SetUpsert(true))
		return err
	})
}

func (k *kvDoc) Delete(ctx context.Context, key string) error {
	return k.guarded(ctx, func(ctx context.Context) error {
		_, err := k.coll.DeleteOne(ctx, bson.M{"_id": key})
		return err
	})
}

// Quarantine re-tags the document under a quarantine id rather than
// deleting it, matching the other tiers' rename-to-quarantine semantics.
func (k *kvDoc) Quarantine(ctx context.Context, key string) error {
	rec, err := k.findOne(ctx, key)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		return err
	}
	qrec := *rec
	qrec.ID = quarantine(key)
	if err := k.upsert(ctx, qrec, 5*24*time.Hour); err != nil {
		return err
	}
	return k.Delete(ctx, key)
}

// EnsureTTLIndex creates the expiry index Mongo needs to honor ExpiresAt.
// Called once at startup by the process that owns the collection.
func EnsureTTLIndex(ctx context.Context, coll *mongo.Collection) error {
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.M{"expiresAt": 1},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	return err
}
