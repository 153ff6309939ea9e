package tierfabric

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/ardriveapp/turbo-upload-core/internal/breaker"
	"github.com/ardriveapp/turbo-upload-core/internal/errs"
)

// smallItemFabricThreshold is the spec default (§4.C): items at or below
// this size are eligible for memLRU and remoteCache; larger items skip
// both. kvDoc is gated separately by docThreshold.
const smallItemFabricThreshold = 256 * 1024

// rangeReader is implemented by tiers that can serve a byte range without
// fetching the whole object (remoteCache, blobStore).
type rangeReader interface {
	GetRange(ctx context.Context, key string, start, end int64) ([]byte, error)
}

// durableTier is the common surface of the four persistent tiers. memLRU
// is deliberately excluded: it is pure cache, never counted toward the
// durability invariant and never renamed into a quarantine namespace (its
// entries for the id are simply removed, see memLRU.Quarantine).
type durableTier interface {
	Name() string
	Exists(ctx context.Context, key string) (bool, error)
	GetRaw(ctx context.Context, key string) ([]byte, error)
	PutRaw(ctx context.Context, key string, raw []byte, ttl time.Duration) error
	GetMetadata(ctx context.Context, key string) (*Metadata, error)
	PutMetadata(ctx context.Context, key string, m *Metadata, ttl time.Duration) error
	GetOffsets(ctx context.Context, key string) (*NestedOffset, error)
	PutOffsets(ctx context.Context, key string, o *NestedOffset, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Quarantine(ctx context.Context, key string) error
}

// TierFabric is the multi-tier cache fabric (§4.C): one in-process LRU in
// front of four durable tiers, fanned out to on write by independent
// sampling rates and consulted in a fixed order on read.
//
// Existence checks and reads both walk memLRU, remoteCache, blobStore,
// kvDoc, fsBackup in that order and return on the first hit; the order
// favors the tiers cheapest to ask even though it does not match write
// fan-out order.
type TierFabric struct {
	mem   *memLRU
	cache *remoteCache
	fs    *fsBackup
	kv    *kvDoc
	blob  *blobStore

	rates        SamplingRates
	threshold    int64
	docThreshold int64
	log          *zap.Logger

	statesMu sync.Mutex
	states   map[string]KeyState
}

// Config wires the concrete tier clients and policy knobs for a
// TierFabric. Any client field left nil disables that tier entirely
// (useful in tests and in minimal deployments); the durability invariant
// only counts the tiers actually configured.
type Config struct {
	MemLRUMaxEntries int

	RedisClient    *redis.Client
	RemoteCacheTTL time.Duration
	QuarantineTTL  time.Duration

	FSBaseDir string

	MongoCollection *mongo.Collection
	KVDocTTL        time.Duration

	S3Client *s3.Client
	S3Bucket string

	Rates              SamplingRates
	SmallItemThreshold int64
	DocThreshold       int64
	Logger             *zap.Logger
}

// New builds a TierFabric from cfg, wiring a concrete client into each
// tier that has one configured.
func New(cfg Config, breakers *breaker.Registry) *TierFabric {
	f := &TierFabric{
		mem:          newMemLRU(cfg.MemLRUMaxEntries),
		rates:        cfg.Rates,
		threshold:    cfg.SmallItemThreshold,
		docThreshold: cfg.DocThreshold,
		log:          cfg.Logger,
		states:       make(map[string]KeyState),
	}
	if f.threshold <= 0 {
		f.threshold = smallItemFabricThreshold
	}
	if f.docThreshold <= 0 {
		f.docThreshold = smallItemDocThreshold
	}
	if f.log == nil {
		f.log = zap.NewNop()
	}
	if cfg.RedisClient != nil {
		f.cache = newRemoteCache(cfg.RedisClient, breakers, cfg.RemoteCacheTTL, cfg.QuarantineTTL)
	}
	if cfg.FSBaseDir != "" {
		f.fs = newFSBackup(cfg.FSBaseDir, breakers)
	}
	if cfg.MongoCollection != nil {
		f.kv = newKVDoc(cfg.MongoCollection, breakers, cfg.KVDocTTL)
	}
	if cfg.S3Client != nil && cfg.S3Bucket != "" {
		f.blob = newBlobStore(cfg.S3Client, cfg.S3Bucket, breakers, cfg.Logger)
	}
	return f
}

// rawKeyFor, metaKeyFor, offsetsKeyFor translate a logical id into the key
// shape each tier actually stores under: remoteCache and kvDoc share the
// raw_/metadata_/offsets_ cache-key convention, fsBackup uses path-style
// keys, and blobStore only ever holds the raw payload under its own
// raw-data-item/ prefix (metadata and offsets are small enough that they
// never need the bulk object tier).
func rawKeyFor(t durableTier, id string) string {
	switch t.(type) {
	case *fsBackup:
		return fsRawPath(id)
	case *blobStore:
		return blobRawKey(id)
	default:
		return rawKey(id)
	}
}

func metaKeyFor(t durableTier, id string) string {
	if _, ok := t.(*fsBackup); ok {
		return fsMetaPath(id)
	}
	return metadataKey(id)
}

func offsetsKeyFor(t durableTier, id string) string {
	if _, ok := t.(*fsBackup); ok {
		return fsOffsetsPath(id)
	}
	return offsetsKey(id)
}

// State reports id's position in the per-cache-key lifecycle (§4.C
// "Absent -> Writing -> Committed -> Quarantined -> Absent(TTL)"). Ids
// never written through this fabric report StateAbsent; id never
// transitions back to StateAbsent itself once quarantined or committed,
// since eventual TTL expiry is each tier's own concern, not something
// this in-process map tracks.
func (f *TierFabric) State(id string) KeyState {
	f.statesMu.Lock()
	defer f.statesMu.Unlock()
	return f.states[rawKey(id)]
}

func (f *TierFabric) setState(id string, s KeyState) {
	f.statesMu.Lock()
	defer f.statesMu.Unlock()
	f.states[rawKey(id)] = s
}

func (f *TierFabric) durableTiers() []durableTier {
	var tiers []durableTier
	if f.cache != nil {
		tiers = append(tiers, f.cache)
	}
	if f.blob != nil {
		tiers = append(tiers, f.blob)
	}
	if f.kv != nil {
		tiers = append(tiers, f.kv)
	}
	if f.fs != nil {
		tiers = append(tiers, f.fs)
	}
	return tiers
}

// Exists reports whether id is present in any tier, checking memLRU first
// and then each durable tier in read order.
func (f *TierFabric) Exists(ctx context.Context, id string) (bool, error) {
	if ok, _ := f.mem.Exists(ctx, rawKey(id)); ok {
		return true, nil
	}
	for _, t := range f.durableTiers() {
		if ok, err := t.Exists(ctx, rawKeyFor(t, id)); err == nil && ok {
			return true, nil
		}
	}
	return false, nil
}

// GetRaw returns the raw bytes for id, trying memLRU then each durable
// tier in read order, populating memLRU on a durable-tier hit so the next
// read is served from cache.
func (f *TierFabric) GetRaw(ctx context.Context, id string) ([]byte, error) {
	memKey := rawKey(id)
	if e, err := f.mem.Get(ctx, memKey); err == nil {
		return e.Raw, nil
	}
	for _, t := range f.durableTiers() {
		raw, err := t.GetRaw(ctx, rawKeyFor(t, id))
		if err != nil {
			continue
		}
		_ = f.mem.Put(ctx, memKey, &Entry{Kind: EntryRaw, Raw: raw, StoredAt: time.Now()})
		return raw, nil
	}
	return nil, errNotFound(id)
}

// ReadRange returns raw[start:end+1] for id, using a tier's native ranged
// read when available and falling back to a full GetRaw otherwise.
func (f *TierFabric) ReadRange(ctx context.Context, id string, start, end int64) ([]byte, error) {
	if e, err := f.mem.Get(ctx, rawKey(id)); err == nil {
		return sliceRange(e.Raw, start, end)
	}
	for _, t := range f.durableTiers() {
		tkey := rawKeyFor(t, id)
		if rr, ok := t.(rangeReader); ok {
			if raw, err := rr.GetRange(ctx, tkey, start, end); err == nil {
				return raw, nil
			}
			continue
		}
		if raw, err := t.GetRaw(ctx, tkey); err == nil {
			return sliceRange(raw, start, end)
		}
	}
	return nil, errNotFound(id)
}

func sliceRange(raw []byte, start, end int64) ([]byte, error) {
	if start < 0 || end < start || end >= int64(len(raw)) {
		return nil, errs.ErrSpecViolation
	}
	return raw[start : end+1], nil
}

func (f *TierFabric) GetMetadata(ctx context.Context, id string) (*Metadata, error) {
	memKey := metadataKey(id)
	if e, err := f.mem.Get(ctx, memKey); err == nil {
		return &e.Meta, nil
	}
	for _, t := range f.durableTiers() {
		if _, ok := t.(*blobStore); ok {
			continue
		}
		if m, err := t.GetMetadata(ctx, metaKeyFor(t, id)); err == nil {
			_ = f.mem.Put(ctx, memKey, &Entry{Kind: EntryMetadata, Meta: *m, StoredAt: time.Now()})
			return m, nil
		}
	}
	return nil, errNotFound(id)
}

func (f *TierFabric) GetOffsets(ctx context.Context, id string) (*NestedOffset, error) {
	memKey := offsetsKey(id)
	if e, err := f.mem.Get(ctx, memKey); err == nil {
		return &e.Nested, nil
	}
	for _, t := range f.durableTiers() {
		if _, ok := t.(*blobStore); ok {
			continue
		}
		if o, err := t.GetOffsets(ctx, offsetsKeyFor(t, id)); err == nil {
			_ = f.mem.Put(ctx, memKey, &Entry{Kind: EntryNestedOffset, Nested: *o, StoredAt: time.Now()})
			return o, nil
		}
	}
	return nil, errNotFound(id)
}

// PutRaw fans a raw payload out to memLRU (only at or under the small-item
// threshold) and to each durable tier per SamplingRates, with remoteCache
// also limited to small items and kvDoc to items at or under docThreshold,
// returning the names of tiers that actually committed. It fails with ErrNoDurableStore if not one durable
// tier succeeded, honoring the fabric's durability invariant.
func (f *TierFabric) PutRaw(ctx context.Context, id string, raw []byte, ttl time.Duration) ([]string, error) {
	f.setState(id, StateWriting)

	var committed []string
	size := int64(len(raw))
	small := size <= f.threshold

	if small {
		_ = f.mem.Put(ctx, rawKey(id), &Entry{Kind: EntryRaw, Raw: raw, TTL: ttl, StoredAt: time.Now()})
	}

	if small && f.cache != nil && draw(f.rates.RemoteCache) {
		if err := f.cache.PutRaw(ctx, rawKeyFor(f.cache, id), raw, ttl); err == nil {
			committed = append(committed, f.cache.Name())
		} else {
			f.log.Warn("tierfabric: remoteCache write failed", zap.String("id", id), zap.Error(err))
		}
	}
	if f.blob != nil && draw(f.rates.BlobStore) {
		if err := f.blob.PutRaw(ctx, rawKeyFor(f.blob, id), raw, ttl); err == nil {
			committed = append(committed, f.blob.Name())
		} else {
			f.log.Warn("tierfabric: blobStore write failed", zap.String("id", id), zap.Error(err))
		}
	}
	if f.kv != nil && size <= f.docThreshold && draw(f.rates.KVDoc) {
		if err := f.kv.PutRaw(ctx, rawKeyFor(f.kv, id), raw, ttl); err == nil {
			committed = append(committed, f.kv.Name())
		} else {
			f.log.Warn("tierfabric: kvDoc write failed", zap.String("id", id), zap.Error(err))
		}
	}
	if f.fs != nil && draw(f.rates.FSBackup) {
		if err := f.fs.PutRaw(ctx, rawKeyFor(f.fs, id), raw, ttl); err == nil {
			committed = append(committed, f.fs.Name())
		} else {
			f.log.Warn("tierfabric: fsBackup write failed", zap.String("id", id), zap.Error(err))
		}
	}

	if len(committed) == 0 {
		f.setState(id, StateAbsent)
		return nil, errs.ErrNoDurableStore
	}
	f.setState(id, StateCommitted)
	return committed, nil
}

func (f *TierFabric) PutMetadata(ctx context.Context, id string, m *Metadata, ttl time.Duration) error {
	_ = f.mem.Put(ctx, metadataKey(id), &Entry{Kind: EntryMetadata, Meta: *m, TTL: ttl, StoredAt: time.Now()})
	var lastErr error
	ok := false
	if f.cache != nil && draw(f.rates.RemoteCache) {
		if err := f.cache.PutMetadata(ctx, metaKeyFor(f.cache, id), m, ttl); err == nil {
			ok = true
		} else {
			lastErr = err
		}
	}
	if f.fs != nil && draw(f.rates.FSBackup) {
		if err := f.fs.PutMetadata(ctx, metaKeyFor(f.fs, id), m, ttl); err == nil {
			ok = true
		} else {
			lastErr = err
		}
	}
	if f.kv != nil && draw(f.rates.KVDoc) {
		if err := f.kv.PutMetadata(ctx, metaKeyFor(f.kv, id), m, ttl); err == nil {
			ok = true
		} else {
			lastErr = err
		}
	}
	if !ok {
		if lastErr != nil {
			return lastErr
		}
		return errs.ErrNoDurableStore
	}
	return nil
}

func (f *TierFabric) PutOffsets(ctx context.Context, id string, o *NestedOffset, ttl time.Duration) error {
	_ = f.mem.Put(ctx, offsetsKey(id), &Entry{Kind: EntryNestedOffset, Nested: *o, TTL: ttl, StoredAt: time.Now()})
	var lastErr error
	ok := false
	if f.cache != nil && draw(f.rates.RemoteCache) {
		if err := f.cache.PutOffsets(ctx, offsetsKeyFor(f.cache, id), o, ttl); err == nil {
			ok = true
		} else {
			lastErr = err
		}
	}
	if f.fs != nil && draw(f.rates.FSBackup) {
		if err := f.fs.PutOffsets(ctx, offsetsKeyFor(f.fs, id), o, ttl); err == nil {
			ok = true
		} else {
			lastErr = err
		}
	}
	if f.kv != nil && draw(f.rates.KVDoc) {
		if err := f.kv.PutOffsets(ctx, offsetsKeyFor(f.kv, id), o, ttl); err == nil {
			ok = true
		} else {
			lastErr = err
		}
	}
	if !ok {
		if lastErr != nil {
			return lastErr
		}
		return errs.ErrNoDurableStore
	}
	return nil
}

// Quarantine fans the quarantine operation out to memLRU (purge) and
// every configured durable tier (rename-and-reexpire), for the raw,
// metadata, and offsets records of id. Individual tier failures are
// logged but do not abort the fan-out: quarantine is best-effort across
// tiers.
func (f *TierFabric) Quarantine(ctx context.Context, id string) error {
	f.setState(id, StateQuarantined)

	_ = f.mem.Quarantine(ctx, rawKey(id))
	_ = f.mem.Quarantine(ctx, metadataKey(id))
	_ = f.mem.Quarantine(ctx, offsetsKey(id))

	var firstErr error
	note := func(tier string, err error) {
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			f.log.Warn("tierfabric: quarantine failed", zap.String("tier", tier), zap.String("id", id), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	for _, t := range f.durableTiers() {
		note(t.Name(), t.Quarantine(ctx, rawKeyFor(t, id)))
		if _, isBlob := t.(*blobStore); isBlob {
			continue
		}
		note(t.Name(), t.Quarantine(ctx, metaKeyFor(t, id)))
		note(t.Name(), t.Quarantine(ctx, offsetsKeyFor(t, id)))
	}
	return firstErr
}
