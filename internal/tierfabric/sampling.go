package tierfabric

import "math/rand"

// SamplingRates gives the Bernoulli draw probability per durable tier for
// a write fan-out (§4.C "sampling-based fan-out"). memLRU is never
// sampled: every write at or under the small-item threshold populates it
// unconditionally, since it is free and first in the read order.
type SamplingRates struct {
	RemoteCache float64
	FSBackup    float64
	KVDoc       float64
	BlobStore   float64
}

// DefaultSamplingRates mirrors the spec's suggested defaults: remoteCache
// and blobStore get every write since they are the cheap/bulk durable
// tiers, fsBackup is sampled down since it is the most expensive per-byte
// local disk tier, kvDoc is unconditional but only ever applies to items
// under smallItemDocThreshold.
func DefaultSamplingRates() SamplingRates {
	return SamplingRates{
		RemoteCache: 1.0,
		FSBackup:    0.1,
		KVDoc:       1.0,
		BlobStore:   1.0,
	}
}

// draw reports whether a single Bernoulli trial at rate succeeds. A rate
// outside (0,1) is treated as a hard always/never, skipping rand
// entirely so a rate of exactly 1.0 never depends on RNG behavior.
func draw(rate float64) bool {
	if rate >= 1 {
		return true
	}
	if rate <= 0 {
		return false
	}
	return rand.Float64() < rate
}
