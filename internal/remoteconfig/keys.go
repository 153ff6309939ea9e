package remoteconfig

// Key is a recognized RemoteConfig key. The exhaustive list below is the
// single source of truth the spec requires (§4.G): every tunable
// referenced elsewhere in the service is named here, with its default and
// its environment-variable override.
type Key string

const (
	KeyMemLRUMaxEntries           Key = "memLRU.maxEntries"
	KeyRemoteCacheTTLSeconds      Key = "remoteCache.ttlSeconds"
	KeyQuarantineTTLSeconds       Key = "remoteCache.quarantineTtlSeconds"
	KeyKVDocTTLSeconds            Key = "kvDoc.ttlSeconds"
	KeySamplingRemoteCache        Key = "sampling.remoteCache"
	KeySamplingFSBackup           Key = "sampling.fsBackup"
	KeySamplingKVDoc              Key = "sampling.kvDoc"
	KeySamplingBlobStore          Key = "sampling.blobStore"
	KeySmallItemFabricThreshold   Key = "fabric.smallItemThresholdBytes"
	KeySmallItemDocThreshold      Key = "kvDoc.smallItemThresholdBytes"
	KeyInflightBytesMax           Key = "bundleAssembler.inflightBytesMax"
	KeyInflightRequestsMax        Key = "bundleAssembler.inflightRequestsMax"
	KeyAttributeGuardSeconds      Key = "bundleAssembler.attributeGuardSeconds"
	KeyRetryMaxRetries            Key = "retryClient.maxRetries"
	KeyRetryInitialDelayMillis    Key = "retryClient.initialDelayMillis"
	KeyRateLimitTimeoutSeconds    Key = "retryClient.rateLimitTimeoutSeconds"
	KeyIngestInflightTTLSeconds   Key = "ingest.inflightTtlSeconds"
	KeyBreakerErrorThreshold      Key = "breaker.errorThreshold"
	KeyBreakerResetTimeoutSeconds Key = "breaker.resetTimeoutSeconds"
)

// envVar maps each Key to the environment variable that overrides it at
// startup (§4.G "populated from environment overrides at startup").
var envVar = map[Key]string{
	KeyMemLRUMaxEntries:           "TURBO_MEMLRU_MAX_ENTRIES",
	KeyRemoteCacheTTLSeconds:      "TURBO_REMOTE_CACHE_TTL_SECONDS",
	KeyQuarantineTTLSeconds:       "TURBO_QUARANTINE_TTL_SECONDS",
	KeyKVDocTTLSeconds:            "TURBO_KVDOC_TTL_SECONDS",
	KeySamplingRemoteCache:        "TURBO_SAMPLING_REMOTE_CACHE",
	KeySamplingFSBackup:           "TURBO_SAMPLING_FS_BACKUP",
	KeySamplingKVDoc:              "TURBO_SAMPLING_KV_DOC",
	KeySamplingBlobStore:          "TURBO_SAMPLING_BLOB_STORE",
	KeySmallItemFabricThreshold:   "TURBO_SMALL_ITEM_FABRIC_THRESHOLD_BYTES",
	KeySmallItemDocThreshold:      "TURBO_SMALL_ITEM_DOC_THRESHOLD_BYTES",
	KeyInflightBytesMax:           "TURBO_INFLIGHT_BYTES_MAX",
	KeyInflightRequestsMax:        "TURBO_INFLIGHT_REQUESTS_MAX",
	KeyAttributeGuardSeconds:      "TURBO_ATTRIBUTE_GUARD_SECONDS",
	KeyRetryMaxRetries:            "TURBO_RETRY_MAX_RETRIES",
	KeyRetryInitialDelayMillis:    "TURBO_RETRY_INITIAL_DELAY_MILLIS",
	KeyRateLimitTimeoutSeconds:    "TURBO_RATE_LIMIT_TIMEOUT_SECONDS",
	KeyIngestInflightTTLSeconds:   "TURBO_INGEST_INFLIGHT_TTL_SECONDS",
	KeyBreakerErrorThreshold:      "TURBO_BREAKER_ERROR_THRESHOLD",
	KeyBreakerResetTimeoutSeconds: "TURBO_BREAKER_RESET_TIMEOUT_SECONDS",
}

// defaultValue holds the spec's default numeric value for every key,
// matching the constants documented alongside each subsystem (§4.C, §4.D,
// §4.E, §4.F, §9).
var defaultValue = map[Key]float64{
	KeyMemLRUMaxEntries:           10_000,
	KeyRemoteCacheTTLSeconds:      60,
	KeyQuarantineTTLSeconds:       5 * 24 * 3600,
	KeyKVDocTTLSeconds:            24 * 3600,
	KeySamplingRemoteCache:        1.0,
	KeySamplingFSBackup:           0.1,
	KeySamplingKVDoc:              1.0,
	KeySamplingBlobStore:          1.0,
	KeySmallItemFabricThreshold:   256 * 1024,
	KeySmallItemDocThreshold:      10 * 1024,
	KeyInflightBytesMax:           100 * 1024 * 1024,
	KeyInflightRequestsMax:        100,
	KeyAttributeGuardSeconds:      60,
	KeyRetryMaxRetries:            5,
	KeyRetryInitialDelayMillis:    200,
	KeyRateLimitTimeoutSeconds:    60,
	KeyIngestInflightTTLSeconds:   60,
	KeyBreakerErrorThreshold:      0.5,
	KeyBreakerResetTimeoutSeconds: 30,
}

// AllKeys returns every recognized key, for callers that want to
// enumerate the full config surface (diagnostics endpoints, docs
// generation).
func AllKeys() []Key {
	keys := make([]Key, 0, len(defaultValue))
	for k := range defaultValue {
		keys = append(keys, k)
	}
	return keys
}
