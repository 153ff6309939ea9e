package tierfabric

import "fmt"

// Cache key conventions shared by remoteCache and its quarantine namespace
// (§4.C, §6 persisted state layout).
func rawKey(id string) string      { return fmt.Sprintf("raw_%s", id) }
func metadataKey(id string) string { return fmt.Sprintf("metadata_%s", id) }
func offsetsKey(id string) string  { return fmt.Sprintf("offsets_%s", id) }
func quarantine(key string) string { return fmt.Sprintf("quarantine_%s", key) }

// fsBackup paths (§6 persisted state layout).
func fsRawPath(id string) string     { return "raw/" + id }
func fsMetaPath(id string) string    { return "meta/" + id }
func fsOffsetsPath(id string) string { return "offsets/" + id }
func fsQuarantine(p string) string   { return "quarantine/" + p }

// blobStore keys (§6). blobQuarantineKey takes an already-computed blob
// key (e.g. the output of blobRawKey), not a bare id.
func blobRawKey(id string) string         { return "raw-data-item/" + id }
func blobQuarantineKey(key string) string { return "quarantine/" + key }
