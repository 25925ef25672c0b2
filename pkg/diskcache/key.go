package diskcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

// Key is the canonical identity of a cache entry: a module reference
// fingerprinted together with the symcache format version, so that a
// format bump never serves a stale blob to a newer builder.
type Key struct {
	DebugFilename string
	DebugID       string
	FormatVersion uint32
}

// fingerprint returns a stable hex digest of the key, used to derive
// the shard prefix and as a unique, filesystem-safe name for
// in-memory index bookkeeping.
func (k Key) fingerprint() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d",
		strings.ToLower(k.DebugFilename), strings.ToUpper(k.DebugID), k.FormatVersion)))
	return hex.EncodeToString(sum[:])
}

// shard returns the first two hex characters of the fingerprint,
// capping per-directory fan-out the way the teacher's block storage
// shards partitions by id prefix.
func (k Key) shard() string {
	return k.fingerprint()[:2]
}

// relPath returns the entry's path relative to the cache root:
// <shard>/<debug_filename>/<debug_id>/<format_version>/symcache
func (k Key) relPath() string {
	return filepath.Join(
		k.shard(),
		sanitizeComponent(k.DebugFilename),
		sanitizeComponent(strings.ToUpper(k.DebugID)),
		fmt.Sprintf("%d", k.FormatVersion),
		"symcache",
	)
}

// sanitizeComponent defends the on-disk layout against a debug
// filename or id containing path separators or traversal sequences.
// Module references are validated upstream (pkg/api) but the cache
// must not trust that blindly since it is reachable from anything
// that can construct a Key.
func sanitizeComponent(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "..", "__")
	if s == "" {
		s = "_"
	}
	return s
}
