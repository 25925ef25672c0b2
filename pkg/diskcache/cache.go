// Package diskcache implements a size-bounded on-disk key/value store
// of symcache blobs with LRU eviction, single-flight fetch
// coordination, and crash-safe (fsync+rename) publication.
//
// Grounded on grafana-pyroscope's pkg/service/auth_cache.go for the
// golang-lru-backed cache shape, pkg/experiment/symbolizer's
// debuginfod_client.go for the singleflight.Group coalescing pattern,
// and pkg/phlaredb/symdb/block_writer.go for the buffered-write +
// fsync discipline, adapted here to a rename-into-place publication
// step that file doesn't need (it owns its directory outright).
package diskcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/mozilla-services/eliot/pkg/metrics"
)

// ErrNotFound is the build_fn outcome meaning the artifact does not
// exist upstream; the cache records this as a negative entry rather
// than propagating it as a failure to waiters.
var ErrNotFound = errors.New("diskcache: not found")

// BuildFunc produces the blob for a key on a cache miss. Returning
// ErrNotFound (or wrapping it) publishes a negative entry; any other
// error is treated as transient and is not cached.
type BuildFunc func(ctx context.Context) ([]byte, error)

// Config configures a Cache.
type Config struct {
	Root string

	// MaxBytes is the nominal capacity. Eviction targets LowWater and
	// triggers at HighWater, both expressed as a fraction of MaxBytes.
	MaxBytes  int64
	HighWater float64
	LowWater  float64

	// NegativeTTL bounds how long a "not found" sentinel is trusted
	// before the cache treats the key as unpopulated again.
	NegativeTTL time.Duration

	// WarmScan walks Root at Open and rebuilds the in-memory index
	// from what's already on disk, rather than starting cold.
	WarmScan bool
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxBytes <= 0 {
		out.MaxBytes = 1 << 30 // 1 GiB
	}
	if out.HighWater <= 0 {
		out.HighWater = 1.0
	}
	if out.LowWater <= 0 {
		out.LowWater = 0.9
	}
	if out.NegativeTTL <= 0 {
		out.NegativeTTL = 24 * time.Hour
	}
	return out
}

// Cache is a size-bounded, crash-safe, single-flighted on-disk blob
// store keyed by Key.
type Cache struct {
	cfg     Config
	metrics metrics.Sink

	mu        sync.Mutex
	index     *lru.Cache[string, *entryMeta]
	totalSize int64

	refs    map[string]int  // fingerprint -> active reader count
	pending map[string]bool // fingerprint -> marked for eviction

	group singleflight.Group
}

// Open constructs a Cache rooted at cfg.Root, creating the directory
// tree if necessary and, if cfg.WarmScan is set, rebuilding the index
// from whatever entries are already present on disk.
func Open(cfg Config, sink metrics.Sink) (*Cache, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(filepath.Join(cfg.Root, "tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("diskcache: create root: %w", err)
	}

	// The backing lru.Cache is used purely to track access order; its
	// own count-based eviction is disabled by giving it an effectively
	// unbounded size, and byte-budget eviction is driven by evictionSweep.
	index, err := lru.New[string, *entryMeta](1 << 30)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		cfg:     cfg,
		metrics: sink,
		index:   index,
		refs:    make(map[string]int),
		pending: make(map[string]bool),
	}

	if err := removeStaleTempFiles(cfg.Root); err != nil {
		return nil, err
	}

	if cfg.WarmScan {
		if err := c.warmScan(); err != nil {
			return nil, err
		}
		c.metrics.Gauge("diskcache.usage", float64(c.totalSize))
	}

	return c, nil
}

// Usage reports current total size and configured byte cap, for
// pkg/health's DiskCacheCondition.
func (c *Cache) Usage() (used, cap int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalSize, c.cfg.MaxBytes
}

// Handle is a reference to a Get or GetOrBuild result. Callers must
// call Release when done reading Data so the entry becomes eligible
// for eviction again.
type Handle struct {
	Data     []byte
	Negative bool

	cache *Cache
	key   string
}

// Release drops the reader's hold on the entry. If eviction is
// pending for this key and this was the last active reader, the
// entry is unlinked now.
func (h *Handle) Release() {
	if h == nil || h.cache == nil {
		return
	}
	h.cache.release(h.key)
}

// Get looks up key without invoking a builder on miss.
func (c *Cache) Get(key Key) (*Handle, bool) {
	fp := key.fingerprint()

	c.mu.Lock()
	meta, ok := c.index.Get(fp)
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	if meta.expired(c.cfg.NegativeTTL) {
		c.index.Remove(fp)
		c.totalSize -= meta.sizeBytes
		c.mu.Unlock()
		c.unlink(meta.key)
		return nil, false
	}
	meta.touch()
	c.refs[fp]++
	c.mu.Unlock()

	if meta.negative {
		return &Handle{Negative: true, cache: c, key: fp}, true
	}

	data, err := os.ReadFile(c.dataPath(meta.key))
	if err != nil {
		c.release(fp)
		return nil, false
	}
	return &Handle{Data: data, cache: c, key: fp}, true
}

// GetOrBuild is the single-flight entry point: at most one build runs
// per key across the process at a time; concurrent callers for the
// same key await that one build's completion, then each independently
// acquires its own reference via Get. The singleflight closure must
// never hand back a shared *Handle: golang.org/x/sync/singleflight
// gives every waiter the same return value from one execution of the
// function, so a Handle built there would have its single Get-side
// refcount increment shared by every caller, letting the first
// Release drop it to zero while the rest are still reading Data.
func (c *Cache) GetOrBuild(ctx context.Context, key Key, build BuildFunc) (*Handle, error) {
	if h, ok := c.Get(key); ok {
		return h, nil
	}

	fp := key.fingerprint()
	_, err, _ := c.group.Do(fp, func() (interface{}, error) {
		// Re-check under the single-flight lock: another caller may
		// have published the entry between our miss above and here.
		// exists does not take a reference, so it can't race with the
		// per-caller Get below.
		if c.exists(key) {
			return nil, nil
		}

		data, berr := build(ctx)
		if berr != nil {
			if errors.Is(berr, ErrNotFound) {
				if perr := c.Put(key, nil, true); perr != nil {
					return nil, perr
				}
				return nil, nil
			}
			// Transient: not cached, every waiter observes the error.
			return nil, berr
		}

		return nil, c.Put(key, data, false)
	})
	if err != nil {
		return nil, err
	}

	h, ok := c.Get(key)
	if !ok {
		return nil, fmt.Errorf("diskcache: build succeeded but entry missing for %v", key)
	}
	return h, nil
}

// exists reports whether key has a live (non-expired) entry, without
// taking a reader reference.
func (c *Cache) exists(key Key) bool {
	fp := key.fingerprint()
	c.mu.Lock()
	defer c.mu.Unlock()
	meta, ok := c.index.Peek(fp)
	if !ok {
		return false
	}
	return !meta.expired(c.cfg.NegativeTTL)
}

// Put writes an entry atomically: the blob (or negative sentinel)
// lands in <root>/tmp/<uuid>, is fsynced, then renamed into its final
// path. The rename replaces any file already published at that path,
// so when two writers race on the same key the last rename wins and a
// reader still only ever sees one complete blob. Put does not check
// for an already-published entry and does not discard its own write.
func (c *Cache) Put(key Key, data []byte, negative bool) error {
	final := c.dataPath(key)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return fmt.Errorf("diskcache: mkdir: %w", err)
	}

	if negative {
		data = nil
	}

	tmpPath, err := writeTempFile(filepath.Join(c.cfg.Root, "tmp"), data, negative)
	if err != nil {
		return err
	}

	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("diskcache: publish: %w", err)
	}

	fp := key.fingerprint()
	size := int64(len(data))

	c.mu.Lock()
	if old, ok := c.index.Get(fp); ok {
		c.totalSize -= old.sizeBytes
	}
	c.index.Add(fp, &entryMeta{
		key:        key,
		sizeBytes:  size,
		negative:   negative,
		lastAccess: time.Now(),
		createdAt:  time.Now(),
	})
	c.totalSize += size
	over := c.totalSize > int64(float64(c.cfg.MaxBytes)*c.cfg.HighWater)
	c.mu.Unlock()

	c.metrics.Gauge("diskcache.usage", float64(c.totalSize))

	if over {
		c.evictionSweep()
	}
	return nil
}

func (c *Cache) release(fp string) {
	c.mu.Lock()
	c.refs[fp]--
	n := c.refs[fp]
	if n <= 0 {
		delete(c.refs, fp)
	}
	shouldUnlink := n <= 0 && c.pending[fp]
	var meta *entryMeta
	if shouldUnlink {
		delete(c.pending, fp)
		meta, _ = c.index.Peek(fp)
		c.index.Remove(fp)
		if meta != nil {
			c.totalSize -= meta.sizeBytes
		}
	}
	c.mu.Unlock()

	if shouldUnlink && meta != nil {
		c.unlink(meta.key)
	}
}

func (c *Cache) dataPath(key Key) string {
	return filepath.Join(c.cfg.Root, key.relPath())
}

func (c *Cache) unlink(key Key) {
	_ = os.RemoveAll(filepath.Dir(c.dataPath(key)))
}

// writeTempFile writes data (or an empty sentinel file when negative)
// into dir under a random name and fsyncs before returning.
func writeTempFile(dir string, data []byte, negative bool) (string, error) {
	f, err := os.OpenFile(filepath.Join(dir, uuid.NewString()), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("diskcache: create temp: %w", err)
	}
	name := f.Name()

	if !negative {
		if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
			f.Close()
			os.Remove(name)
			return "", fmt.Errorf("diskcache: write temp: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("diskcache: fsync temp: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("diskcache: close temp: %w", err)
	}
	return name, nil
}

func removeStaleTempFiles(root string) error {
	tmpDir := filepath.Join(root, "tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		_ = os.Remove(filepath.Join(tmpDir, e.Name()))
	}
	return nil
}
