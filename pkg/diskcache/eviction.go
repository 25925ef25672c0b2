package diskcache

import (
	"io/fs"
	"path/filepath"
	"strconv"
)

// evictionSweep drops least-recently-used entries until total size is
// back at or below LowWater. An entry with active readers is marked
// pending instead of unlinked immediately; release() finishes the job
// once the last reader lets go, per the spec's "wait out active
// readers, then unlink" eviction procedure.
func (c *Cache) evictionSweep() {
	target := int64(float64(c.cfg.MaxBytes) * c.cfg.LowWater)

	for {
		c.mu.Lock()
		if c.totalSize <= target {
			c.mu.Unlock()
			return
		}
		keys := c.index.Keys() // oldest first
		var victim string
		var meta *entryMeta
		for _, k := range keys {
			if c.pending[k] {
				continue
			}
			m, ok := c.index.Peek(k)
			if !ok {
				continue
			}
			victim, meta = k, m
			break
		}
		if meta == nil {
			// Everything remaining is either pending eviction or held by
			// an active reader; nothing more we can do right now.
			c.mu.Unlock()
			return
		}
		if c.refs[victim] > 0 {
			c.pending[victim] = true
			c.mu.Unlock()
			continue
		}
		c.index.Remove(victim)
		c.totalSize -= meta.sizeBytes
		c.mu.Unlock()

		c.unlink(meta.key)
	}
}

// warmScan walks the cache root and rebuilds the in-memory index from
// whatever entries survived a restart, so eviction and TTL decisions
// have correct metadata without a cold start.
func (c *Cache) warmScan() error {
	return filepath.WalkDir(c.cfg.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != "symcache" {
			return nil
		}

		rel, err := filepath.Rel(c.cfg.Root, path)
		if err != nil {
			return nil
		}
		parts := splitPath(rel)
		if len(parts) != 5 {
			return nil // not a well-formed entry path, ignore
		}
		// parts: shard, debug_filename, debug_id, format_version, "symcache"
		version, err := strconv.ParseUint(parts[3], 10, 32)
		if err != nil {
			return nil
		}
		key := Key{DebugFilename: parts[1], DebugID: parts[2], FormatVersion: uint32(version)}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		c.mu.Lock()
		c.index.Add(key.fingerprint(), &entryMeta{
			key:        key,
			sizeBytes:  info.Size(),
			negative:   info.Size() == 0,
			lastAccess: info.ModTime(),
			createdAt:  info.ModTime(),
		})
		c.totalSize += info.Size()
		c.mu.Unlock()

		return nil
	})
}

func splitPath(rel string) []string {
	var parts []string
	for {
		dir, file := filepath.Split(rel)
		if file == "" {
			break
		}
		parts = append([]string{file}, parts...)
		rel = filepath.Clean(dir)
		if rel == "." {
			break
		}
	}
	return parts
}
