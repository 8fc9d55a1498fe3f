package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/a3tai/mcp-conform/internal/pdf"
	"github.com/vmihailenco/msgpack/v5"
)

// Bump when the on-disk payload layout changes
const cacheSchemaVersion uint16 = 1

// Cache stores built page indexes on disk keyed by the SHA-256 of the document
// bytes. Safe for concurrent use.
type Cache struct {
	mu  sync.RWMutex
	dir string
}

type cachePayload struct {
	Schema    uint16
	Threshold int
	Entries   []Entry
}

// NewCache creates the cache directory if needed
func NewCache(dir string) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Key returns the cache key for a document
func Key(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".idx")
}

// Get returns the cached index built with threshold, if present and current
func (c *Cache) Get(key string, threshold int) ([]Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.path(key))
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var payload cachePayload
	if err := msgpack.NewDecoder(f).Decode(&payload); err != nil {
		return nil, false
	}
	if payload.Schema != cacheSchemaVersion || payload.Threshold != threshold {
		return nil, false
	}
	return payload.Entries, true
}

// Put writes entries atomically through a temp file and rename
func (c *Cache) Put(key string, threshold int, entries []Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	enc := msgpack.NewEncoder(tmp)
	if err := enc.Encode(cachePayload{Schema: cacheSchemaVersion, Threshold: threshold, Entries: entries}); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("encode cache payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, c.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit cache file: %w", err)
	}
	return nil
}

// BuildIndexCached returns the cached index for data or builds and stores it.
// A cache write failure is logged, never returned.
func (ix *Indexer) BuildIndexCached(ctx context.Context, cache *Cache, data []byte, doc pdf.Document) ([]Entry, error) {
	if cache == nil {
		return ix.BuildIndex(ctx, doc)
	}

	key := Key(data)
	if entries, ok := cache.Get(key, ix.threshold); ok {
		ix.logger.Debug("index.cache_hit", "key", key[:12], "pages", len(entries))
		return entries, nil
	}

	entries, err := ix.BuildIndex(ctx, doc)
	if err != nil {
		return nil, err
	}
	if err := cache.Put(key, ix.threshold, entries); err != nil {
		ix.logger.Warn("index.cache_write_failed", "key", key[:12], "error", err)
	}
	return entries, nil
}
