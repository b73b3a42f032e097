package syncer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"
)

const cacheExt = ".json.zst"

// Cache holds the latest unsynced batch per page. With a directory each
// batch is a zstd-compressed JSON file; without one batches live in
// memory only.
type Cache struct {
	dir string

	mu     sync.Mutex
	memory map[string]Batch
	enc    *zstd.Encoder
	dec    *zstd.Decoder
}

// NewCache opens a cache in dir, creating it. An empty dir gives an
// in-memory cache.
func NewCache(dir string) (*Cache, error) {
	c := &Cache{dir: dir, memory: make(map[string]Batch)}
	if dir == "" {
		return c, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("syncer: create cache dir: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("syncer: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("syncer: zstd decoder: %w", err)
	}
	c.enc, c.dec = enc, dec
	return c, nil
}

// Put stores b, replacing any earlier batch for the same page. A later
// batch always carries every earlier record, since accumulators never
// clear.
func (c *Cache) Put(b Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dir == "" {
		c.memory[b.PageID] = b
		return nil
	}
	raw, err := sonic.Marshal(b)
	if err != nil {
		return fmt.Errorf("syncer: encode batch: %w", err)
	}
	path := c.path(b.PageID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, c.enc.EncodeAll(raw, nil), 0o644); err != nil {
		return fmt.Errorf("syncer: write cache: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("syncer: write cache: %w", err)
	}
	return nil
}

// Remove drops the batch for pageID, if any.
func (c *Cache) Remove(pageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dir == "" {
		delete(c.memory, pageID)
		return nil
	}
	if err := os.Remove(c.path(pageID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("syncer: remove cache entry: %w", err)
	}
	return nil
}

// Get returns the batch for pageID.
func (c *Cache) Get(pageID string) (Batch, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dir == "" {
		b, ok := c.memory[pageID]
		return b, ok, nil
	}
	b, err := c.read(c.path(pageID))
	if errors.Is(err, os.ErrNotExist) {
		return Batch{}, false, nil
	}
	if err != nil {
		return Batch{}, false, err
	}
	return b, true, nil
}

// List returns every cached batch, oldest first.
func (c *Cache) List() ([]Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Batch
	if c.dir == "" {
		for _, b := range c.memory {
			out = append(out, b)
		}
	} else {
		entries, err := os.ReadDir(c.dir)
		if err != nil {
			return nil, fmt.Errorf("syncer: list cache: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), cacheExt) {
				continue
			}
			b, err := c.read(filepath.Join(c.dir, e.Name()))
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Close releases the zstd codecs.
func (c *Cache) Close() error {
	var err error
	if c.enc != nil {
		err = c.enc.Close()
	}
	if c.dec != nil {
		c.dec.Close()
	}
	return err
}

func (c *Cache) read(path string) (Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Batch{}, err
	}
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return Batch{}, fmt.Errorf("syncer: decompress %s: %w", filepath.Base(path), err)
	}
	var b Batch
	if err := sonic.Unmarshal(raw, &b); err != nil {
		return Batch{}, fmt.Errorf("syncer: decode %s: %w", filepath.Base(path), err)
	}
	return b, nil
}

// path names the file by a hash of the page id, which may hold any
// characters.
func (c *Cache) path(pageID string) string {
	sum := blake2b.Sum256([]byte(pageID))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:12])+cacheExt)
}
