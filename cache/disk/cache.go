// Package disk keeps decoded file contents on the local filesystem, one file
// per content hash.
//
// An entry for hash 0a1b... lives at dir/0a/0a1b.... Content hashes are the
// MD5 of the decoded bytes, so every read is verified and an entry that no
// longer matches its name is deleted instead of served.
package disk

import (
	"bytes"
	"crypto/md5" //nolint:gosec // content hashes are MD5
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/meigma/casc/cache"
	"github.com/meigma/casc/internal/casctype"
)

const (
	defaultDirPerm  = 0o700
	defaultFilePerm = 0o600

	// tempPrefix marks files being written. Leftovers from an interrupted
	// write are removed when the cache is opened.
	tempPrefix = ".tmp-"
)

// ErrHashMismatch is returned by Put when content does not hash to its key.
var ErrHashMismatch = errors.New("disk cache: content does not match hash")

// Cache implements cache.Cache on a directory. Recency is tracked in memory
// and seeded from file modification times when the cache is opened. The
// cache is safe for concurrent use within one process.
type Cache struct {
	dir        string
	dirPerm    os.FileMode
	maxBytes   int64
	maxEntries int

	mu      sync.Mutex
	entries *simplelru.LRU[casctype.ContentHash, int64] // hash -> size
	bytes   int64
}

// Interface compliance.
var _ cache.Cache = (*Cache)(nil)

// Option configures a disk cache.
type Option func(*Cache)

// WithDirPerm sets the permissions of created directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.dirPerm = mode
	}
}

// WithMaxBytes bounds the total size of cached content. Least recently used
// entries are deleted to make room. Use 0 to disable the limit.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) {
		c.maxBytes = n
	}
}

// WithMaxEntries bounds the number of cached files. Use 0 to disable the limit.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		c.maxEntries = n
	}
}

// New opens the cache in dir, creating the directory if needed, and indexes
// the entries already present.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	c := &Cache{dir: dir, dirPerm: defaultDirPerm}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxBytes < 0 {
		return nil, errors.New("max bytes must be >= 0")
	}
	if c.maxEntries < 0 {
		return nil, errors.New("max entries must be >= 0")
	}
	limit := c.maxEntries
	if limit == 0 {
		limit = math.MaxInt32
	}
	entries, err := simplelru.NewLRU[casctype.ContentHash, int64](limit, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.entries = entries
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, err
	}
	if err := c.load(); err != nil {
		return nil, fmt.Errorf("load disk cache %s: %w", dir, err)
	}
	return c, nil
}

// Get returns the content stored for hash. Entries whose bytes no longer
// hash to their name are deleted and reported as misses.
func (c *Cache) Get(hash []byte) ([]byte, bool) {
	key, ok := contentHash(hash)
	if !ok {
		return nil, false
	}
	c.mu.Lock()
	_, ok = c.entries.Get(key)
	c.mu.Unlock()
	if !ok {
		return nil, false
	}

	data, err := os.ReadFile(c.path(key))
	if err != nil || md5.Sum(data) != key { //nolint:gosec // content hashes are MD5
		c.mu.Lock()
		c.entries.Remove(key)
		c.mu.Unlock()
		return nil, false
	}
	return data, true
}

// Put stores content under hash. Content larger than the byte limit is not
// stored. Content that does not hash to hash is rejected with ErrHashMismatch.
func (c *Cache) Put(hash, content []byte) error {
	key, ok := contentHash(hash)
	if !ok {
		return fmt.Errorf("disk cache: hash is %d bytes, want %d", len(hash), casctype.ContentHashSize)
	}
	if md5.Sum(content) != key { //nolint:gosec // content hashes are MD5
		return fmt.Errorf("%w: %s", ErrHashMismatch, key)
	}
	size := int64(len(content))
	if c.maxBytes > 0 && size > c.maxBytes {
		return nil
	}
	c.mu.Lock()
	present := c.entries.Contains(key)
	c.mu.Unlock()
	if present {
		return nil
	}

	if err := c.write(key, content); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries.Contains(key) {
		// A concurrent Put wrote the same bytes.
		return nil
	}
	c.entries.Add(key, size)
	c.bytes += size
	for c.maxBytes > 0 && c.bytes > c.maxBytes {
		if _, _, ok := c.entries.RemoveOldest(); !ok {
			break
		}
	}
	return nil
}

// Delete removes the entry for hash, if any.
func (c *Cache) Delete(hash []byte) error {
	key, ok := contentHash(hash)
	if !ok {
		return fmt.Errorf("disk cache: hash is %d bytes, want %d", len(hash), casctype.ContentHashSize)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(key)
	return nil
}

// Len returns the number of cached files.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// SizeBytes returns the total size of cached content.
func (c *Cache) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// write places content at its final path through a temporary file, so
// readers never observe a partial entry.
func (c *Cache) write(key casctype.ContentHash, content []byte) error {
	path := c.path(key)
	if err := os.MkdirAll(filepath.Dir(path), c.dirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), tempPrefix+"*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_, err = tmp.Write(content)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmpPath, defaultFilePerm)
	}
	if err == nil {
		err = os.Rename(tmpPath, path)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// onEvict runs with c.mu held whenever an entry leaves the LRU.
func (c *Cache) onEvict(key casctype.ContentHash, size int64) {
	c.bytes -= size
	_ = os.Remove(c.path(key)) //nolint:errcheck // a missing file is already evicted
}

func (c *Cache) path(key casctype.ContentHash) string {
	name := key.String()
	return filepath.Join(c.dir, name[:2], name)
}

// load indexes existing entries from least to most recently modified and
// clears temporary files. Files that are not named after a content hash, or
// sit in the wrong shard directory, are left alone.
func (c *Cache) load() error {
	type found struct {
		key     casctype.ContentHash
		size    int64
		modTime time.Time
	}
	var all []found

	shards, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		shardDir := filepath.Join(c.dir, shard.Name())
		files, err := os.ReadDir(shardDir)
		if err != nil {
			return err
		}
		for _, f := range files {
			name := f.Name()
			if strings.HasPrefix(name, tempPrefix) {
				_ = os.Remove(filepath.Join(shardDir, name))
				continue
			}
			if !f.Type().IsRegular() || !strings.HasPrefix(name, shard.Name()) {
				continue
			}
			key, err := casctype.ParseContentHash(name)
			if err != nil || key.String() != name {
				continue
			}
			info, err := f.Info()
			if err != nil {
				return err
			}
			all = append(all, found{key: key, size: info.Size(), modTime: info.ModTime()})
		}
	}

	slices.SortFunc(all, func(a, b found) int {
		if d := a.modTime.Compare(b.modTime); d != 0 {
			return d
		}
		return bytes.Compare(a.key[:], b.key[:])
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range all {
		c.entries.Add(f.key, f.size)
		c.bytes += f.size
	}
	for c.maxBytes > 0 && c.bytes > c.maxBytes {
		if _, _, ok := c.entries.RemoveOldest(); !ok {
			break
		}
	}
	return nil
}

func contentHash(b []byte) (casctype.ContentHash, bool) {
	var key casctype.ContentHash
	if len(b) != casctype.ContentHashSize {
		return key, false
	}
	copy(key[:], b)
	return key, true
}
