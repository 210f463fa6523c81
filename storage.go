package casc

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/casc/buildconfig"
	"github.com/meigma/casc/cache"
	"github.com/meigma/casc/internal/blte"
	"github.com/meigma/casc/internal/casctype"
	"github.com/meigma/casc/internal/encoding"
	"github.com/meigma/casc/internal/index"
	"github.com/meigma/casc/internal/jenkins"
	"github.com/meigma/casc/internal/root"
	"github.com/meigma/casc/store"
)

// archiveEntryHeaderSize is the per-blob header in front of every container
// in a data archive: the reversed encoded key, the stored size, flags and
// two checksums.
const archiveEntryHeaderSize = 30

// Lookup kinds for logging and metrics.
const (
	kindName       = "name"
	kindHash       = "hash"
	kindFileDataID = "fdid"
)

// Re-exported key types.
type (
	// ContentHash identifies file content independent of its storage location.
	ContentHash = casctype.ContentHash

	// EKey is a truncated encoded key identifying a stored blob.
	EKey = casctype.EKey

	// RootRecord is one content variant of a file in the root table.
	RootRecord = root.Record
)

// HashName returns the root table hash of a file name. Names are case
// insensitive and '/' is equivalent to '\'.
func HashName(name string) uint64 {
	return jenkins.HashPath(name)
}

// Stats summarizes the loaded tables.
type Stats struct {
	IndexShards     int
	IndexRecords    int
	IndexDuplicates int
	EncodingEntries int
	RootNames       int
	RootRecords     int
	RootOrphans     int
	OpenArchives    int
}

// Storage resolves files in one installation.
//
// The tables are immutable once Open returns, so Storage is safe for
// concurrent use. Each returned *File is meant for a single caller.
type Storage struct {
	store    store.Store
	index    *index.Table
	encoding *encoding.Table
	root     *root.Table

	indexStats index.LoadStats
	rootStats  root.Stats

	mu       sync.Mutex
	archives map[int]store.Source
	closed   bool

	cache     cache.Cache        // nil = no caching
	readGroup singleflight.Group // zero value is valid
	pool      *blte.DecompressPool

	maxFileSize      uint64
	indexConcurrency int
	buildConfigPath  string
	registerer       prometheus.Registerer
	metrics          *metrics
	logger           *slog.Logger
}

// Interface compliance.
var _ io.Closer = (*Storage)(nil)

// log returns the logger, falling back to a discard logger if nil.
func (s *Storage) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

func newStorage(opts []Option) *Storage {
	s := &Storage{
		archives:    make(map[int]store.Source),
		pool:        blte.NewDecompressPool(),
		maxFileSize: DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = newMetrics(s.registerer)
	return s
}

// Open opens the installation rooted at dir.
//
// The active build is read from dir/.build.info and its configuration from
// dir/Data/config, unless WithBuildConfig names a file. Archives and index
// shards are read from dir/Data/data.
func Open(dir string, opts ...Option) (*Storage, error) {
	s := newStorage(opts)
	dataDir := filepath.Join(dir, "Data")

	cfgPath := s.buildConfigPath
	if cfgPath == "" {
		info, err := buildconfig.LoadBuildInfo(filepath.Join(dir, buildconfig.BuildInfoName))
		if err != nil {
			return nil, err
		}
		key, err := info.BuildKey()
		if err != nil {
			return nil, err
		}
		if cfgPath, err = buildconfig.ConfigPath(dataDir, key); err != nil {
			return nil, err
		}
	}
	cfg, err := buildconfig.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	s.log().Debug("using build config", "path", cfgPath)

	if err := s.bootstrap(store.NewDir(filepath.Join(dataDir, "data")), cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenStore bootstraps a Storage from an explicit file store and build
// configuration. WithBuildConfig is ignored.
func OpenStore(st store.Store, cfg buildconfig.Source, opts ...Option) (*Storage, error) {
	s := newStorage(opts)
	if err := s.bootstrap(st, cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// bootstrap loads index, encoding and root in that order. Each step needs
// the tables loaded before it.
func (s *Storage) bootstrap(st store.Store, cfg buildconfig.Source) error {
	start := time.Now()
	s.store = st

	if err := s.loadIndex(); err != nil {
		_ = s.closeArchives()
		return err
	}
	if err := s.loadEncoding(cfg); err != nil {
		_ = s.closeArchives()
		return err
	}
	if err := s.loadRoot(cfg); err != nil {
		_ = s.closeArchives()
		return err
	}

	s.log().Info("storage ready",
		"index_records", s.index.Len(),
		"encoding_entries", s.encoding.Len(),
		"root_names", s.root.Len(),
		"root_orphans", s.rootStats.Orphans,
		"elapsed", time.Since(start))
	return nil
}

func (s *Storage) loadIndex() error {
	shards := make([]index.Opener, 0, index.BucketCount)
	for bucket := range index.BucketCount {
		names, err := s.store.Glob(fmt.Sprintf("%02x*.idx", bucket))
		if err != nil {
			return fmt.Errorf("index bucket %02x: %w", bucket, err)
		}
		if len(names) == 0 {
			return fmt.Errorf("index bucket %02x: %w", bucket, ErrNotFound)
		}
		// Shard names end in a version counter; the highest one is current.
		name := names[len(names)-1]
		shards = append(shards, s.shardOpener(name))
		s.log().Debug("index shard selected", "bucket", bucket, "name", name, "candidates", len(names))
	}

	table, stats, err := index.Load(shards, s.indexConcurrency)
	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}
	s.index = table
	s.indexStats = stats
	s.metrics.loaded("index", table.Len())
	s.log().Info("index loaded", "shards", stats.Shards, "records", stats.Records, "duplicates", stats.Duplicates)
	return nil
}

// shardSection adapts a store.Source to an index.Opener result.
type shardSection struct {
	*io.SectionReader
	io.Closer
}

func (s *Storage) shardOpener(name string) index.Opener {
	return func() (io.ReadCloser, error) {
		src, err := s.store.Open(name)
		if err != nil {
			return nil, err
		}
		return shardSection{io.NewSectionReader(src, 0, src.Size()), src}, nil
	}
}

func (s *Storage) loadEncoding(cfg buildconfig.Source) error {
	values := cfg.Get(buildconfig.KeyEncoding)
	if len(values) == 0 {
		return fmt.Errorf("load encoding: build config has no %q: %w", buildconfig.KeyEncoding, ErrNotFound)
	}
	// "encoding = <content hash> <encoded key>"; a lone value is the key.
	raw := values[0]
	if len(values) > 1 {
		raw = values[1]
	}
	key, err := casctype.ParseEKey(raw)
	if err != nil {
		return fmt.Errorf("load encoding: %w", err)
	}
	rec, ok := s.index.Lookup(key)
	if !ok {
		return fmt.Errorf("load encoding: key %s not in index: %w", key, ErrNotFound)
	}

	r, err := s.openBlob(rec)
	if err != nil {
		return fmt.Errorf("load encoding: %w", err)
	}
	defer r.Close()
	table, err := encoding.Parse(r)
	if err != nil {
		return fmt.Errorf("load encoding: %w", err)
	}
	s.encoding = table
	s.metrics.loaded("encoding", table.Len())
	s.log().Info("encoding loaded", "entries", table.Len(), "key", key.String())
	return nil
}

func (s *Storage) loadRoot(cfg buildconfig.Source) error {
	values := cfg.Get(buildconfig.KeyRoot)
	if len(values) == 0 {
		return fmt.Errorf("load root: build config has no %q: %w", buildconfig.KeyRoot, ErrNotFound)
	}
	hash, err := casctype.ParseContentHash(values[0])
	if err != nil {
		return fmt.Errorf("load root: %w", err)
	}
	rec, ok := s.locate(hash)
	if !ok {
		return fmt.Errorf("load root: content %s not reachable: %w", hash, ErrNotFound)
	}

	r, err := s.openBlob(rec)
	if err != nil {
		return fmt.Errorf("load root: %w", err)
	}
	defer r.Close()
	table, stats, err := root.Parse(r, s.encoding, s.index)
	if err != nil {
		return fmt.Errorf("load root: %w", err)
	}
	s.root = table
	s.rootStats = stats
	s.metrics.loaded("root", table.Len())
	s.log().Info("root loaded", "blocks", stats.Blocks, "records", stats.Records, "orphans", stats.Orphans)
	return nil
}

// locate returns the archive location of the first encoded key for hash
// that is present in the index.
func (s *Storage) locate(hash ContentHash) (index.Record, bool) {
	keys, ok := s.encoding.Keys(hash[:])
	if !ok {
		return index.Record{}, false
	}
	for _, k := range keys {
		if rec, ok := s.index.Lookup(k); ok {
			return rec, true
		}
	}
	return index.Record{}, false
}

// openBlob returns a decoder over the container stored at rec.
func (s *Storage) openBlob(rec index.Record) (*blte.Reader, error) {
	if rec.Size < archiveEntryHeaderSize {
		return nil, fmt.Errorf("%w: stored size %d is smaller than the entry header", ErrFormat, rec.Size)
	}
	src, err := s.archive(rec.Archive)
	if err != nil {
		return nil, err
	}
	return blte.NewReader(src, rec.Offset+archiveEntryHeaderSize, rec.Size-archiveEntryHeaderSize,
		blte.WithDecompressPool(s.pool))
}

// archive returns the shared handle for data archive n, opening it on first use.
func (s *Storage) archive(n int) (store.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if src, ok := s.archives[n]; ok {
		return src, nil
	}
	src, err := s.store.Open(store.ArchiveName(n))
	if err != nil {
		return nil, fmt.Errorf("open archive %d: %w", n, err)
	}
	s.archives[n] = src
	s.metrics.archiveOpened()
	s.log().Debug("archive opened", "archive", n, "size", src.Size())
	return src, nil
}

// OpenName opens the file with the given name.
// It reports false if the name is not in the root table.
func (s *Storage) OpenName(name string) (*File, bool, error) {
	f, ok, err := s.openHash(jenkins.HashPath(name), name, kindName)
	return f, ok, err
}

// OpenHash opens the file filed under a precomputed name hash.
func (s *Storage) OpenHash(hash uint64) (*File, bool, error) {
	return s.openHash(hash, fmt.Sprintf("%016x", hash), kindHash)
}

// OpenFileDataID opens the file with the given file-data identifier.
func (s *Storage) OpenFileDataID(id uint32) (*File, bool, error) {
	_, recs, ok := s.root.ByFileDataID(id)
	if !ok {
		s.metrics.resolved(kindFileDataID, false)
		s.log().Debug("file data id not found", "fdid", id)
		return nil, false, nil
	}
	return s.openRecord(recs[0], fmt.Sprintf("%d", id), kindFileDataID)
}

func (s *Storage) openHash(hash uint64, name, kind string) (*File, bool, error) {
	recs := s.root.Get(hash)
	if len(recs) == 0 {
		s.metrics.resolved(kind, false)
		s.log().Debug("name not found", "name", name, "hash", hash)
		return nil, false, nil
	}
	return s.openRecord(recs[0], name, kind)
}

// openRecord opens the content of one root record, preferring a cached copy.
// The resolution counts as found only once the content is located.
func (s *Storage) openRecord(rec RootRecord, name, kind string) (*File, bool, error) {
	if s.cache != nil {
		b, hit := s.cache.Get(rec.ContentHash[:])
		s.metrics.cacheLookup(hit)
		if hit {
			s.metrics.resolved(kind, true)
			s.log().Debug("file cache hit", "name", name)
			return newBytesFile(b, name, rec), true, nil
		}
	}
	loc, ok := s.locate(rec.ContentHash)
	s.metrics.resolved(kind, ok)
	if !ok {
		s.log().Debug("content not located", "name", name, "content", rec.ContentHash.String())
		return nil, false, nil
	}
	r, err := s.openBlob(loc)
	if err != nil {
		return nil, false, fmt.Errorf("open %s: %w", name, err)
	}
	s.log().Debug("file opened",
		"name", name,
		"fdid", rec.FileDataID,
		"content", rec.ContentHash.String(),
		"archive", loc.Archive,
		"offset", loc.Offset)
	return newFile(r, r.Close, name, rec, s.fileSize(rec.ContentHash)), true, nil
}

// fileSize returns the decoded size recorded in the encoding table, or -1.
func (s *Storage) fileSize(hash ContentHash) int64 {
	e, ok := s.encoding.Lookup(hash[:])
	if !ok {
		return -1
	}
	return int64(e.FileSize)
}

// RootEntries iterates over every name hash in the root table and its
// records, in unspecified order.
func (s *Storage) RootEntries() iter.Seq2[uint64, []RootRecord] {
	return s.root.All()
}

// Records returns the root records filed under a name, or nil.
// The returned slice must not be modified.
func (s *Storage) Records(name string) []RootRecord {
	return s.root.Get(jenkins.HashPath(name))
}

// Stats returns table counts and the number of open archive handles.
func (s *Storage) Stats() Stats {
	s.mu.Lock()
	open := len(s.archives)
	s.mu.Unlock()
	return Stats{
		IndexShards:     s.indexStats.Shards,
		IndexRecords:    s.index.Len(),
		IndexDuplicates: s.indexStats.Duplicates,
		EncodingEntries: s.encoding.Len(),
		RootNames:       s.root.Len(),
		RootRecords:     s.root.Records(),
		RootOrphans:     s.rootStats.Orphans,
		OpenArchives:    open,
	}
}

// Close closes every open archive handle. Files opened earlier fail on their
// next read of undecoded data.
func (s *Storage) Close() error {
	return s.closeArchives()
}

func (s *Storage) closeArchives() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for n, src := range s.archives {
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close archive %d: %w", n, err))
		}
	}
	s.metrics.archivesClosed(len(s.archives))
	clear(s.archives)
	return errors.Join(errs...)
}
