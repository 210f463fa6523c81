package index

import (
	"bufio"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/casc/internal/casctype"
)

// BucketCount is the number of index buckets in a storage.
const BucketCount = 16

// Table maps truncated encoded keys to archive locations.
//
// A Table is built once and then only read; concurrent lookups are safe.
type Table struct {
	records map[casctype.EKey]Record
}

// NewTable returns an empty table sized for n records.
func NewTable(n int) *Table {
	return &Table{records: make(map[casctype.EKey]Record, n)}
}

// Add inserts entries in order. A key that is already present keeps its
// existing record. Add returns the number of entries ignored as duplicates.
func (t *Table) Add(entries []Entry) int {
	dups := 0
	for _, e := range entries {
		if _, ok := t.records[e.Key]; ok {
			dups++
			continue
		}
		t.records[e.Key] = e.Record
	}
	return dups
}

// Lookup returns the record for key.
func (t *Table) Lookup(key casctype.EKey) (Record, bool) {
	rec, ok := t.records[key]
	return rec, ok
}

// Contains reports whether key is present.
func (t *Table) Contains(key casctype.EKey) bool {
	_, ok := t.records[key]
	return ok
}

// Len returns the number of records.
func (t *Table) Len() int {
	return len(t.records)
}

// Opener opens one shard for reading.
type Opener func() (io.ReadCloser, error)

// LoadStats reports what Load did.
type LoadStats struct {
	Shards     int
	Records    int
	Duplicates int
}

// Load parses shards concurrently and merges them in slice order.
// concurrency <= 0 uses GOMAXPROCS.
func Load(shards []Opener, concurrency int) (*Table, LoadStats, error) {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}

	parsed := make([][]Entry, len(shards))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, open := range shards {
		g.Go(func() error {
			entries, err := parseOpened(open)
			if err != nil {
				return fmt.Errorf("index shard %d: %w", i, err)
			}
			parsed[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, LoadStats{}, err
	}

	total := 0
	for _, entries := range parsed {
		total += len(entries)
	}
	t := NewTable(total)
	stats := LoadStats{Shards: len(shards)}
	for _, entries := range parsed {
		stats.Duplicates += t.Add(entries)
	}
	stats.Records = t.Len()
	return t, stats, nil
}

func parseOpened(open Opener) ([]Entry, error) {
	rc, err := open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return ParseShard(bufio.NewReader(rc))
}

// Bucket returns the bucket a key is stored under.
func Bucket(key casctype.EKey) int {
	var x byte
	for _, b := range key {
		x ^= b
	}
	return int((x & 0x0f) ^ (x >> 4))
}
