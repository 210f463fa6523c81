// Package root parses the root table, which maps 64-bit file name hashes and
// numeric file-data identifiers to content hashes.
//
// Records whose content cannot be reached through the encoding and index
// tables are dropped while parsing.
package root

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/meigma/casc/internal/casctype"
)

const (
	// blockHeaderSize covers the record count and the content and locale flags.
	blockHeaderSize = 4 + 8

	// recordSize is a content hash followed by a name hash.
	recordSize = casctype.ContentHashSize + 8

	// variantCapacity is the initial capacity of a per-name record list.
	variantCapacity = 2

	// maxBlockRecords bounds the record count of one block.
	maxBlockRecords = 1 << 24
)

// Record is one content variant of a file.
type Record struct {
	ContentHash casctype.ContentHash
	FileDataID  uint32
}

// ContentResolver looks up the encoded keys storing a content hash.
type ContentResolver interface {
	Keys(hash []byte) ([]casctype.EKey, bool)
}

// KeyChecker reports whether an encoded key is present in the index.
type KeyChecker interface {
	Contains(key casctype.EKey) bool
}

// Stats reports what Parse did.
type Stats struct {
	Blocks  int
	Records int
	Orphans int
}

// Table maps name hashes to their records.
//
// Accessors never modify the table, so concurrent reads are safe.
type Table struct {
	records map[uint64][]Record
	order   []uint64 // name hashes by first appearance in the file
	count   int
}

// Get returns the records for a name hash, or nil if there are none.
// The returned slice must not be modified.
func (t *Table) Get(nameHash uint64) []Record {
	return t.records[nameHash]
}

// ByFileDataID scans the table in file order for records with the given
// identifier and returns them together with the first name hash they are
// filed under.
func (t *Table) ByFileDataID(id uint32) (uint64, []Record, bool) {
	for _, hash := range t.order {
		recs := t.records[hash]
		var matched []Record
		for _, rec := range recs {
			if rec.FileDataID == id {
				matched = append(matched, rec)
			}
		}
		if len(matched) > 0 {
			return hash, matched, true
		}
	}
	return 0, nil, false
}

// Len returns the number of distinct name hashes.
func (t *Table) Len() int {
	return len(t.records)
}

// Records returns the total number of records.
func (t *Table) Records() int {
	return t.count
}

// All iterates over every name hash and its records in file order.
func (t *Table) All() iter.Seq2[uint64, []Record] {
	return func(yield func(uint64, []Record) bool) {
		for _, hash := range t.order {
			if !yield(hash, t.records[hash]) {
				return
			}
		}
	}
}

// Parse reads root blocks until the stream ends. The format has no end
// marker, so running out of input anywhere is a normal end of table; any
// other failure fails the whole table.
func Parse(r io.Reader, content ContentResolver, keys KeyChecker) (*Table, Stats, error) {
	p := parser{
		r:       bufio.NewReader(r),
		content: content,
		keys:    keys,
		table:   &Table{records: make(map[uint64][]Record)},
	}
	for {
		err := p.block()
		if err == nil {
			p.stats.Blocks++
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return p.table, p.stats, nil
		}
		return nil, Stats{}, fmt.Errorf("root block %d: %w", p.stats.Blocks, err)
	}
}

type parser struct {
	r       io.Reader
	content ContentResolver
	keys    KeyChecker
	table   *Table
	stats   Stats

	ids []uint32
	buf []byte
}

func (p *parser) block() error {
	var hdr [blockHeaderSize]byte
	if _, err := io.ReadFull(p.r, hdr[:]); err != nil {
		return err
	}
	count := int(binary.LittleEndian.Uint32(hdr[0:4]))
	if count > maxBlockRecords {
		return fmt.Errorf("%w: block declares %d records", casctype.ErrFormat, count)
	}

	deltas, err := p.read(count * 4)
	if err != nil {
		return err
	}
	p.ids = p.ids[:0]
	var next uint32
	for i := range count {
		delta := int32(binary.LittleEndian.Uint32(deltas[i*4:])) //nolint:gosec // deltas are signed on disk
		id := next + uint32(delta)                               //nolint:gosec // two's complement add
		p.ids = append(p.ids, id)
		next = id + 1
	}

	recs, err := p.read(count * recordSize)
	if err != nil {
		return err
	}
	for i := range count {
		raw := recs[i*recordSize : (i+1)*recordSize]
		var rec Record
		copy(rec.ContentHash[:], raw[:casctype.ContentHashSize])
		rec.FileDataID = p.ids[i]
		nameHash := binary.LittleEndian.Uint64(raw[casctype.ContentHashSize:])
		p.add(nameHash, rec)
	}
	return nil
}

// read returns the next n bytes in a reused buffer.
func (p *parser) read(n int) ([]byte, error) {
	if cap(p.buf) < n {
		p.buf = make([]byte, n)
	}
	buf := p.buf[:n]
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *parser) add(nameHash uint64, rec Record) {
	if !p.reachable(rec.ContentHash) {
		p.stats.Orphans++
		return
	}
	list, ok := p.table.records[nameHash]
	if !ok {
		list = make([]Record, 0, variantCapacity)
		p.table.order = append(p.table.order, nameHash)
	}
	p.table.records[nameHash] = append(list, rec)
	p.table.count++
	p.stats.Records++
}

// reachable reports whether some encoded key for hash is in the index.
func (p *parser) reachable(hash casctype.ContentHash) bool {
	keys, ok := p.content.Keys(hash[:])
	if !ok {
		return false
	}
	for _, k := range keys {
		if p.keys.Contains(k) {
			return true
		}
	}
	return false
}
