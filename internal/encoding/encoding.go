// Package encoding parses the encoding table, which maps full content hashes
// to the encoded keys of the blobs that store that content.
//
// The table is itself stored as a BLTE blob; Parse consumes its decoded bytes.
package encoding

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/meigma/casc/internal/casctype"
)

const (
	// Magic is the two-byte tag at the start of the table.
	Magic = "EN"

	// PageSize is the size of every entry page.
	PageSize = 4096

	// pageHeaderSize is the per-page first-key and checksum pair that precedes
	// the pages, stored once per page in each of two header blocks.
	pageHeaderSize = 16
)

// Entry lists the encoded keys storing one piece of content.
type Entry struct {
	// FileSize is the decoded size of the content.
	FileSize uint32

	// Keys are the encoded keys of the blobs holding the content, in table order.
	Keys []casctype.EKey
}

// Table maps content hashes to entries.
type Table struct {
	checksumSize int
	entries      map[string]Entry
}

// Lookup returns the entry for a content hash.
func (t *Table) Lookup(hash []byte) (Entry, bool) {
	e, ok := t.entries[string(hash)]
	return e, ok
}

// Keys returns the encoded keys storing a content hash.
func (t *Table) Keys(hash []byte) ([]casctype.EKey, bool) {
	e, ok := t.entries[string(hash)]
	return e.Keys, ok
}

// Len returns the number of content hashes in the table.
func (t *Table) Len() int {
	return len(t.entries)
}

// ChecksumSize returns the hash length declared by the table header.
func (t *Table) ChecksumSize() int {
	return t.checksumSize
}

type header struct {
	checksumSize int
	pageCount    uint32
}

// Parse reads an encoding table. A later entry for the same content hash
// replaces an earlier one.
func Parse(r io.Reader) (*Table, error) {
	br := bufio.NewReader(r)
	h, err := parseHeader(br)
	if err != nil {
		return nil, err
	}

	t := &Table{
		checksumSize: h.checksumSize,
		entries:      make(map[string]Entry),
	}
	page := make([]byte, PageSize)
	for i := uint32(0); i < h.pageCount; i++ {
		n, err := io.ReadFull(br, page)
		switch {
		case err == nil:
		case errors.Is(err, io.ErrUnexpectedEOF):
			// A short final page is parsed as far as it goes.
		case errors.Is(err, io.EOF):
			return t, nil
		default:
			return nil, fmt.Errorf("encoding page %d: %w", i, err)
		}
		if err := t.parsePage(page[:n]); err != nil {
			return nil, fmt.Errorf("encoding page %d: %w", i, err)
		}
		if n < PageSize {
			return t, nil
		}
	}
	return t, nil
}

func parseHeader(r io.Reader) (header, error) {
	// tag(2) version(1) checksumSizeA(1) checksumSizeB(1) flagsA(2) flagsB(2)
	// pageCountA(4) pageCountB(4) unknown(1) stringBlockSize(4)
	var raw [22]byte
	if err := readFull(r, raw[:], "header"); err != nil {
		return header{}, err
	}
	if string(raw[0:2]) != Magic {
		return header{}, fmt.Errorf("%w: bad encoding tag %x", casctype.ErrFormat, raw[0:2])
	}
	h := header{
		checksumSize: int(raw[3]),
		pageCount:    binary.BigEndian.Uint32(raw[9:13]),
	}
	if h.checksumSize == 0 {
		return header{}, fmt.Errorf("%w: zero checksum size", casctype.ErrFormat)
	}
	stringBlockSize := int64(binary.BigEndian.Uint32(raw[18:22]))

	skip := stringBlockSize + 2*int64(h.pageCount)*pageHeaderSize
	if _, err := io.CopyN(io.Discard, r, skip); err != nil {
		return header{}, truncated(err, "header blocks")
	}
	return h, nil
}

// parsePage decodes the entries of one page. Entries stop at a zero key
// count or when fewer than two bytes remain; whatever follows is padding.
func (t *Table) parsePage(page []byte) error {
	cs := t.checksumSize
	off := 0
	for len(page)-off >= 2 {
		keyCount := int(binary.LittleEndian.Uint16(page[off:]))
		if keyCount == 0 {
			return nil
		}
		size := 2 + 4 + cs + keyCount*cs
		if off+size > len(page) {
			return fmt.Errorf("%w: entry at offset %d overruns page (%d bytes)", casctype.ErrFormat, off, size)
		}
		p := page[off+2 : off+size]
		e := Entry{
			FileSize: binary.BigEndian.Uint32(p[0:4]),
			Keys:     make([]casctype.EKey, keyCount),
		}
		hash := string(p[4 : 4+cs])
		keys := p[4+cs:]
		for k := range e.Keys {
			e.Keys[k] = casctype.EKeyFromBytes(keys[k*cs : (k+1)*cs])
		}
		t.entries[hash] = e
		off += size
	}
	return nil
}

func readFull(r io.Reader, p []byte, what string) error {
	if _, err := io.ReadFull(r, p); err != nil {
		return truncated(err, what)
	}
	return nil
}

func truncated(err error, what string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated encoding %s", casctype.ErrFormat, what)
	}
	return err
}
