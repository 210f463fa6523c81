package testutil

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/meigma/casc/internal/casctype"
)

// IndexRecord is one record of an index shard under construction.
type IndexRecord struct {
	Key     casctype.EKey
	Archive int
	Offset  int64
	Size    int64
}

// indexHeaderLen leaves the data block on a padded 16-byte boundary.
const indexHeaderLen = 0x10

// BuildIndexShard encodes records as one index shard.
func BuildIndexShard(tb testing.TB, records []IndexRecord) []byte {
	tb.Helper()
	var buf bytes.Buffer
	buf.Write(binary.LittleEndian.AppendUint32(nil, indexHeaderLen))
	buf.Write(binary.LittleEndian.AppendUint32(nil, 0xC0FFEE))
	// version, bucket, offset bytes, size bytes, key bytes, file offset bits
	buf.Write([]byte{0x07, 0x00, 0x00, 0x00, 0x04, 0x05, 0x09, 0x1E})
	buf.Write(make([]byte, indexHeaderLen-8))
	for buf.Len()%16 != 0 {
		buf.WriteByte(0)
	}

	buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(records)*18))) //nolint:gosec // test sizes are small
	buf.Write(binary.LittleEndian.AppendUint32(nil, 0xBADF00D))
	for _, r := range records {
		if r.Archive < 0 || r.Archive > 0x3FF || r.Offset < 0 || r.Offset > 0x3FFFFFFF {
			tb.Fatalf("BuildIndexShard: location (%d, %d) out of range", r.Archive, r.Offset)
		}
		buf.Write(r.Key[:])
		buf.WriteByte(byte(r.Archive >> 2))
		packed := uint32(r.Archive&3)<<30 | uint32(r.Offset) //nolint:gosec // checked above
		buf.Write(binary.BigEndian.AppendUint32(nil, packed))
		buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(r.Size))) //nolint:gosec // test sizes are small
	}
	return buf.Bytes()
}

// Bucket returns the index bucket of key.
func Bucket(key casctype.EKey) int {
	var x byte
	for _, b := range key {
		x ^= b
	}
	return int((x & 0x0f) ^ (x >> 4))
}

// EncodingEntry is one entry of an encoding page under construction.
// Hash and Keys are padded or cut to the table's checksum size.
type EncodingEntry struct {
	Hash     []byte
	FileSize uint32
	Keys     [][]byte
}

// EncodingPageSize is the fixed size of an encoding page.
const EncodingPageSize = 4096

// BuildEncoding encodes pages of entries with zero padding.
func BuildEncoding(tb testing.TB, checksumSize int, pages ...[]EncodingEntry) []byte {
	tb.Helper()
	return BuildEncodingPadded(tb, checksumSize, 0, pages...)
}

// BuildEncodingPadded encodes pages of entries, filling the unused tail of
// each page with pad.
func BuildEncodingPadded(tb testing.TB, checksumSize int, pad byte, pages ...[]EncodingEntry) []byte {
	tb.Helper()
	stringBlock := []byte("b:{22=n,54=z,192=n,*=z}\x00")

	var buf bytes.Buffer
	var hdr [22]byte
	copy(hdr[0:2], "EN")
	hdr[2] = 1
	hdr[3] = byte(checksumSize)
	hdr[4] = byte(checksumSize)
	binary.BigEndian.PutUint16(hdr[5:7], 4)
	binary.BigEndian.PutUint16(hdr[7:9], 4)
	binary.BigEndian.PutUint32(hdr[9:13], uint32(len(pages))) //nolint:gosec // test sizes are small
	binary.BigEndian.PutUint32(hdr[13:17], 0)
	binary.BigEndian.PutUint32(hdr[18:22], uint32(len(stringBlock))) //nolint:gosec // test sizes are small
	buf.Write(hdr[:])
	buf.Write(stringBlock)
	buf.Write(bytes.Repeat([]byte{0xAB}, 2*len(pages)*16))

	for i, entries := range pages {
		page := make([]byte, 0, EncodingPageSize)
		for _, e := range entries {
			page = binary.LittleEndian.AppendUint16(page, uint16(len(e.Keys))) //nolint:gosec // test sizes are small
			page = binary.BigEndian.AppendUint32(page, e.FileSize)
			page = append(page, fit(e.Hash, checksumSize)...)
			for _, k := range e.Keys {
				page = append(page, fit(k, checksumSize)...)
			}
		}
		if len(page) > EncodingPageSize {
			tb.Fatalf("BuildEncoding: page %d holds %d bytes", i, len(page))
		}
		for len(page) < EncodingPageSize {
			page = append(page, pad)
		}
		buf.Write(page)
	}
	return buf.Bytes()
}

func fit(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)
	return out
}

// RootRecord is one record of a root block under construction.
type RootRecord struct {
	FileDataID  uint32
	ContentHash casctype.ContentHash
	NameHash    uint64
}

// BuildRoot encodes blocks of records. Identifiers within a block must be
// ascending.
func BuildRoot(tb testing.TB, blocks ...[]RootRecord) []byte {
	tb.Helper()
	var buf bytes.Buffer
	for _, recs := range blocks {
		buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(recs)))) //nolint:gosec // test sizes are small
		buf.Write(binary.LittleEndian.AppendUint32(nil, 0))                 // content flags
		buf.Write(binary.LittleEndian.AppendUint32(nil, 0x2))               // locale flags
		var next uint32
		for _, r := range recs {
			// The delta is signed on disk; unsigned subtraction yields the same bits.
			buf.Write(binary.LittleEndian.AppendUint32(nil, r.FileDataID-next))
			next = r.FileDataID + 1
		}
		for _, r := range recs {
			buf.Write(r.ContentHash[:])
			buf.Write(binary.LittleEndian.AppendUint64(nil, r.NameHash))
		}
	}
	return buf.Bytes()
}

// ArchiveEntryHeaderSize is the size of the header preceding each blob in a
// data archive.
const ArchiveEntryHeaderSize = 30

// Archive builds a data archive.
type Archive struct {
	buf bytes.Buffer
}

// Add appends a blob stored under the full encoded key ekey and returns its
// offset and stored size, header included.
func (a *Archive) Add(ekey [16]byte, blob []byte) (offset, size int64) {
	offset = int64(a.buf.Len())
	size = int64(ArchiveEntryHeaderSize + len(blob))

	var hdr [ArchiveEntryHeaderSize]byte
	for i := range ekey {
		hdr[i] = ekey[len(ekey)-1-i]
	}
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(size)) //nolint:gosec // test sizes are small
	a.buf.Write(hdr[:])
	a.buf.Write(blob)
	return offset, size
}

// Pad appends n filler bytes.
func (a *Archive) Pad(n int) {
	a.buf.Write(bytes.Repeat([]byte{0xEE}, n))
}

// Bytes returns the archive contents.
func (a *Archive) Bytes() []byte {
	return a.buf.Bytes()
}
