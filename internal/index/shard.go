package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/meigma/casc/internal/casctype"
	"github.com/meigma/casc/internal/sizing"
)

const (
	// RecordSize is the on-disk size of one shard record.
	RecordSize = casctype.EKeySize + 1 + 4 + 4

	// blockAlign is the alignment of the data block within a shard.
	blockAlign = 16

	// offsetBits is the width of the offset in the packed location field.
	offsetBits = 30
	offsetMask = 1<<offsetBits - 1
)

// Record locates an encoded blob inside a data archive.
type Record struct {
	// Archive is the N in data.N.
	Archive int

	// Offset is the byte offset of the blob's 30-byte entry header.
	Offset int64

	// Size is the stored length including the entry header.
	Size int64
}

// Entry is one parsed shard record.
type Entry struct {
	Key casctype.EKey
	Record
}

// ParseShard reads every record of one index shard, in file order.
//
// The shard starts with a length-prefixed header; the data block follows at
// the next 16-byte boundary and holds its own length, a checksum, and fixed
// size records.
func ParseShard(r io.Reader) ([]Entry, error) {
	var pre [8]byte
	if err := readFull(r, pre[:], "shard header"); err != nil {
		return nil, err
	}
	headerLen := int64(binary.LittleEndian.Uint32(pre[0:4]))
	blockStart := sizing.AlignUp(int64(len(pre))+headerLen, blockAlign)
	if _, err := io.CopyN(io.Discard, r, blockStart-int64(len(pre))); err != nil {
		return nil, truncated(err, "shard header")
	}

	var block [8]byte
	if err := readFull(r, block[:], "data block header"); err != nil {
		return nil, err
	}
	dataLen := int64(binary.LittleEndian.Uint32(block[0:4]))
	count := dataLen / RecordSize

	entries := make([]Entry, 0, count)
	var rec [RecordSize]byte
	for i := int64(0); i < count; i++ {
		if err := readFull(r, rec[:], "record"); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		entries = append(entries, decodeRecord(rec[:]))
	}
	return entries, nil
}

// decodeRecord unpacks key, archive number, offset and size from one record.
func decodeRecord(rec []byte) Entry {
	var e Entry
	copy(e.Key[:], rec[:casctype.EKeySize])
	high := uint32(rec[casctype.EKeySize])
	packed := binary.BigEndian.Uint32(rec[casctype.EKeySize+1:])
	e.Archive = int(high<<2 | packed>>offsetBits)
	e.Offset = int64(packed & offsetMask)
	e.Size = int64(binary.LittleEndian.Uint32(rec[casctype.EKeySize+5:]))
	return e
}

func readFull(r io.Reader, p []byte, what string) error {
	if _, err := io.ReadFull(r, p); err != nil {
		return truncated(err, what)
	}
	return nil
}

func truncated(err error, what string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated %s", casctype.ErrFormat, what)
	}
	return err
}
