package blte

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/meigma/casc/internal/casctype"
)

const (
	// Magic is the four-byte signature at the start of every container.
	Magic = "BLTE"

	// preambleSize covers the magic and the header size field.
	preambleSize = 8

	// chunkTableHeaderSize covers the flags byte and the 24-bit chunk count.
	chunkTableHeaderSize = 4

	// chunkInfoSize is the on-disk size of one chunk table entry.
	chunkInfoSize = 24

	// maxChunkCount is the largest count representable in 24 bits.
	maxChunkCount = 1<<24 - 1
)

// Mode is the encoding-mode byte that prefixes every chunk payload.
type Mode byte

// Encoding modes.
const (
	ModeRaw       Mode = 'N'
	ModeZlib      Mode = 'Z'
	ModeEncrypted Mode = 'E'
	ModeFrame     Mode = 'F'
)

// String returns the human-readable name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeRaw:
		return "raw"
	case ModeZlib:
		return "zlib"
	case ModeEncrypted:
		return "encrypted"
	case ModeFrame:
		return "frame"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(m))
	}
}

// Chunk describes one entry of the chunk table.
type Chunk struct {
	// CompressedSize is the payload length excluding the mode byte.
	// On disk the stored value includes the mode byte.
	CompressedSize int64

	// DecompressedSize is the declared decoded length, or -1 when it is not
	// known yet (legacy single-chunk containers before decoding).
	DecompressedSize int64

	// Checksum is the MD5 of the on-disk chunk. It is carried but not verified.
	Checksum [16]byte
}

// parseHeader reads the container header from src and returns the chunk
// table together with the offset of the first payload byte.
func parseHeader(src io.ReaderAt, length int64) ([]Chunk, int64, error) {
	if length < preambleSize {
		return nil, 0, fmt.Errorf("%w: container of %d bytes is too short", casctype.ErrFormat, length)
	}

	var pre [preambleSize]byte
	if err := readFullAt(src, pre[:], 0); err != nil {
		return nil, 0, err
	}
	if string(pre[:4]) != Magic {
		return nil, 0, fmt.Errorf("%w: bad magic %x", casctype.ErrFormat, pre[:4])
	}
	headerSize := int64(binary.BigEndian.Uint32(pre[4:]))

	if headerSize == 0 {
		if length < preambleSize+1 {
			return nil, 0, fmt.Errorf("%w: legacy container has no payload", casctype.ErrFormat)
		}
		return []Chunk{{
			CompressedSize:   length - preambleSize - 1,
			DecompressedSize: -1,
		}}, preambleSize, nil
	}

	var table [chunkTableHeaderSize]byte
	if err := readFullAt(src, table[:], preambleSize); err != nil {
		return nil, 0, err
	}
	count := int64(binary.BigEndian.Uint32(table[:]) & maxChunkCount)
	if count == 0 {
		return nil, 0, fmt.Errorf("%w: zero chunk count", casctype.ErrFormat)
	}
	if want := chunkTableHeaderSize + preambleSize + count*chunkInfoSize; headerSize != want {
		return nil, 0, fmt.Errorf("%w: header size %d does not match %d chunks", casctype.ErrFormat, headerSize, count)
	}
	if headerSize > length {
		return nil, 0, fmt.Errorf("%w: header size %d exceeds container length %d", casctype.ErrFormat, headerSize, length)
	}

	raw := make([]byte, count*chunkInfoSize)
	if err := readFullAt(src, raw, preambleSize+chunkTableHeaderSize); err != nil {
		return nil, 0, err
	}

	chunks := make([]Chunk, count)
	payloadEnd := headerSize
	for i := range chunks {
		rec := raw[i*chunkInfoSize : (i+1)*chunkInfoSize]
		stored := int64(binary.BigEndian.Uint32(rec[0:4]))
		if stored == 0 {
			return nil, 0, fmt.Errorf("%w: chunk %d has no mode byte", casctype.ErrFormat, i)
		}
		chunks[i].CompressedSize = stored - 1
		chunks[i].DecompressedSize = int64(binary.BigEndian.Uint32(rec[4:8]))
		copy(chunks[i].Checksum[:], rec[8:24])
		payloadEnd += stored
	}
	if payloadEnd > length {
		return nil, 0, fmt.Errorf("%w: chunks need %d bytes, container has %d", casctype.ErrFormat, payloadEnd, length)
	}
	return chunks, headerSize, nil
}

// readFullAt fills p from src at off. A short read is reported as a format
// error because container lengths are declared up front.
func readFullAt(src io.ReaderAt, p []byte, off int64) error {
	n, err := src.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated container at offset %d", casctype.ErrFormat, off+int64(n))
	}
	return err
}
