package testutil

import (
	"bytes"
	"crypto/md5" //nolint:gosec // chunk checksums are MD5 on disk
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/zlib"
)

// Chunk is one chunk of a container under construction.
type Chunk struct {
	// Mode is the encoding-mode byte written before the payload.
	Mode byte

	// Payload is written after the mode byte as-is.
	Payload []byte

	// DecodedSize is the declared decoded length.
	DecodedSize int
}

// RawChunk returns an 'N' chunk holding data.
func RawChunk(data []byte) Chunk {
	return Chunk{Mode: 'N', Payload: data, DecodedSize: len(data)}
}

// ZlibChunk returns a 'Z' chunk holding the zlib stream of data.
func ZlibChunk(tb testing.TB, data []byte) Chunk {
	tb.Helper()
	return Chunk{Mode: 'Z', Payload: Zlib(tb, data), DecodedSize: len(data)}
}

// Zlib compresses data as a zlib stream.
func Zlib(tb testing.TB, data []byte) []byte {
	tb.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		tb.Fatalf("zlib write: %v", err)
	}
	if err := zw.Close(); err != nil {
		tb.Fatalf("zlib close: %v", err)
	}
	return buf.Bytes()
}

// BuildBLTE encodes chunks as a container with a chunk table.
func BuildBLTE(tb testing.TB, chunks ...Chunk) []byte {
	tb.Helper()
	if len(chunks) == 0 {
		tb.Fatal("BuildBLTE: no chunks")
	}
	headerSize := 12 + 24*len(chunks)

	var buf bytes.Buffer
	buf.WriteString("BLTE")
	buf.Write(binary.BigEndian.AppendUint32(nil, uint32(headerSize))) //nolint:gosec // test sizes are small
	buf.Write(binary.BigEndian.AppendUint32(nil, 0x0F<<24|uint32(len(chunks))))
	for _, c := range chunks {
		stored := append([]byte{c.Mode}, c.Payload...)
		sum := md5.Sum(stored) //nolint:gosec // format checksum
		buf.Write(binary.BigEndian.AppendUint32(nil, uint32(len(stored))))   //nolint:gosec // test sizes are small
		buf.Write(binary.BigEndian.AppendUint32(nil, uint32(c.DecodedSize))) //nolint:gosec // test sizes are small
		buf.Write(sum[:])
	}
	for _, c := range chunks {
		buf.WriteByte(c.Mode)
		buf.Write(c.Payload)
	}
	return buf.Bytes()
}

// BuildLegacyBLTE encodes a single chunk container without a chunk table.
func BuildLegacyBLTE(mode byte, payload []byte) []byte {
	out := make([]byte, 0, 9+len(payload))
	out = append(out, "BLTE"...)
	out = binary.BigEndian.AppendUint32(out, 0)
	out = append(out, mode)
	return append(out, payload...)
}

// RawBLTE encodes data as raw chunks of at most chunkSize bytes.
// A chunkSize <= 0 uses a single chunk.
func RawBLTE(tb testing.TB, data []byte, chunkSize int) []byte {
	tb.Helper()
	return BuildBLTE(tb, split(data, chunkSize, RawChunk)...)
}

// ZlibBLTE encodes data as zlib chunks of at most chunkSize decoded bytes.
// A chunkSize <= 0 uses a single chunk.
func ZlibBLTE(tb testing.TB, data []byte, chunkSize int) []byte {
	tb.Helper()
	return BuildBLTE(tb, split(data, chunkSize, func(p []byte) Chunk { return ZlibChunk(tb, p) })...)
}

func split(data []byte, size int, chunk func([]byte) Chunk) []Chunk {
	if size <= 0 || len(data) <= size {
		return []Chunk{chunk(data)}
	}
	var out []Chunk
	for len(data) > 0 {
		n := min(size, len(data))
		out = append(out, chunk(data[:n]))
		data = data[n:]
	}
	return out
}
