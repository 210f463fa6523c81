package blte

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/meigma/casc/internal/casctype"
	"github.com/meigma/casc/internal/sizing"
)

const (
	// zlibHeaderSize is the zlib stream header preceding raw deflate data.
	zlibHeaderSize = 2

	// DefaultMaxChunkSize is the default limit on a single decoded chunk (256MB).
	DefaultMaxChunkSize = 256 << 20
)

// ErrClosed is returned by operations on a closed Reader.
var ErrClosed = errors.New("blte: reader closed")

// Option configures a Reader.
type Option func(*Reader)

// WithDecompressPool sets the inflater pool used for 'Z' chunks.
func WithDecompressPool(p *DecompressPool) Option {
	return func(r *Reader) {
		r.pool = p
	}
}

// WithMaxChunkSize limits the size of a single decoded compressed chunk.
// Set limit to 0 to disable the limit.
func WithMaxChunkSize(limit uint64) Option {
	return func(r *Reader) {
		r.maxChunkSize = limit
	}
}

// Reader is a forward-decoding, seekable view of a container's decoded bytes.
//
// Decoded bytes are kept in a growing buffer so backward seeks never re-decode.
// The decode position is tracked as the current chunk plus the payload bytes
// still unread in it, which lets raw chunks be copied through piecemeal.
//
// A Reader is not safe for concurrent use. Independent Readers over the same
// io.ReaderAt are.
type Reader struct {
	src          *io.SectionReader
	chunks       []Chunk
	size         int64
	pool         *DecompressPool
	maxChunkSize uint64

	// decode state
	chunk          int
	mode           Mode
	modeRead       bool
	chunkRemaining int64
	srcPos         int64

	buf []byte
	pos int64

	err    error
	closed bool
}

// Interface compliance.
var (
	_ io.ReadSeekCloser = (*Reader)(nil)
	_ io.WriterTo       = (*Reader)(nil)
)

// NewReader parses the container header of the length bytes at off in src.
//
// No chunk is decoded until the first Read or Seek.
func NewReader(src io.ReaderAt, off, length int64, opts ...Option) (*Reader, error) {
	if off < 0 || length < 0 {
		return nil, fmt.Errorf("%w: negative container window (%d, %d)", casctype.ErrFormat, off, length)
	}
	section := io.NewSectionReader(src, off, length)
	chunks, dataStart, err := parseHeader(section, length)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		src:          section,
		chunks:       chunks,
		pool:         defaultPool,
		maxChunkSize: DefaultMaxChunkSize,
		srcPos:       dataStart,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.size = r.declaredSize()
	return r, nil
}

// Size returns the total decoded length, or -1 if a legacy container has not
// been decoded far enough to know it.
func (r *Reader) Size() int64 {
	return r.size
}

// Chunks returns a copy of the parsed chunk table.
func (r *Reader) Chunks() []Chunk {
	out := make([]Chunk, len(r.chunks))
	copy(out, r.chunks)
	return out
}

// Decoded returns the number of bytes decoded so far.
func (r *Reader) Decoded() int64 {
	return int64(len(r.buf))
}

// Read implements io.Reader. It decodes only as many chunks as needed to
// satisfy len(p). Bytes decoded before a failing chunk are returned first;
// the error is reported once they are consumed.
func (r *Reader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if r.err == nil {
		_ = r.fill(r.pos + int64(len(p))) //nolint:errcheck // recorded in r.err
	}
	if r.pos < int64(len(r.buf)) {
		n := copy(p, r.buf[r.pos:])
		r.pos += int64(n)
		return n, nil
	}
	if r.err != nil {
		return 0, r.err
	}
	return 0, io.EOF
}

// WriteTo implements io.WriterTo, decoding chunk by chunk into w.
func (r *Reader) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for {
		if r.closed {
			return total, ErrClosed
		}
		if r.err != nil {
			return total, r.err
		}
		if r.pos < int64(len(r.buf)) {
			n, err := w.Write(r.buf[r.pos:])
			r.pos += int64(n)
			total += int64(n)
			if err != nil {
				return total, err
			}
			continue
		}
		if r.exhausted() {
			return total, nil
		}
		if err := r.step(r.stepHint()); err != nil {
			r.err = err
			return total, err
		}
	}
}

// Seek implements io.Seeker. Seeking forward past the decoded region decodes
// up to the target; seeking past the end of the stream is an error.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	if r.closed {
		return 0, ErrClosed
	}
	if r.err != nil {
		return 0, r.err
	}

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.pos + offset
	case io.SeekEnd:
		if r.size < 0 {
			if err := r.fill(-1); err != nil {
				return 0, err
			}
		}
		abs = r.size + offset
	default:
		return 0, fmt.Errorf("blte: seek: invalid whence %d", whence)
	}

	if abs < 0 {
		return 0, fmt.Errorf("blte: seek: negative position %d", abs)
	}
	if r.size >= 0 && abs > r.size {
		return 0, fmt.Errorf("blte: seek: position %d beyond end %d", abs, r.size)
	}
	if abs > int64(len(r.buf)) {
		if err := r.fill(abs); err != nil {
			return 0, err
		}
		if abs > int64(len(r.buf)) {
			return 0, fmt.Errorf("blte: seek: position %d beyond end %d", abs, len(r.buf))
		}
	}
	r.pos = abs
	return abs, nil
}

// Close releases the decoded buffer. It does not close the underlying source.
func (r *Reader) Close() error {
	r.closed = true
	r.buf = nil
	return nil
}

// ReadAll decodes the whole container.
func ReadAll(r *Reader) ([]byte, error) {
	var b bytes.Buffer
	if size := r.Size(); size > 0 {
		b.Grow(int(size))
	}
	if _, err := r.WriteTo(&b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// fill decodes until at least target bytes are buffered or the container is
// exhausted. A negative target decodes everything.
func (r *Reader) fill(target int64) error {
	for target < 0 || int64(len(r.buf)) < target {
		if r.exhausted() {
			return nil
		}
		need := target - int64(len(r.buf))
		if target < 0 {
			need = r.stepHint()
		}
		if err := r.step(need); err != nil {
			r.err = err
			return err
		}
	}
	return nil
}

func (r *Reader) exhausted() bool {
	return r.chunk >= len(r.chunks)
}

// stepHint is the request size used when draining without a target.
func (r *Reader) stepHint() int64 {
	const rawCopySize = 1 << 20
	return rawCopySize
}

// step performs one unit of decode work on the current chunk, appending at
// most need bytes for raw chunks and the whole chunk for compressed ones.
func (r *Reader) step(need int64) error {
	c := &r.chunks[r.chunk]
	if !r.modeRead {
		var m [1]byte
		if err := readFullAt(r.src, m[:], r.srcPos); err != nil {
			return err
		}
		r.srcPos++
		r.mode = Mode(m[0])
		r.modeRead = true
		r.chunkRemaining = c.CompressedSize
		if c.DecompressedSize < 0 && r.mode == ModeRaw {
			c.DecompressedSize = c.CompressedSize
			r.size = r.declaredSize()
		}
	}

	switch r.mode {
	case ModeRaw:
		return r.stepRaw(c, need)
	case ModeZlib:
		return r.stepZlib(c)
	case ModeEncrypted, ModeFrame:
		return fmt.Errorf("%w: chunk %d uses %s encoding", casctype.ErrNotSupported, r.chunk, r.mode)
	default:
		return fmt.Errorf("%w: chunk %d has unknown encoding mode 0x%02x", casctype.ErrFormat, r.chunk, byte(r.mode))
	}
}

func (r *Reader) stepRaw(c *Chunk, need int64) error {
	if c.DecompressedSize != c.CompressedSize {
		return fmt.Errorf("%w: raw chunk %d declares %d decoded bytes for %d stored",
			casctype.ErrFormat, r.chunk, c.DecompressedSize, c.CompressedSize)
	}
	n := min(need, r.chunkRemaining)
	if n > 0 {
		start := len(r.buf)
		r.buf = grow(r.buf, int(n))
		if err := readFullAt(r.src, r.buf[start:], r.srcPos); err != nil {
			r.buf = r.buf[:start]
			return err
		}
		r.srcPos += n
		r.chunkRemaining -= n
	}
	if r.chunkRemaining == 0 {
		r.advance()
	}
	return nil
}

func (r *Reader) stepZlib(c *Chunk) error {
	if r.chunkRemaining < zlibHeaderSize {
		return fmt.Errorf("%w: zlib chunk %d is %d bytes", casctype.ErrFormat, r.chunk, r.chunkRemaining)
	}
	if c.DecompressedSize >= 0 && r.maxChunkSize > 0 && uint64(c.DecompressedSize) > r.maxChunkSize {
		return fmt.Errorf("chunk %d: %w", r.chunk, casctype.ErrSizeOverflow)
	}
	payloadLen, err := sizing.ToInt(uint64(r.chunkRemaining), casctype.ErrSizeOverflow)
	if err != nil {
		return err
	}
	payload := make([]byte, payloadLen)
	if err := readFullAt(r.src, payload, r.srcPos); err != nil {
		return err
	}

	dec, release := r.pool.Get(bytes.NewReader(payload[zlibHeaderSize:]))
	defer release()

	start := len(r.buf)
	if c.DecompressedSize >= 0 {
		r.buf = grow(r.buf, int(c.DecompressedSize))
		if _, err := io.ReadFull(dec, r.buf[start:]); err != nil {
			r.buf = r.buf[:start]
			return fmt.Errorf("%w: inflate chunk %d: %v", casctype.ErrFormat, r.chunk, err)
		}
		if extra, _ := io.ReadFull(dec, make([]byte, 1)); extra != 0 {
			r.buf = r.buf[:start]
			return fmt.Errorf("%w: chunk %d inflates beyond %d bytes", casctype.ErrFormat, r.chunk, c.DecompressedSize)
		}
	} else {
		out, err := sizing.ReadAllWithLimit(dec, r.maxChunkSize, casctype.ErrSizeOverflow)
		if err != nil {
			if errors.Is(err, casctype.ErrSizeOverflow) {
				return fmt.Errorf("chunk %d: %w", r.chunk, err)
			}
			return fmt.Errorf("%w: inflate chunk %d: %v", casctype.ErrFormat, r.chunk, err)
		}
		r.buf = append(r.buf, out...)
		c.DecompressedSize = int64(len(out))
		r.size = r.declaredSize()
	}

	r.srcPos += r.chunkRemaining
	r.chunkRemaining = 0
	r.advance()
	return nil
}

func (r *Reader) advance() {
	r.chunk++
	r.modeRead = false
	r.chunkRemaining = 0
}

// declaredSize sums the declared decoded sizes, returning -1 if any is unknown.
func (r *Reader) declaredSize() int64 {
	var total int64
	for _, c := range r.chunks {
		if c.DecompressedSize < 0 {
			return -1
		}
		total += c.DecompressedSize
	}
	return total
}

// grow extends b by n bytes, reallocating geometrically.
func grow(b []byte, n int) []byte {
	if cap(b)-len(b) < n {
		nb := make([]byte, len(b), max(2*cap(b), len(b)+n))
		copy(nb, b)
		b = nb
	}
	return b[:len(b)+n]
}
