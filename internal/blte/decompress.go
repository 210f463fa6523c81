package blte

import (
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

// DecompressPool manages reusable inflaters to reduce allocation overhead.
// The zero value is not usable; use NewDecompressPool.
type DecompressPool struct {
	pool *sync.Pool
}

// NewDecompressPool creates a new pool of deflate readers.
func NewDecompressPool() *DecompressPool {
	return &DecompressPool{pool: &sync.Pool{}}
}

// defaultPool is shared by readers created without WithDecompressPool.
var defaultPool = NewDecompressPool()

// Get returns an inflater reading raw deflate data from r.
// The caller must call the returned release function when done.
func (p *DecompressPool) Get(r io.Reader) (io.ReadCloser, func()) {
	if p == nil || p.pool == nil {
		fr := flate.NewReader(r)
		return fr, func() { _ = fr.Close() }
	}

	if value, ok := p.pool.Get().(io.ReadCloser); ok {
		if resetter, ok := value.(flate.Resetter); ok {
			if err := resetter.Reset(r, nil); err == nil {
				return value, p.releaser(value)
			}
		}
	}

	fr := flate.NewReader(r)
	return fr, p.releaser(fr)
}

func (p *DecompressPool) releaser(fr io.ReadCloser) func() {
	return func() {
		_ = fr.Close() //nolint:errcheck // flate Close only reports prior read errors
		p.pool.Put(fr)
	}
}
