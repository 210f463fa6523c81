// Package store abstracts the byte-addressable file store holding a storage's
// data archives and index shards.
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Source provides random access to one stored file.
//
// SourceID must return a stable identifier for the underlying content.
// ReadAt must be safe for concurrent use.
type Source interface {
	io.ReaderAt
	io.Closer
	Size() int64
	SourceID() string
}

// Store opens files by their conventional names (data.000, 0a0000012f.idx).
type Store interface {
	// Open opens the named file.
	Open(name string) (Source, error)

	// Glob returns the names matching pattern in lexical order, using
	// path.Match syntax.
	Glob(pattern string) ([]string, error)
}

// ArchiveName returns the file name of data archive n.
func ArchiveName(n int) string {
	return fmt.Sprintf("data.%03d", n)
}

// Dir is a Store over a local directory, normally <install>/Data/data.
type Dir struct {
	root string
}

// Interface compliance.
var (
	_ Store  = (*Dir)(nil)
	_ Source = (*fileSource)(nil)
)

// NewDir returns a Store rooted at dir.
func NewDir(dir string) *Dir {
	return &Dir{root: dir}
}

// Root returns the directory the store reads from.
func (d *Dir) Root() string {
	return d.root
}

// Open implements Store.
func (d *Dir) Open(name string) (Source, error) {
	if !filepath.IsLocal(name) {
		return nil, fmt.Errorf("open %s: invalid name", name)
	}
	f, err := os.Open(filepath.Join(d.root, name)) //nolint:gosec // name is checked to stay under root
	if err != nil {
		return nil, err
	}
	src, err := newFileSource(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}

// Glob implements Store.
func (d *Dir) Glob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(d.root, pattern))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	sort.Strings(names)
	return names, nil
}

// fileSource wraps *os.File to implement Source.
// os.File has ReadAt but not Size, so we cache the size at construction.
type fileSource struct {
	file     *os.File
	size     int64
	sourceID string
}

func newFileSource(f *os.File) (*fileSource, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", f.Name(), err)
	}
	return &fileSource{
		file:     f,
		size:     info.Size(),
		sourceID: fileSourceID(f.Name(), info),
	}, nil
}

// ReadAt implements io.ReaderAt.
func (fs *fileSource) ReadAt(p []byte, off int64) (int, error) {
	return fs.file.ReadAt(p, off)
}

// Size returns the total size of the file.
func (fs *fileSource) Size() int64 {
	return fs.size
}

// SourceID returns a stable identifier for the file content.
func (fs *fileSource) SourceID() string {
	return fs.sourceID
}

// Close closes the file.
func (fs *fileSource) Close() error {
	return fs.file.Close()
}

func fileSourceID(path string, info os.FileInfo) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	return fmt.Sprintf("file:%s:%d:%d", absPath, info.Size(), info.ModTime().UnixNano())
}
