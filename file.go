package casc

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"strings"
	"time"
)

// ErrFileClosed is returned by operations on a closed File.
var ErrFileClosed = errors.New("casc: file closed")

// content is the decoded byte stream behind a File: a container decoder, or
// a cached copy.
type content interface {
	io.ReadSeeker
	io.WriterTo
	Size() int64
}

// File is an open file. It decodes its container lazily as it is read.
//
// File implements fs.File, io.Seeker and io.WriterTo. It is not safe for
// concurrent use.
type File struct {
	data     content
	release  func() error
	name     string
	record   RootRecord
	declared int64
	closed   bool
}

// Interface compliance.
var (
	_ fs.File     = (*File)(nil)
	_ io.Seeker   = (*File)(nil)
	_ io.WriterTo = (*File)(nil)
)

func newFile(data content, release func() error, name string, rec RootRecord, declared int64) *File {
	return &File{data: data, release: release, name: name, record: rec, declared: declared}
}

func newBytesFile(b []byte, name string, rec RootRecord) *File {
	return newFile(bytes.NewReader(b), nil, name, rec, int64(len(b)))
}

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, ErrFileClosed
	}
	return f.data.Read(p)
}

// Seek implements io.Seeker.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, ErrFileClosed
	}
	return f.data.Seek(offset, whence)
}

// WriteTo implements io.WriterTo.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	if f.closed {
		return 0, ErrFileClosed
	}
	return f.data.WriteTo(w)
}

// Close releases the decoded buffer.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if f.release != nil {
		return f.release()
	}
	return nil
}

// Name returns the name the file was opened by.
func (f *File) Name() string {
	return f.name
}

// ContentHash returns the hash of the decoded content.
func (f *File) ContentHash() ContentHash {
	return f.record.ContentHash
}

// FileDataID returns the file-data identifier from the root table.
func (f *File) FileDataID() uint32 {
	return f.record.FileDataID
}

// Size returns the decoded size. Containers without a chunk table fall back
// to the size recorded in the encoding table until they are decoded.
func (f *File) Size() int64 {
	if n := f.data.Size(); n >= 0 {
		return n
	}
	return f.declared
}

// Stat implements fs.File.
func (f *File) Stat() (fs.FileInfo, error) {
	if f.closed {
		return nil, ErrFileClosed
	}
	return &fileInfo{name: baseName(f.name), size: f.Size()}, nil
}

// baseName returns the last element of a name using either separator.
func baseName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		return name[i+1:]
	}
	return name
}

// fileInfo implements fs.FileInfo for stored files.
type fileInfo struct {
	name string
	size int64
}

// Name returns the base name of the file.
func (fi *fileInfo) Name() string { return fi.name }

// Size returns the decoded size in bytes.
func (fi *fileInfo) Size() int64 { return fi.size }

// Mode reports a read-only regular file.
func (fi *fileInfo) Mode() fs.FileMode { return 0o444 }

// ModTime returns the zero time; the storage keeps no modification times.
func (fi *fileInfo) ModTime() time.Time { return time.Time{} }

// IsDir returns false; the storage has no directories.
func (fi *fileInfo) IsDir() bool { return false }

// Sys returns nil.
func (fi *fileInfo) Sys() any { return nil }
