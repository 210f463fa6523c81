package casc

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/meigma/casc/internal/blte"
	"github.com/meigma/casc/internal/sizing"
)

// errNotLocated reports content whose encoded keys are absent from the
// index. It matches fs.ErrNotExist.
var errNotLocated = fmt.Errorf("content not located: %w", fs.ErrNotExist)

// Interface compliance.
var (
	_ fs.FS         = (*Storage)(nil)
	_ fs.ReadFileFS = (*Storage)(nil)
	_ fs.StatFS     = (*Storage)(nil)
)

// Open implements fs.FS. Names are looked up in the root table; the storage
// has no directories.
func (s *Storage) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	f, ok, err := s.OpenName(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return f, nil
}

// Stat implements fs.StatFS without decoding the file.
func (s *Storage) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	recs := s.Records(name)
	if len(recs) == 0 {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return &fileInfo{name: baseName(name), size: s.fileSize(recs[0].ContentHash)}, nil
}

// ReadFile implements fs.ReadFileFS.
//
// ReadFile checks the cache first and returns cached content if available.
// On cache miss, it decodes the file and caches the result. Concurrent
// calls for the same content are deduplicated, so content shared by several
// names is decoded once.
func (s *Storage) ReadFile(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}
	recs := s.Records(name)
	if len(recs) == 0 {
		s.metrics.resolved(kindName, false)
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrNotExist}
	}
	data, err := s.readRecord(recs[0], name, kindName)
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	return data, nil
}

// ReadFileDataID reads the whole file with the given file-data identifier.
// It reports false if the identifier is not in the root table.
func (s *Storage) ReadFileDataID(id uint32) ([]byte, bool, error) {
	_, recs, ok := s.root.ByFileDataID(id)
	if !ok {
		s.metrics.resolved(kindFileDataID, false)
		return nil, false, nil
	}
	data, err := s.readRecord(recs[0], fmt.Sprintf("%d", id), kindFileDataID)
	if errors.Is(err, errNotLocated) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// readRecord returns the decoded content of rec and records the resolution
// outcome for kind.
func (s *Storage) readRecord(rec RootRecord, name, kind string) ([]byte, error) {
	if s.cache != nil {
		data, hit := s.cache.Get(rec.ContentHash[:])
		s.metrics.cacheLookup(hit)
		if hit {
			s.metrics.resolved(kind, true)
			return data, nil
		}
	}

	// All callers wanting the same content share one decode, whatever name
	// they asked for.
	result, err, _ := s.readGroup.Do(string(rec.ContentHash[:]), func() (any, error) {
		if s.cache != nil {
			if data, ok := s.cache.Get(rec.ContentHash[:]); ok {
				return data, nil
			}
		}
		data, err := s.decode(rec, name)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.Put(rec.ContentHash[:], data); err != nil {
				s.log().Warn("cache put failed", "name", name, "error", err)
			}
		}
		return data, nil
	})
	s.metrics.resolved(kind, !errors.Is(err, errNotLocated))
	if err != nil {
		return nil, err
	}
	data, _ := result.([]byte) //nolint:errcheck // type assertion always succeeds when err is nil
	s.metrics.read(len(data))
	return data, nil
}

// decode reads a record's whole container, honoring the file size limit.
func (s *Storage) decode(rec RootRecord, name string) ([]byte, error) {
	if size := s.fileSize(rec.ContentHash); size > 0 && s.maxFileSize > 0 && uint64(size) > s.maxFileSize {
		return nil, fmt.Errorf("%s is %d bytes: %w", name, size, ErrSizeOverflow)
	}
	loc, ok := s.locate(rec.ContentHash)
	if !ok {
		return nil, fmt.Errorf("content %s: %w", rec.ContentHash, errNotLocated)
	}
	r, err := s.openBlob(loc)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if size := r.Size(); size >= 0 && s.maxFileSize > 0 && uint64(size) > s.maxFileSize {
		return nil, fmt.Errorf("%s is %d bytes: %w", name, size, ErrSizeOverflow)
	}
	var data []byte
	if s.maxFileSize == 0 {
		data, err = blte.ReadAll(r)
	} else {
		data, err = sizing.ReadAllWithLimit(r, s.maxFileSize, ErrSizeOverflow)
	}
	if err != nil {
		return nil, err
	}
	s.log().Debug("file decoded", "name", name, "size", len(data), "chunks", len(r.Chunks()))
	return data, nil
}
