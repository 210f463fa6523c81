package casc

import (
	"errors"

	"github.com/meigma/casc/internal/casctype"
)

// Sentinel errors re-exported from internal/casctype.
var (
	// ErrFormat is returned when a table or container is malformed.
	ErrFormat = casctype.ErrFormat

	// ErrNotSupported is returned for valid but unsupported encodings,
	// such as encrypted chunks.
	ErrNotSupported = casctype.ErrNotSupported

	// ErrNotFound is returned when bootstrap cannot locate a required blob.
	ErrNotFound = casctype.ErrNotFound

	// ErrSizeOverflow is returned when a file exceeds the configured limit.
	ErrSizeOverflow = casctype.ErrSizeOverflow
)

// ErrClosed is returned by operations on a closed Storage.
var ErrClosed = errors.New("casc: storage closed")
