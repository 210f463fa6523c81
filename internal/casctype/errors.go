package casctype

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrFormat is returned when on-disk data does not match the expected layout.
	ErrFormat = errors.New("casc: invalid format")

	// ErrNotSupported is returned for container features that are recognized
	// but intentionally not implemented (encrypted and nested chunks).
	ErrNotSupported = errors.New("casc: not supported")

	// ErrNotFound is returned when a key required during bootstrap cannot be
	// resolved. Ordinary lookups report absence with a boolean instead.
	ErrNotFound = errors.New("casc: not found")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("casc: size overflow")
)
