// Package cache provides content-addressed caching of decoded file contents.
//
// Keys are content hashes (the MD5 of the decoded bytes), so one cached copy
// serves every name, file-data identifier, and locale variant that shares
// the content.
package cache

// Cache provides content-addressed storage for decoded file contents.
//
// Implementations should handle their own size limits and eviction policies.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves content by its content hash.
	// Returns nil, false if the content is not cached.
	Get(hash []byte) ([]byte, bool)

	// Put stores content indexed by its content hash.
	// Implementations may decline to store content, for example when it
	// exceeds their size limit.
	Put(hash []byte, content []byte) error

	// Delete removes cached content for the given hash.
	// Missing entries are a no-op.
	Delete(hash []byte) error
}
