package casc

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meigma/casc/cache"
)

// DefaultMaxFileSize is the default limit applied by ReadFile (256MB).
const DefaultMaxFileSize = 256 << 20

// Option configures a Storage.
type Option func(*Storage)

// WithLogger sets the logger for bootstrap and resolution events.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Storage) {
		s.logger = logger
	}
}

// WithIndexConcurrency sets how many index shards are parsed at once.
// Values <= 0 use GOMAXPROCS.
func WithIndexConcurrency(n int) Option {
	return func(s *Storage) {
		s.indexConcurrency = n
	}
}

// WithCache enables caching of decoded file contents for ReadFile.
//
// Entries are keyed by content hash, so files sharing content share one
// cache entry.
func WithCache(c cache.Cache) Option {
	return func(s *Storage) {
		s.cache = c
	}
}

// WithMaxFileSize limits the size of files returned by ReadFile.
// Set limit to 0 to disable the limit.
func WithMaxFileSize(limit uint64) Option {
	return func(s *Storage) {
		s.maxFileSize = limit
	}
}

// WithMetrics registers storage metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Storage) {
		s.registerer = reg
	}
}

// WithBuildConfig makes Open read the build configuration at path instead of
// locating it through .build.info.
func WithBuildConfig(path string) Option {
	return func(s *Storage) {
		s.buildConfigPath = path
	}
}
