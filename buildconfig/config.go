package buildconfig

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Well-known build configuration keys.
const (
	KeyRoot     = "root"
	KeyEncoding = "encoding"
)

// Source supplies build configuration values by name.
type Source interface {
	// Get returns the whitespace-separated values of a key, or nil.
	Get(name string) []string
}

// Map is a Source backed by a map. It is mostly useful in tests.
type Map map[string][]string

// Get implements Source.
func (m Map) Get(name string) []string {
	return m[name]
}

// Config is a parsed build configuration.
type Config struct {
	values map[string][]string
	keys   []string
}

// Interface compliance.
var (
	_ Source = (*Config)(nil)
	_ Source = Map(nil)
)

// Parse reads a build configuration. Blank lines and lines starting with '#'
// are ignored; every other line must have the form "key = value...".
// A repeated key replaces the earlier values.
func Parse(r io.Reader) (*Config, error) {
	c := &Config{values: make(map[string][]string)}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return nil, fmt.Errorf("build config line %d: missing '='", line)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("build config line %d: empty key", line)
		}
		if _, seen := c.values[key]; !seen {
			c.keys = append(c.keys, key)
		}
		c.values[key] = strings.Fields(value)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read build config: %w", err)
	}
	return c, nil
}

// Load parses the build configuration at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path) //nolint:gosec // path is chosen by the caller
	if err != nil {
		return nil, fmt.Errorf("open build config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Get implements Source.
func (c *Config) Get(name string) []string {
	return c.values[name]
}

// First returns the first value of a key.
func (c *Config) First(name string) (string, bool) {
	v := c.values[name]
	if len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// Keys returns the configured keys in file order.
func (c *Config) Keys() []string {
	return append([]string(nil), c.keys...)
}

// ConfigPath returns the location of a configuration file named by its hex
// key under an installation's data directory: config/ab/cd/abcd....
func ConfigPath(dataDir, key string) (string, error) {
	key = strings.ToLower(key)
	if len(key) < 4 {
		return "", fmt.Errorf("config key %q is too short", key)
	}
	return filepath.Join(dataDir, "config", key[0:2], key[2:4], key), nil
}
