// Package http provides a store.Store that reads a mirrored data directory
// over HTTP range requests.
//
// HTTP offers no directory listing, so the index shard names a Store can
// return from Glob are supplied up front with WithIndexNames.
package http //nolint:revive // intentional naming for domain clarity

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/url"
	"path"
	"sort"

	"github.com/meigma/casc/store"
)

// ErrNotExist is returned when the remote file does not exist.
var ErrNotExist = errors.New("http: remote file does not exist")

// Option configures a Store and the Sources it opens.
type Option func(*config)

type config struct {
	ctx                   context.Context
	client                *nethttp.Client
	headers               nethttp.Header
	useConditionalHeaders bool
	indexNames            []string
}

func newConfig(opts []Option) config {
	cfg := config{ctx: context.Background(), client: nethttp.DefaultClient}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.client == nil {
		cfg.client = nethttp.DefaultClient
	}
	if cfg.ctx == nil {
		cfg.ctx = context.Background()
	}
	return cfg
}

// WithContext bounds every request made by the Store and its Sources.
// Cancelling ctx fails reads in progress and all later ones.
func WithContext(ctx context.Context) Option {
	return func(c *config) {
		c.ctx = ctx
	}
}

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(c *config) {
		c.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(c *config) {
		if headers == nil {
			return
		}
		c.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(c *config) {
		if c.headers == nil {
			c.headers = make(nethttp.Header)
		}
		c.headers.Set(key, value)
	}
}

// WithConditionalHeaders enables conditional range reads using ETag or Last-Modified.
// This is disabled by default because some servers reject conditional range requests.
func WithConditionalHeaders() Option {
	return func(c *config) {
		c.useConditionalHeaders = true
	}
}

// WithIndexNames sets the file names Glob matches against.
func WithIndexNames(names ...string) Option {
	return func(c *config) {
		c.indexNames = append(c.indexNames, names...)
	}
}

// Store reads files below a base URL.
type Store struct {
	base *url.URL
	opts []Option
	cfg  config
}

// Interface compliance.
var (
	_ store.Store  = (*Store)(nil)
	_ store.Source = (*Source)(nil)
)

// NewStore returns a Store serving files below baseURL.
func NewStore(baseURL string, opts ...Option) (*Store, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: unsupported scheme", baseURL)
	}
	return &Store{base: u, opts: opts, cfg: newConfig(opts)}, nil
}

// Open implements store.Store.
func (s *Store) Open(name string) (store.Source, error) {
	if name == "" || path.Base(name) != name {
		return nil, fmt.Errorf("open %s: invalid name", name)
	}
	src, err := NewSource(s.base.JoinPath(name).String(), s.opts...)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// Glob implements store.Store over the names given with WithIndexNames.
func (s *Store) Glob(pattern string) ([]string, error) {
	var out []string
	for _, name := range s.cfg.indexNames {
		ok, err := path.Match(pattern, name)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}
