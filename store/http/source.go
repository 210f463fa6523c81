package http //nolint:revive // intentional naming for domain clarity

import (
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strconv"
	"strings"
)

// errRangeUnsupported is returned when a server answers a range request with
// the whole body.
var errRangeUnsupported = errors.New("http: server does not support range requests")

// validators are the cache validators of a remote file, sent back as
// preconditions when WithConditionalHeaders is set.
type validators struct {
	etag         string
	lastModified string
}

func (v validators) empty() bool {
	return v.etag == "" && v.lastModified == ""
}

// Source reads one remote file with HTTP range requests. It satisfies
// store.Source and is safe for concurrent use.
type Source struct {
	url  string
	cfg  config
	size int64
	val  validators
}

// NewSource sends url a one-byte range request to learn its size.
// Servers that ignore the Range header are rejected.
func NewSource(url string, opts ...Option) (*Source, error) {
	s := &Source{url: url, cfg: newConfig(opts)}
	if err := s.stat(); err != nil {
		return nil, fmt.Errorf("stat %s: %w", url, err)
	}
	return s, nil
}

// Size returns the length of the remote file.
func (s *Source) Size() int64 {
	return s.size
}

// SourceID identifies the remote file and, when known, its version.
func (s *Source) SourceID() string {
	switch {
	case s.val.etag != "":
		return "url:" + s.url + "|etag:" + s.val.etag
	case s.val.lastModified != "":
		return fmt.Sprintf("url:%s|mod:%s|size:%d", s.url, s.val.lastModified, s.size)
	default:
		return fmt.Sprintf("url:%s|size:%d", s.url, s.size)
	}
}

// Close is a no-op; connections belong to the HTTP client.
func (s *Source) Close() error {
	return nil
}

// ReadAt implements io.ReaderAt. A read that crosses the end of the file
// returns the available bytes with io.EOF.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}
	last := min(off+int64(len(p)), s.size) - 1
	want := int(last - off + 1)

	resp, err := s.get(off, last, s.cfg.useConditionalHeaders)
	if err == nil && resp.StatusCode == nethttp.StatusPreconditionFailed && s.cfg.useConditionalHeaders && !s.val.empty() {
		discard(resp)
		resp, err = s.get(off, last, false)
	}
	if err != nil {
		return 0, err
	}
	defer discard(resp)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusRequestedRangeNotSatisfiable:
		return 0, io.EOF
	case nethttp.StatusNotFound:
		return 0, ErrNotExist
	case nethttp.StatusOK:
		return 0, errRangeUnsupported
	default:
		return 0, fmt.Errorf("range %d-%d: %s", off, last, resp.Status)
	}
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if start, _, _, err := parseContentRange(cr); err != nil || start != off {
			return 0, fmt.Errorf("range %d-%d: unexpected Content-Range %q", off, last, cr)
		}
	}

	n, err := io.ReadFull(resp.Body, p[:want])
	if err != nil {
		return n, err
	}
	if want < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// stat learns the size and validators of the remote file.
func (s *Source) stat() error {
	resp, err := s.get(0, 0, false)
	if err != nil {
		return err
	}
	defer discard(resp)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
		cr := resp.Header.Get("Content-Range")
		if cr == "" {
			return errors.New("partial response without Content-Range")
		}
		_, _, total, err := parseContentRange(cr)
		if err != nil {
			return err
		}
		s.size = total
	case nethttp.StatusRequestedRangeNotSatisfiable:
		// The only unsatisfiable first byte is that of an empty file.
		s.size = 0
	case nethttp.StatusNotFound:
		return ErrNotExist
	case nethttp.StatusOK:
		return errRangeUnsupported
	default:
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	s.val = validators{
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
	}
	return nil
}

// get requests bytes first through last inclusive.
func (s *Source) get(first, last int64, conditional bool) (*nethttp.Response, error) {
	req, err := nethttp.NewRequestWithContext(s.cfg.ctx, nethttp.MethodGet, s.url, nethttp.NoBody)
	if err != nil {
		return nil, err
	}
	for key, values := range s.cfg.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	req.Header.Set("Range", "bytes="+strconv.FormatInt(first, 10)+"-"+strconv.FormatInt(last, 10))
	if conditional {
		if s.val.etag != "" && req.Header.Get("If-Match") == "" {
			req.Header.Set("If-Match", s.val.etag)
		}
		if s.val.lastModified != "" && req.Header.Get("If-Unmodified-Since") == "" {
			req.Header.Set("If-Unmodified-Since", s.val.lastModified)
		}
	}
	return s.cfg.client.Do(req)
}

// discard drains and closes a response body so the connection can be reused.
func discard(resp *nethttp.Response) {
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain
	_ = resp.Body.Close()
}

// parseContentRange splits a "bytes first-last/total" header value.
func parseContentRange(value string) (first, last, total int64, err error) {
	bad := fmt.Errorf("invalid Content-Range %q", value)
	spec, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes ")
	if !ok {
		return 0, 0, 0, bad
	}
	span, size, ok := strings.Cut(spec, "/")
	if !ok || size == "*" {
		return 0, 0, 0, bad
	}
	from, to, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, 0, bad
	}
	if first, err = strconv.ParseInt(from, 10, 64); err != nil {
		return 0, 0, 0, bad
	}
	if last, err = strconv.ParseInt(to, 10, 64); err != nil {
		return 0, 0, 0, bad
	}
	if total, err = strconv.ParseInt(size, 10, 64); err != nil {
		return 0, 0, 0, bad
	}
	if first < 0 || last < first || total <= last {
		return 0, 0, 0, bad
	}
	return first, last, total, nil
}
