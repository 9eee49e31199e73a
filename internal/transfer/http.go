package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"romdl/internal/romdl"
)

// ErrRangeMismatch is returned when a 206 response does not start at the
// requested offset.
var ErrRangeMismatch = errors.New("transfer: server returned a different range than requested")

// Options configures the HTTP transport.
type Options struct {
	// ConnectTimeout bounds dialing and waiting for response headers. The
	// body itself has no deadline; cancel the context to stop it.
	// Default: 30s
	ConnectTimeout time.Duration

	// RetryAttempts is how many times a request is retried on connection
	// errors or 5xx responses before any body bytes were written.
	// Default: 3
	RetryAttempts int

	// RetryBackoff is the initial backoff duration.
	// Default: 1s
	RetryBackoff time.Duration

	// RetryMaxBackoff is the maximum backoff duration.
	// Default: 15s
	RetryMaxBackoff time.Duration

	// BufferSize is the read size, and so the progress callback granularity.
	// Default: 32KiB
	BufferSize int
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:  30 * time.Second,
		RetryAttempts:   3,
		RetryBackoff:    time.Second,
		RetryMaxBackoff: 15 * time.Second,
		BufferSize:      32 * 1024,
	}
}

// HTTPTransport implements romdl.Transport with plain GET and Range
// requests.
type HTTPTransport struct {
	client *http.Client
	opts   Options
}

// NewHTTPTransport creates a transport. Zero option fields take defaults.
func NewHTTPTransport(opts Options) *HTTPTransport {
	def := DefaultOptions()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = def.RetryBackoff
	}
	if opts.RetryMaxBackoff <= 0 {
		opts.RetryMaxBackoff = def.RetryMaxBackoff
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: opts.ConnectTimeout,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		DisableCompression:    true, // byte offsets must match the file on disk
	}

	return &HTTPTransport{
		client: &http.Client{Transport: transport},
		opts:   opts,
	}
}

// Fetch downloads req.URL into req.Path. With a positive offset it asks for
// the remaining range and appends; if the server answers 200 instead the
// file is rewritten from the start.
func (t *HTTPTransport) Fetch(ctx context.Context, req romdl.FetchRequest, onChunk func(written, expected int64)) (int, error) {
	resp, err := t.do(ctx, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var written, total int64
	flags := os.O_WRONLY | os.O_CREATE

	switch {
	case resp.StatusCode == http.StatusPartialContent && req.Offset > 0:
		start, _, size, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return resp.StatusCode, err
		}
		if start != req.Offset {
			return resp.StatusCode, fmt.Errorf("%w: asked for %d, got %d", ErrRangeMismatch, req.Offset, start)
		}
		written = req.Offset
		if size > 0 {
			total = size
		} else if resp.ContentLength >= 0 {
			total = req.Offset + resp.ContentLength
		}
	case resp.StatusCode == http.StatusOK:
		flags |= os.O_TRUNC
		if resp.ContentLength >= 0 {
			total = resp.ContentLength
		}
	default:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return resp.StatusCode, nil
	}

	f, err := os.OpenFile(req.Path, flags, 0644)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("open %s: %w", req.Path, err)
	}
	defer f.Close()

	if written > 0 {
		if err := f.Truncate(written); err != nil {
			return resp.StatusCode, fmt.Errorf("truncate %s: %w", req.Path, err)
		}
		if _, err := f.Seek(written, io.SeekStart); err != nil {
			return resp.StatusCode, fmt.Errorf("seek %s: %w", req.Path, err)
		}
	}

	buf := make([]byte, t.opts.BufferSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return resp.StatusCode, fmt.Errorf("write %s: %w", req.Path, err)
			}
			written += int64(n)
			if onChunk != nil {
				onChunk(written, total)
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return resp.StatusCode, fmt.Errorf("read body: %w", rerr)
		}
	}

	if err := f.Close(); err != nil {
		return resp.StatusCode, fmt.Errorf("close %s: %w", req.Path, err)
	}
	if total > 0 && written != total {
		return resp.StatusCode, fmt.Errorf("short transfer: %d of %d bytes: %w", written, total, io.ErrUnexpectedEOF)
	}
	return resp.StatusCode, nil
}

// do sends the request, retrying connection errors and 5xx responses.
// The last 5xx response is returned as is once retries run out.
func (t *HTTPTransport) do(ctx context.Context, req romdl.FetchRequest) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= t.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := t.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		for k, v := range req.Headers {
			httpReq.Header.Set(k, v)
		}
		if req.Offset > 0 {
			httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", req.Offset))
		}

		resp, err := t.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 && attempt < t.opts.RetryAttempts {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %s", resp.Status)
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", t.opts.RetryAttempts+1, lastErr)
}

// backoff waits for an exponentially increasing duration with jitter.
func (t *HTTPTransport) backoff(ctx context.Context, attempt int) error {
	backoff := t.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > t.opts.RetryMaxBackoff {
		backoff = t.opts.RetryMaxBackoff
	}

	// 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total may be -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// bytes start-end/total or bytes start-end/*
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}
	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if parts[1] == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}
	return start, end, total, nil
}

var _ romdl.Transport = (*HTTPTransport)(nil)
