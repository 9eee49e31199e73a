package testutil

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"

	"romdl/internal/romdl"
)

// FetchCall records one Fetch invocation.
type FetchCall struct {
	URL    string
	Offset int64
}

type blockPoint struct {
	at      int64
	reached chan struct{}
	release chan struct{}
	used    bool
}

// FakeTransport serves in-memory content through romdl.Transport. It
// writes in ChunkSize pieces, honours offsets like a server that supports
// ranges, and can be told to fail or to stall at a byte offset.
type FakeTransport struct {
	ChunkSize int

	mu      sync.Mutex
	content map[string][]byte
	status  map[string]int
	errs    map[string]error
	blocks  map[string]*blockPoint
	calls   []FetchCall
}

// NewFakeTransport creates a FakeTransport writing 1KiB chunks.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		ChunkSize: 1024,
		content:   make(map[string][]byte),
		status:    make(map[string]int),
		errs:      make(map[string]error),
		blocks:    make(map[string]*blockPoint),
	}
}

// Serve registers content for url.
func (f *FakeTransport) Serve(url string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content[url] = content
}

// FailWith makes every fetch of url answer with status and no body.
func (f *FakeTransport) FailWith(url string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[url] = status
}

// ErrorWith makes every fetch of url fail with err before any response.
func (f *FakeTransport) ErrorWith(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

// Clear removes any failure set for url.
func (f *FakeTransport) Clear(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.status, url)
	delete(f.errs, url)
}

// BlockAt makes the next fetch of url stall once at least at bytes are on
// disk. reached is closed when the stall begins; the fetch continues after
// release is called or ends when its context is cancelled. Only the first
// fetch to get there stalls.
func (f *FakeTransport) BlockAt(url string, at int64) (reached <-chan struct{}, release func()) {
	b := &blockPoint{at: at, reached: make(chan struct{}), release: make(chan struct{})}
	f.mu.Lock()
	f.blocks[url] = b
	f.mu.Unlock()

	var once sync.Once
	return b.reached, func() { once.Do(func() { close(b.release) }) }
}

// Calls returns every fetch made so far, in order.
func (f *FakeTransport) Calls() []FetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FetchCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsFor returns the fetches made for url.
func (f *FakeTransport) CallsFor(url string) []FetchCall {
	var out []FetchCall
	for _, c := range f.Calls() {
		if c.URL == url {
			out = append(out, c)
		}
	}
	return out
}

func (f *FakeTransport) Fetch(ctx context.Context, req romdl.FetchRequest, onChunk func(written, expected int64)) (int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, FetchCall{URL: req.URL, Offset: req.Offset})
	content, ok := f.content[req.URL]
	status, failing := f.status[req.URL]
	ferr := f.errs[req.URL]
	block := f.blocks[req.URL]
	chunk := f.ChunkSize
	f.mu.Unlock()

	if chunk <= 0 {
		chunk = 1024
	}
	switch {
	case ferr != nil:
		return 0, ferr
	case failing:
		return status, nil
	case !ok:
		return http.StatusNotFound, nil
	}

	offset := req.Offset
	code := http.StatusOK
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if offset > 0 {
		if offset > int64(len(content)) {
			return http.StatusRequestedRangeNotSatisfiable, nil
		}
		code = http.StatusPartialContent
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}

	file, err := os.OpenFile(req.Path, flags, 0644)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	total := int64(len(content))
	written := offset
	for written < total {
		if err := f.stall(ctx, block, written); err != nil {
			return code, err
		}
		if err := ctx.Err(); err != nil {
			return code, err
		}

		end := min(written+int64(chunk), total)
		n, err := file.Write(content[written:end])
		written += int64(n)
		if err != nil {
			return code, err
		}
		if onChunk != nil {
			onChunk(written, total)
		}
	}
	if err := f.stall(ctx, block, written); err != nil {
		return code, err
	}
	return code, nil
}

// stall blocks the calling fetch when it has reached b's offset.
func (f *FakeTransport) stall(ctx context.Context, b *blockPoint, written int64) error {
	if b == nil {
		return nil
	}
	f.mu.Lock()
	if b.used || written < b.at {
		f.mu.Unlock()
		return nil
	}
	b.used = true
	f.mu.Unlock()

	close(b.reached)
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrConnectionReset is a convenient transport error for tests.
var ErrConnectionReset = errors.New("connection reset by peer")

var _ romdl.Transport = (*FakeTransport)(nil)
