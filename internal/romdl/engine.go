package romdl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

// ErrTransferNotRunning is returned by Pause when no attempt is in flight.
var ErrTransferNotRunning = errors.New("romdl: transfer is not running")

// TransferProgress is delivered to the progress callback after each chunk.
type TransferProgress struct {
	BytesWritten  int64
	BytesExpected int64
	Speed         float64
	RemainingTime float64
	Sampled       bool // a new speed sample was taken on this chunk
}

// TransferResult is the outcome of one transfer attempt.
type TransferResult struct {
	StatusCode int
	Err        error
	Paused     bool
	Cancelled  bool
}

// OK reports whether the file is fully on disk.
func (r TransferResult) OK() bool {
	return r.Err == nil && !r.Paused && !r.Cancelled
}

// EngineOptions tunes speed smoothing.
type EngineOptions struct {
	SampleInterval time.Duration
	SpeedWindow    int
}

// TransferEngine runs resumable transfers through a Transport.
type TransferEngine struct {
	transport Transport
	clock     Clock
	opts      EngineOptions
}

// NewTransferEngine creates an engine.
func NewTransferEngine(transport Transport, clock Clock, opts EngineOptions) *TransferEngine {
	return &TransferEngine{transport: transport, clock: clock, opts: opts}
}

type stopReason int

const (
	stopNone stopReason = iota
	stopPaused
	stopCancelled
)

type attempt struct {
	done   chan struct{}
	result TransferResult
}

// Handle is a resumable transfer. It is owned by the engine; callers only
// pass it back to Pause, Resume, Cancel and Wait.
type Handle struct {
	engine     *TransferEngine
	url        string
	path       string
	headers    map[string]string
	onProgress func(TransferProgress)

	mu       sync.Mutex
	meter    *SpeedMeter
	current  *attempt
	cancel   context.CancelFunc
	stop     stopReason
	running  bool
	complete bool
	expected int64
}

// Path returns the local temp file the transfer writes to.
func (h *Handle) Path() string { return h.path }

// Start begins a transfer of url into path and returns immediately.
func (e *TransferEngine) Start(url, path string, headers map[string]string, onProgress func(TransferProgress)) *Handle {
	h := &Handle{
		engine:     e,
		url:        url,
		path:       path,
		headers:    headers,
		onProgress: onProgress,
		meter:      NewSpeedMeter(e.clock, e.opts.SampleInterval, e.opts.SpeedWindow),
	}
	h.mu.Lock()
	h.launch(0, false)
	h.mu.Unlock()
	return h
}

// Wait blocks until the current attempt ends.
func (h *Handle) Wait() TransferResult {
	h.mu.Lock()
	att := h.current
	h.mu.Unlock()

	<-att.done
	return att.result
}

// Pause stops the running attempt and keeps the partial file. It returns
// once the attempt has released the file.
func (e *TransferEngine) Pause(h *Handle) error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrTransferNotRunning
	}
	h.stop = stopPaused
	h.cancel()
	att := h.current
	h.mu.Unlock()

	<-att.done
	return nil
}

// Resume continues the transfer from the bytes already on disk and blocks
// until the new attempt ends. An attempt that is still winding down is
// waited for first.
func (e *TransferEngine) Resume(h *Handle) TransferResult {
	h.mu.Lock()
	for h.running {
		att := h.current
		h.mu.Unlock()
		<-att.done
		h.mu.Lock()
	}
	if h.stop == stopCancelled {
		h.mu.Unlock()
		return TransferResult{Cancelled: true}
	}
	if h.complete {
		h.mu.Unlock()
		return TransferResult{StatusCode: http.StatusPartialContent}
	}

	var offset int64
	if info, err := os.Stat(h.path); err == nil {
		offset = info.Size()
	}
	if h.expected > 0 && offset >= h.expected {
		h.complete = true
		h.mu.Unlock()
		return TransferResult{StatusCode: http.StatusPartialContent}
	}

	att := h.launch(offset, true)
	h.mu.Unlock()

	<-att.done
	return att.result
}

// Cancel stops the transfer and deletes the partial file.
func (e *TransferEngine) Cancel(h *Handle) error {
	h.mu.Lock()
	h.stop = stopCancelled
	var att *attempt
	if h.running {
		h.cancel()
		att = h.current
	}
	h.mu.Unlock()

	if att != nil {
		<-att.done
	}
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing partial download: %w", err)
	}
	return nil
}

// launch starts a new attempt. Callers hold h.mu.
func (h *Handle) launch(offset int64, resume bool) *attempt {
	ctx, cancel := context.WithCancel(context.Background())
	att := &attempt{done: make(chan struct{})}

	h.current = att
	h.cancel = cancel
	h.stop = stopNone
	h.running = true
	h.meter.Reset(offset)

	req := FetchRequest{URL: h.url, Path: h.path, Headers: h.headers, Offset: offset}
	go func() {
		code, err := h.engine.transport.Fetch(ctx, req, h.progress)
		att.result = h.finish(code, err, resume)
		cancel()
		close(att.done)
	}()
	return att
}

func (h *Handle) finish(code int, err error, resume bool) TransferResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.running = false
	succeeded := err == nil && (code == http.StatusOK || (resume && code == http.StatusPartialContent))
	if succeeded {
		h.complete = true
	}

	switch {
	case h.stop == stopCancelled:
		return TransferResult{StatusCode: code, Cancelled: true}
	case h.stop == stopPaused:
		return TransferResult{StatusCode: code, Paused: true}
	case err != nil:
		return TransferResult{StatusCode: code, Err: err}
	case !succeeded:
		return TransferResult{StatusCode: code, Err: &TransferError{StatusCode: code}}
	}
	return TransferResult{StatusCode: code}
}

func (h *Handle) progress(written, expected int64) {
	h.mu.Lock()
	if expected > 0 {
		h.expected = expected
	}
	speed, sampled := h.meter.Observe(written)
	p := TransferProgress{
		BytesWritten:  written,
		BytesExpected: h.expected,
		Speed:         speed,
		RemainingTime: RemainingTime(h.expected, written, speed),
		Sampled:       sampled,
	}
	h.mu.Unlock()

	if h.onProgress != nil {
		h.onProgress(p)
	}
}
