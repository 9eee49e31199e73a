package transfer

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"romdl/internal/romdl"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.RetryBackoff = time.Millisecond
	opts.RetryMaxBackoff = 5 * time.Millisecond
	opts.BufferSize = 1024
	return opts
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

// rangeServer serves content with Range support via http.ServeContent.
func rangeServer(t *testing.T, content []byte, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		http.ServeContent(w, r, "rom.bin", time.Time{}, bytes.NewReader(content))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPTransport_Fetch(t *testing.T) {
	ctx := context.Background()

	t.Run("full download", func(t *testing.T) {
		content := payload(10 * 1024)
		srv := rangeServer(t, content, nil)
		path := filepath.Join(t.TempDir(), "rom.bin")

		var calls int
		var lastWritten, lastExpected int64
		code, err := NewHTTPTransport(testOptions()).Fetch(ctx, romdl.FetchRequest{URL: srv.URL, Path: path}, func(written, expected int64) {
			calls++
			if written < lastWritten {
				t.Errorf("written went backwards: %d -> %d", lastWritten, written)
			}
			lastWritten, lastExpected = written, expected
		})
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if code != http.StatusOK {
			t.Errorf("Fetch() code = %d, want 200", code)
		}
		if calls < 10 {
			t.Errorf("onChunk called %d times, want at least 10", calls)
		}
		if lastWritten != int64(len(content)) || lastExpected != int64(len(content)) {
			t.Errorf("last progress = (%d, %d), want (%d, %d)", lastWritten, lastExpected, len(content), len(content))
		}

		got, _ := os.ReadFile(path)
		if !bytes.Equal(got, content) {
			t.Error("downloaded content does not match")
		}
	})

	t.Run("resume from offset", func(t *testing.T) {
		content := payload(8 * 1024)
		var gotRange string
		srv := rangeServer(t, content, func(r *http.Request) { gotRange = r.Header.Get("Range") })
		path := filepath.Join(t.TempDir(), "rom.bin")

		if err := os.WriteFile(path, content[:3000], 0644); err != nil {
			t.Fatal(err)
		}

		var first int64 = -1
		code, err := NewHTTPTransport(testOptions()).Fetch(ctx, romdl.FetchRequest{URL: srv.URL, Path: path, Offset: 3000}, func(written, expected int64) {
			if first < 0 {
				first = written
			}
			if expected != int64(len(content)) {
				t.Errorf("expected = %d, want %d", expected, len(content))
			}
		})
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if code != http.StatusPartialContent {
			t.Errorf("Fetch() code = %d, want 206", code)
		}
		if gotRange != "bytes=3000-" {
			t.Errorf("Range header = %q, want %q", gotRange, "bytes=3000-")
		}
		if first <= 3000 {
			t.Errorf("first progress = %d, want > 3000", first)
		}

		got, _ := os.ReadFile(path)
		if !bytes.Equal(got, content) {
			t.Error("resumed content does not match")
		}
	})

	t.Run("server ignores range", func(t *testing.T) {
		content := payload(4096)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(content)
		}))
		defer srv.Close()
		path := filepath.Join(t.TempDir(), "rom.bin")

		if err := os.WriteFile(path, []byte("garbage-prefix"), 0644); err != nil {
			t.Fatal(err)
		}

		code, err := NewHTTPTransport(testOptions()).Fetch(ctx, romdl.FetchRequest{URL: srv.URL, Path: path, Offset: 14}, nil)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if code != http.StatusOK {
			t.Errorf("Fetch() code = %d, want 200", code)
		}
		got, _ := os.ReadFile(path)
		if !bytes.Equal(got, content) {
			t.Error("file was not rewritten from the start")
		}
	})

	t.Run("forwards headers", func(t *testing.T) {
		var cookie string
		srv := rangeServer(t, payload(10), func(r *http.Request) { cookie = r.Header.Get("Cookie") })
		path := filepath.Join(t.TempDir(), "rom.bin")

		req := romdl.FetchRequest{URL: srv.URL, Path: path, Headers: map[string]string{"Cookie": "romm_session=tok"}}
		if _, err := NewHTTPTransport(testOptions()).Fetch(ctx, req, nil); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if cookie != "romm_session=tok" {
			t.Errorf("Cookie = %q, want %q", cookie, "romm_session=tok")
		}
	})

	t.Run("non-success status is returned", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()
		path := filepath.Join(t.TempDir(), "rom.bin")

		code, err := NewHTTPTransport(testOptions()).Fetch(ctx, romdl.FetchRequest{URL: srv.URL, Path: path}, nil)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if code != http.StatusNotFound {
			t.Errorf("Fetch() code = %d, want 404", code)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("file created for failed response")
		}
	})

	t.Run("retries server errors", func(t *testing.T) {
		var hits atomic.Int32
		content := payload(100)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write(content)
		}))
		defer srv.Close()
		path := filepath.Join(t.TempDir(), "rom.bin")

		code, err := NewHTTPTransport(testOptions()).Fetch(ctx, romdl.FetchRequest{URL: srv.URL, Path: path}, nil)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if code != http.StatusOK {
			t.Errorf("Fetch() code = %d, want 200", code)
		}
		if hits.Load() != 3 {
			t.Errorf("server hit %d times, want 3", hits.Load())
		}
	})

	t.Run("gives up on persistent server errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		code, err := NewHTTPTransport(testOptions()).Fetch(ctx, romdl.FetchRequest{URL: srv.URL, Path: filepath.Join(t.TempDir(), "x")}, nil)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if code != http.StatusBadGateway {
			t.Errorf("Fetch() code = %d, want 502", code)
		}
	})

	t.Run("cancelled context stops the body", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Length", "2048")
			w.Write(payload(1024))
			w.(http.Flusher).Flush()
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		ctx, cancel := context.WithCancel(context.Background())
		path := filepath.Join(t.TempDir(), "rom.bin")

		_, err := NewHTTPTransport(testOptions()).Fetch(ctx, romdl.FetchRequest{URL: srv.URL, Path: path}, func(written, expected int64) {
			if written == 1024 {
				cancel()
			}
		})
		if err == nil {
			t.Fatal("Fetch() expected error after cancel")
		}
		info, statErr := os.Stat(path)
		if statErr != nil || info.Size() != 1024 {
			t.Errorf("partial file = %v, %v; want 1024 bytes kept", info, statErr)
		}
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		opts := testOptions()
		opts.RetryAttempts = 1
		_, err := NewHTTPTransport(opts).Fetch(ctx, romdl.FetchRequest{URL: url, Path: filepath.Join(t.TempDir(), "x")}, nil)
		if err == nil {
			t.Fatal("Fetch() expected error for closed server")
		}
	})
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header  string
		start   int64
		end     int64
		total   int64
		wantErr bool
	}{
		{"bytes 0-99/1000", 0, 99, 1000, false},
		{"bytes 500-999/1000", 500, 999, 1000, false},
		{"bytes 0-99/*", 0, 99, -1, false},
		{"invalid", 0, 0, 0, true},
		{"bytes x-99/100", 0, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			start, end, total, err := ParseContentRange(tt.header)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseContentRange() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if start != tt.start || end != tt.end || total != tt.total {
				t.Errorf("ParseContentRange() = (%d, %d, %d), want (%d, %d, %d)", start, end, total, tt.start, tt.end, tt.total)
			}
		})
	}
}

func TestErrRangeMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-9/10")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload(10))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "rom.bin")
	os.WriteFile(path, payload(5), 0644)

	_, err := NewHTTPTransport(testOptions()).Fetch(context.Background(), romdl.FetchRequest{URL: srv.URL, Path: path, Offset: 5}, nil)
	if !errors.Is(err, ErrRangeMismatch) {
		t.Errorf("Fetch() error = %v, want ErrRangeMismatch", err)
	}
}
