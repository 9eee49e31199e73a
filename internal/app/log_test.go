package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRomdlHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name      string
		sessionID string
		level     slog.Level
		message   string
		attrs     []slog.Attr
		want      string
	}{
		{
			name:      "basic info message",
			sessionID: "s-123",
			level:     slog.LevelInfo,
			message:   "download completed",
			want:      "2024-06-15T14:30:45Z\tINFO\ts-123\tdownload completed\n",
		},
		{
			name:      "debug level",
			sessionID: "s-456",
			level:     slog.LevelDebug,
			message:   "checking folder",
			want:      "2024-06-15T14:30:45Z\tDEBUG\ts-456\tchecking folder\n",
		},
		{
			name:      "with record attrs",
			sessionID: "s-789",
			level:     slog.LevelInfo,
			message:   "queued",
			attrs:     []slog.Attr{slog.String("file", "mario.sfc"), slog.Int("rom", 42)},
			want:      "2024-06-15T14:30:45Z\tINFO\ts-789\tqueued\tfile=mario.sfc\trom=42\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &romdlHandler{w: &buf, sessionID: tt.sessionID, minLevel: slog.LevelDebug}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestRomdlHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &romdlHandler{w: &buf, sessionID: "s-1"}

	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "orchestrator")}).(*romdlHandler)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := slog.NewRecord(ts, slog.LevelInfo, "started", 0)
	r.AddAttrs(slog.String("id", "abc"))

	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "component=orchestrator") {
		t.Errorf("expected pre-set attr component=orchestrator, got: %q", got)
	}
	if !strings.Contains(got, "id=abc") {
		t.Errorf("expected record attr id=abc, got: %q", got)
	}
}

func TestRomdlHandler_WithAttrs_doesNotMutateOriginal(t *testing.T) {
	h := &romdlHandler{sessionID: "s-1", attrs: []slog.Attr{slog.String("a", "1")}}

	h2 := h.WithAttrs([]slog.Attr{slog.String("b", "2")}).(*romdlHandler)

	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}
	if len(h2.attrs) != 2 {
		t.Errorf("new handler attrs: got %d, want 2", len(h2.attrs))
	}
}

func TestRomdlHandler_Enabled(t *testing.T) {
	h := &romdlHandler{minLevel: slog.LevelWarn}
	tests := map[slog.Level]bool{
		slog.LevelDebug: false,
		slog.LevelInfo:  false,
		slog.LevelWarn:  true,
		slog.LevelError: true,
	}
	for level, want := range tests {
		if got := h.Enabled(context.Background(), level); got != want {
			t.Errorf("Enabled(%v) = %v, want %v", level, got, want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name        string
		verbose     bool
		wantConsole []string
		skipConsole []string
	}{
		{"quiet console", false, []string{"disk full"}, []string{"queued"}},
		{"verbose console", true, []string{"disk full", "queued"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			var console bytes.Buffer

			logger, f, err := newLogger(dir, "test-session", &console, tt.verbose)
			if err != nil {
				t.Fatalf("newLogger() error = %v", err)
			}
			defer f.Close()

			logger.Info("queued", "rom", 1)
			logger.Error("disk full")

			data, err := os.ReadFile(filepath.Join(dir, LogFileName))
			if err != nil {
				t.Fatalf("ReadFile() error = %v", err)
			}
			for _, msg := range []string{"queued", "disk full"} {
				if !strings.Contains(string(data), msg) {
					t.Errorf("log file missing %q: %q", msg, data)
				}
			}
			for _, msg := range tt.wantConsole {
				if !strings.Contains(console.String(), msg) {
					t.Errorf("console missing %q: %q", msg, console.String())
				}
			}
			for _, msg := range tt.skipConsole {
				if strings.Contains(console.String(), msg) {
					t.Errorf("console has %q: %q", msg, console.String())
				}
			}
		})
	}
}
