package testutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"romdl/internal/romdl"
	"romdl/internal/staging"
	"romdl/internal/storage"
)

// StubResolver builds download URLs as <BaseURL>/<rom id>/<file name>.
type StubResolver struct {
	BaseURL string
	Token   string
	Err     error
}

// URLFor returns the URL DownloadURL produces for desc.
func (r *StubResolver) URLFor(desc romdl.Descriptor) string {
	return fmt.Sprintf("%s/%d/%s", r.BaseURL, desc.RomID, desc.FileName)
}

func (r *StubResolver) DownloadURL(ctx context.Context, desc romdl.Descriptor) (string, error) {
	if r.Err != nil {
		return "", r.Err
	}
	return r.URLFor(desc), nil
}

func (r *StubResolver) Headers() map[string]string {
	if r.Token == "" {
		return nil
	}
	return map[string]string{"Cookie": "romm_session=" + r.Token}
}

// MemoryKV is a map-backed romdl.KVStore. Safe for concurrent use.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string]string

	// SetErr, when non-nil, is returned by every Set.
	SetErr error
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

func (m *MemoryKV) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryKV) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	m.data[key] = value
	return nil
}

func (m *MemoryKV) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// RecordingNotifier captures notifier events by kind.
type RecordingNotifier struct {
	mu        sync.Mutex
	Started   []romdl.DownloadItem
	Completed []romdl.DownloadItem
	Failed    []romdl.DownloadItem
}

func (n *RecordingNotifier) DownloadStarted(item romdl.DownloadItem) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Started = append(n.Started, item)
}

func (n *RecordingNotifier) DownloadCompleted(item romdl.DownloadItem) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Completed = append(n.Completed, item)
}

func (n *RecordingNotifier) DownloadFailed(item romdl.DownloadItem) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Failed = append(n.Failed, item)
}

// Counts returns the number of started, completed and failed events.
func (n *RecordingNotifier) Counts() (started, completed, failed int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Started), len(n.Completed), len(n.Failed)
}

// RecordingHistory captures history entries in memory.
type RecordingHistory struct {
	mu      sync.Mutex
	entries []romdl.HistoryEntry
}

func (h *RecordingHistory) RecordDownload(entry romdl.HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	return nil
}

func (h *RecordingHistory) Entries() []romdl.HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]romdl.HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// LogEntry is one message captured by RecordingLogger.
type LogEntry struct {
	Level string
	Msg   string
	Args  []any
}

// RecordingLogger captures log messages for assertions.
type RecordingLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (l *RecordingLogger) log(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, Args: args})
}

func (l *RecordingLogger) Debug(msg string, args ...any) { l.log("DEBUG", msg, args) }
func (l *RecordingLogger) Info(msg string, args ...any)  { l.log("INFO", msg, args) }
func (l *RecordingLogger) Warn(msg string, args ...any)  { l.log("WARN", msg, args) }
func (l *RecordingLogger) Error(msg string, args ...any) { l.log("ERROR", msg, args) }

// Has reports whether a message was logged at level.
func (l *RecordingLogger) Has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Level == level && e.Msg == msg {
			return true
		}
	}
	return false
}

// FaultyStorage wraps a StorageManager and fails selected operations.
type FaultyStorage struct {
	romdl.StorageManager

	mu       sync.Mutex
	ProbeErr error
	ListErr  error
	// MoveInErr is consulted with the destination name of every MoveIn.
	MoveInErr func(name string) error
	// MoveInPartial, when it returns true for name, moves only the first
	// half of the file in and then fails with ErrInjected.
	MoveInPartial func(name string) bool
	// BeforeList runs at the start of every List, outside the lock.
	BeforeList func()
	ListCalls  int
}

func (s *FaultyStorage) Probe(ctx context.Context, handle string) error {
	s.mu.Lock()
	err := s.ProbeErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.StorageManager.Probe(ctx, handle)
}

func (s *FaultyStorage) List(ctx context.Context, handle string) ([]romdl.Entry, error) {
	s.mu.Lock()
	s.ListCalls++
	err := s.ListErr
	hook := s.BeforeList
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return s.StorageManager.List(ctx, handle)
}

func (s *FaultyStorage) MoveIn(ctx context.Context, handle, name, localPath string) error {
	s.mu.Lock()
	fn := s.MoveInErr
	s.mu.Unlock()
	if fn != nil {
		if err := fn(name); err != nil {
			return err
		}
	}
	s.mu.Lock()
	partial := s.MoveInPartial
	s.mu.Unlock()
	if partial != nil && partial(name) {
		info, err := os.Stat(localPath)
		if err != nil {
			return err
		}
		if err := os.Truncate(localPath, info.Size()/2); err != nil {
			return err
		}
		if err := s.StorageManager.MoveIn(ctx, handle, name, localPath); err != nil {
			return err
		}
		return ErrInjected
	}
	return s.StorageManager.MoveIn(ctx, handle, name, localPath)
}

// SetListErr changes ListErr safely while other goroutines use s.
func (s *FaultyStorage) SetListErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListErr = err
}

// Lists returns how many times List was called.
func (s *FaultyStorage) Lists() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ListCalls
}

// ErrInjected is the default error used by fault injection.
var ErrInjected = errors.New("injected failure")

// NewMemStorage returns a BlobStorage whose mem:// bucket lives for the
// duration of the test.
func NewMemStorage(t *testing.T) *storage.BlobStorage {
	t.Helper()
	s := storage.NewBlobStorage(storage.S3Options{})
	t.Cleanup(func() { s.Close() })
	return s
}

// MemHandle returns the mem:// handle for a folder named prefix.
func MemHandle(prefix string) string {
	return "mem://?prefix=" + prefix + "/"
}

// PutFile stores data as name in the location behind handle.
func PutFile(t *testing.T, s romdl.StorageManager, handle, name string, data []byte) {
	t.Helper()
	local := filepath.Join(t.TempDir(), "put.tmp")
	if err := os.WriteFile(local, data, 0644); err != nil {
		t.Fatalf("writing %s: %v", local, err)
	}
	if err := s.MoveIn(context.Background(), handle, name, local); err != nil {
		t.Fatalf("MoveIn(%s) error = %v", name, err)
	}
}

// NewTestWorkspace returns a filesystem workspace under t.TempDir().
func NewTestWorkspace(t *testing.T) *staging.FileSystemWorkspace {
	t.Helper()
	w, err := staging.NewFileSystemWorkspace(filepath.Join(t.TempDir(), "work"))
	if err != nil {
		t.Fatalf("NewFileSystemWorkspace() error = %v", err)
	}
	return w
}
