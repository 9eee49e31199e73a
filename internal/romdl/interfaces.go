package romdl

import (
	"context"
	"io/fs"
	"time"
)

// Entry is one child of a storage location listing.
type Entry struct {
	Name  string
	Size  int64
	IsDir bool
}

// StorageManager provides access to user-granted storage locations.
// A location handle is an opaque string; callers never interpret it.
type StorageManager interface {
	// Probe verifies the grant behind handle is still usable by listing it.
	Probe(ctx context.Context, handle string) error

	// List returns the direct children of the location.
	List(ctx context.Context, handle string) ([]Entry, error)

	// Exists reports whether name is present in the location.
	Exists(ctx context.Context, handle, name string) (bool, error)

	// Size returns the current size of name in the location.
	Size(ctx context.Context, handle, name string) (int64, error)

	// Checksum returns the hex MD5 of name in the location.
	Checksum(ctx context.Context, handle, name string) (string, error)

	// MoveIn moves the local file at localPath into the location as name,
	// overwriting any existing entry. The local file is removed on success.
	MoveIn(ctx context.Context, handle, name, localPath string) error

	// Delete removes name from the location.
	Delete(ctx context.Context, handle, name string) error

	// CreateChild creates a child location and returns its handle.
	CreateChild(ctx context.Context, handle, name string) (string, error)

	// ChildHandle returns the handle of an existing child location.
	ChildHandle(handle, name string) (string, error)

	// DisplayName derives a human-readable name from a handle.
	DisplayName(handle string) string
}

// KVStore is durable string key-value storage for grants and preferences.
type KVStore interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

// HistoryEntry is the record kept for a download that reached a terminal
// state.
type HistoryEntry struct {
	DownloadID string
	RomID      int64
	FileName   string
	FolderKey  string
	Status     Status
	Error      string
	Bytes      int64
	StartedAt  time.Time
	FinishedAt time.Time
}

// HistoryRecorder persists terminal download outcomes.
type HistoryRecorder interface {
	RecordDownload(entry HistoryEntry) error
}

// FetchRequest describes one resumable HTTP attempt.
type FetchRequest struct {
	URL     string
	Path    string // local file the body is written to
	Headers map[string]string
	Offset  int64 // bytes already on disk; >0 requests a range
}

// Transport performs one HTTP transfer attempt. It must append to Path
// starting at Offset and call onChunk after each chunk with the total bytes
// on disk and the expected total (0 if unknown). It returns the response
// status code; a transport-level failure is returned as an error.
type Transport interface {
	Fetch(ctx context.Context, req FetchRequest, onChunk func(written, expected int64)) (int, error)
}

// Resolver turns a descriptor into an authenticated download URL.
type Resolver interface {
	DownloadURL(ctx context.Context, desc Descriptor) (string, error)
	Headers() map[string]string
}

// ExtractEvent reports extraction progress in [0,1] and the file just
// written.
type ExtractEvent struct {
	Progress float64
	FilePath string
}

// Extractor unpacks an archive into destDir and returns destDir when done.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string, onEvent func(ExtractEvent)) (string, error)
}

// Workspace hands out local paths for in-flight downloads.
type Workspace interface {
	// TempPath returns the local file a transfer for id writes to.
	TempPath(id, fileName string) (string, error)

	// ScratchDir creates and returns an empty directory for extraction.
	ScratchDir(id string) (string, error)

	// Cleanup removes everything the workspace holds for id.
	Cleanup(id string) error
}

// LocalFile is a regular file found on local disk.
type LocalFile struct {
	Path string
	Name string // relative to the search root, slash separated
	Size int64
}

// FilesystemManager provides the local file access the pipeline needs for
// finished transfers.
type FilesystemManager interface {
	Stat(path string) (fs.FileInfo, error)

	// FindFiles lists regular files under root. Entries matched by skip
	// are left out; a matched directory is not descended into.
	FindFiles(root string, skip EntryMatcher) ([]LocalFile, error)

	// Remove deletes a file. A missing file is not an error.
	Remove(path string) error

	RemoveAll(path string) error
}

// Notifier receives user-facing download events.
type Notifier interface {
	DownloadStarted(item DownloadItem)
	DownloadCompleted(item DownloadItem)
	DownloadFailed(item DownloadItem)
}

// NopNotifier ignores all events.
type NopNotifier struct{}

func (NopNotifier) DownloadStarted(DownloadItem)   {}
func (NopNotifier) DownloadCompleted(DownloadItem) {}
func (NopNotifier) DownloadFailed(DownloadItem)    {}
