package romdl

import (
	"path"
	"strconv"
	"strings"
	"time"
)

// Descriptor identifies a remote ROM file and its owning catalog entry.
type Descriptor struct {
	RomID        int64
	FileName     string // fs_name on the server
	DisplayName  string
	PlatformSlug string
	Size         int64
	MD5          string // empty when the server has no checksum
}

// Key returns the identity used for dedup and prober caching.
func (d Descriptor) Key() string {
	return strconv.FormatInt(d.RomID, 10) + "/" + d.FileName
}

// Label returns the best human-readable name for logs and notices.
func (d Descriptor) Label() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.FileName
}

// Destination is where a finished download ends up.
type Destination struct {
	FolderKey      string
	LocationHandle string
	FileName       string
}

func (d Destination) key() string {
	return d.LocationHandle + "|" + d.FileName
}

// DownloadItem is one user-requested transfer. Values returned by the
// Orchestrator are snapshots; mutating them has no effect on the queue.
type DownloadItem struct {
	ID              string
	Descriptor      Descriptor
	Destination     Destination
	Status          Status
	Progress        int
	DownloadedBytes int64
	TotalBytes      int64
	Speed           float64 // bytes per second
	RemainingTime   float64 // seconds
	Error           string
	StartTime       time.Time
	EndTime         time.Time

	handle *Handle
}

// HasHandle reports whether the Transfer Engine has started a transfer for
// this item.
func (d *DownloadItem) HasHandle() bool {
	return d.handle != nil
}

func (d *DownloadItem) dedupKey() string {
	return d.Descriptor.Key() + "#" + d.Destination.key()
}

// snapshot returns a copy that is safe to hand to observers.
func (d *DownloadItem) snapshot() DownloadItem {
	c := *d
	return c
}

// IsArchive reports whether name ends with one of the given suffixes,
// compared case-insensitively.
func IsArchive(name string, suffixes []string) bool {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if s != "" && strings.HasSuffix(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// normalizeName lowercases a file name and strips its extension, for
// containment matching against directory listings.
func normalizeName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if ext := path.Ext(base); ext != "" && len(ext) < len(base) {
		base = strings.TrimSuffix(base, ext)
	}
	return strings.ToLower(base)
}
