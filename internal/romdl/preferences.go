package romdl

import (
	"fmt"
	"strconv"
)

const (
	prefConcurrentDownloads = "concurrent_downloads"
	prefUnzipOnDownload     = "unzip_on_download"

	// MinConcurrency and MaxConcurrency bound the user-configurable limit.
	MinConcurrency = 1
	MaxConcurrency = 5

	// DefaultConcurrency is used when no valid limit is stored.
	DefaultConcurrency = 2
)

// Preferences reads and writes user preferences in a KVStore.
// Reads never fail: unreadable or out-of-range values fall back to defaults.
type Preferences struct {
	kv     KVStore
	logger Logger
}

// NewPreferences creates a Preferences backed by kv.
func NewPreferences(kv KVStore, logger Logger) *Preferences {
	return &Preferences{kv: kv, logger: logger}
}

// ConcurrencyLimit returns the stored limit, or DefaultConcurrency.
func (p *Preferences) ConcurrencyLimit() int {
	raw, ok, err := p.kv.Get(prefConcurrentDownloads)
	if err != nil {
		p.logger.Warn("reading concurrency preference", "error", err)
		return DefaultConcurrency
	}
	if !ok {
		return DefaultConcurrency
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < MinConcurrency || n > MaxConcurrency {
		return DefaultConcurrency
	}
	return n
}

// SetConcurrencyLimit stores n, which must be within [MinConcurrency, MaxConcurrency].
func (p *Preferences) SetConcurrencyLimit(n int) error {
	if n < MinConcurrency || n > MaxConcurrency {
		return fmt.Errorf("concurrency must be between %d and %d, got %d", MinConcurrency, MaxConcurrency, n)
	}
	if err := p.kv.Set(prefConcurrentDownloads, strconv.Itoa(n)); err != nil {
		return fmt.Errorf("saving concurrency preference: %w", err)
	}
	return nil
}

// UnzipOnDownload reports whether archives are extracted after download.
// Defaults to true.
func (p *Preferences) UnzipOnDownload() bool {
	raw, ok, err := p.kv.Get(prefUnzipOnDownload)
	if err != nil {
		p.logger.Warn("reading unzip preference", "error", err)
		return true
	}
	if !ok {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

// SetUnzipOnDownload stores the unzip toggle.
func (p *Preferences) SetUnzipOnDownload(v bool) error {
	if err := p.kv.Set(prefUnzipOnDownload, strconv.FormatBool(v)); err != nil {
		return fmt.Errorf("saving unzip preference: %w", err)
	}
	return nil
}
