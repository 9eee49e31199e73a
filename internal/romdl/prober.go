package romdl

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ExistenceProber answers whether a remote file already has a local
// counterpart in a storage location. Results are cached per descriptor;
// a cached answer only changes through Refresh.
type ExistenceProber struct {
	storage StorageManager
	logger  Logger

	mu       sync.Mutex
	results  map[string]bool
	checking map[string]chan struct{} // closed when the scan ends
}

// NewExistenceProber creates a prober with an empty cache.
func NewExistenceProber(storage StorageManager, logger Logger) *ExistenceProber {
	return &ExistenceProber{
		storage:  storage,
		logger:   logger,
		results:  make(map[string]bool),
		checking: make(map[string]chan struct{}),
	}
}

// IsDownloaded returns the cached answer for desc; false when unknown.
func (p *ExistenceProber) IsDownloaded(desc Descriptor) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.results[desc.Key()]
}

// IsChecking reports whether a scan for desc is in progress.
func (p *ExistenceProber) IsChecking(desc Descriptor) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.checking[desc.Key()]
	return ok
}

// CheckOne scans the location for desc. A cached answer is returned without
// scanning. While another scan for desc runs, CheckOne waits for it and
// returns its answer, or scans itself if that scan failed.
func (p *ExistenceProber) CheckOne(ctx context.Context, desc Descriptor, handle string) (bool, error) {
	key := desc.Key()

	p.mu.Lock()
	if err := p.idle(ctx, key); err != nil {
		p.mu.Unlock()
		return false, err
	}
	if v, ok := p.results[key]; ok {
		p.mu.Unlock()
		return v, nil
	}
	done := make(chan struct{})
	p.checking[key] = done
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.checking, key)
		p.mu.Unlock()
		close(done)
	}()

	exists, err := p.scan(ctx, desc, handle)
	if err != nil {
		return false, err
	}

	p.mu.Lock()
	p.results[key] = exists
	p.mu.Unlock()
	return exists, nil
}

// CheckMany lists the location once and resolves every descriptor that is
// neither cached nor being checked. Each listing entry satisfies at most one
// descriptor. Matching is by name only.
func (p *ExistenceProber) CheckMany(ctx context.Context, descs []Descriptor, handle string) error {
	done := make(chan struct{})

	p.mu.Lock()
	var pending []Descriptor
	for _, d := range descs {
		key := d.Key()
		if _, running := p.checking[key]; running {
			continue
		}
		if _, ok := p.results[key]; ok {
			continue
		}
		p.checking[key] = done
		pending = append(pending, d)
	}
	p.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	defer func() {
		p.mu.Lock()
		for _, d := range pending {
			delete(p.checking, d.Key())
		}
		p.mu.Unlock()
		close(done)
	}()

	entries, err := p.storage.List(ctx, handle)
	if err != nil {
		return fmt.Errorf("listing location: %w", err)
	}

	found := make(map[string]bool, len(pending))
	for _, d := range pending {
		for i, e := range entries {
			if !e.IsDir && nameMatches(e.Name, d.FileName) {
				found[d.Key()] = true
				entries = append(entries[:i], entries[i+1:]...)
				break
			}
		}
	}

	p.mu.Lock()
	for _, d := range pending {
		p.results[d.Key()] = found[d.Key()]
	}
	p.mu.Unlock()
	return nil
}

// Refresh drops the cached answer for desc and scans again. A scan already
// running is allowed to finish first so its answer does not win.
func (p *ExistenceProber) Refresh(ctx context.Context, desc Descriptor, handle string) (bool, error) {
	key := desc.Key()
	p.mu.Lock()
	if err := p.idle(ctx, key); err != nil {
		p.mu.Unlock()
		return false, err
	}
	delete(p.results, key)
	p.mu.Unlock()
	return p.CheckOne(ctx, desc, handle)
}

// idle waits until no scan for key is running. p.mu is held on entry and
// on return.
func (p *ExistenceProber) idle(ctx context.Context, key string) error {
	for {
		running, ok := p.checking[key]
		if !ok {
			return nil
		}
		p.mu.Unlock()
		select {
		case <-running:
			p.mu.Lock()
		case <-ctx.Done():
			p.mu.Lock()
			return ctx.Err()
		}
	}
}

func (p *ExistenceProber) scan(ctx context.Context, desc Descriptor, handle string) (bool, error) {
	entries, err := p.storage.List(ctx, handle)
	if err != nil {
		return false, fmt.Errorf("listing location: %w", err)
	}

	for _, e := range entries {
		if e.IsDir || !nameMatches(e.Name, desc.FileName) {
			continue
		}
		if desc.MD5 == "" {
			return true, nil
		}

		sum, err := p.storage.Checksum(ctx, handle, e.Name)
		if err != nil {
			p.logger.Warn("checksum failed", "name", e.Name, "error", err)
			continue
		}
		if strings.EqualFold(sum, desc.MD5) {
			return true, nil
		}
		p.logger.Debug("checksum mismatch", "name", e.Name, "want", desc.MD5, "got", sum)
	}
	return false, nil
}

// nameMatches reports whether a listing entry looks like the remote file:
// exact name, or the remote name without extension contained in the entry.
func nameMatches(entryName, fileName string) bool {
	if strings.EqualFold(entryName, fileName) {
		return true
	}
	want := normalizeName(fileName)
	if want == "" {
		return false
	}
	return strings.Contains(strings.ToLower(entryName), want)
}
