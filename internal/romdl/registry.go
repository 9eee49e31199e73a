package romdl

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	kvFolderGrants = "folder_grants"
	kvBaseFolder   = "folder_base"
)

// FolderGrant associates a platform key with a storage location the user
// has authorized.
type FolderGrant struct {
	Key                 string `json:"-"`
	DisplayName         string `json:"display_name"`
	LocationHandle      string `json:"location_handle"`
	LocationDisplayName string `json:"location_display_name"`
}

// FolderRegistry persists platform key -> storage location grants and keeps
// an in-memory copy for synchronous lookups.
//
// Every mutating call reads the persisted map, applies its change and writes
// the whole map back while holding the registry lock.
type FolderRegistry struct {
	kv      KVStore
	storage StorageManager
	logger  Logger

	mu    sync.RWMutex
	cache map[string]FolderGrant
}

// NewFolderRegistry creates an empty registry. Call LoadAll to populate it.
func NewFolderRegistry(kv KVStore, storage StorageManager, logger Logger) *FolderRegistry {
	return &FolderRegistry{
		kv:      kv,
		storage: storage,
		logger:  logger,
		cache:   make(map[string]FolderGrant),
	}
}

// Get returns the cached grant for key.
func (r *FolderRegistry) Get(key string) (FolderGrant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.cache[key]
	return g, ok
}

// List returns all cached grants ordered by key.
func (r *FolderRegistry) List() []FolderGrant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	grants := make([]FolderGrant, 0, len(r.cache))
	for _, g := range r.cache {
		grants = append(grants, g)
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].Key < grants[j].Key })
	return grants
}

// Save records handle as the location for key.
func (r *FolderRegistry) Save(ctx context.Context, key, displayName, handle string) (FolderGrant, error) {
	if key == "" {
		return FolderGrant{}, fmt.Errorf("folder key is required")
	}
	if handle == "" {
		return FolderGrant{}, fmt.Errorf("location handle is required")
	}

	grant := FolderGrant{
		Key:                 key,
		DisplayName:         displayName,
		LocationHandle:      handle,
		LocationDisplayName: r.storage.DisplayName(handle),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	grants, err := r.read()
	if err != nil {
		return FolderGrant{}, err
	}
	grants[key] = grant
	if err := r.write(grants); err != nil {
		return FolderGrant{}, err
	}
	r.cache = grants

	r.logger.Info("folder saved", "key", key, "location", grant.LocationDisplayName)
	return grant, nil
}

// Remove revokes the grant for key. Removing an unknown key is a no-op.
func (r *FolderRegistry) Remove(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	grants, err := r.read()
	if err != nil {
		return err
	}
	delete(grants, key)
	if err := r.write(grants); err != nil {
		return err
	}
	r.cache = grants
	return nil
}

// RemoveAll revokes every grant.
func (r *FolderRegistry) RemoveAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.kv.Remove(kvFolderGrants); err != nil {
		return fmt.Errorf("removing folder grants: %w", err)
	}
	r.cache = make(map[string]FolderGrant)
	return nil
}

// LoadAll reads the persisted grants and probes each location. Grants that
// fail their probe are dropped and the corrected map is written back.
// Probe failures are logged, never returned.
func (r *FolderRegistry) LoadAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	grants, err := r.read()
	if err != nil {
		return err
	}

	dropped := 0
	for key, g := range grants {
		if err := r.storage.Probe(ctx, g.LocationHandle); err != nil {
			r.logger.Warn("dropping folder grant", "key", key, "location", g.LocationDisplayName, "error", err)
			delete(grants, key)
			dropped++
		}
	}

	if dropped > 0 {
		if err := r.write(grants); err != nil {
			return err
		}
	}
	r.cache = grants
	return nil
}

// CheckAccess probes the location granted for key.
func (r *FolderRegistry) CheckAccess(ctx context.Context, key string) bool {
	g, ok := r.Get(key)
	if !ok {
		return false
	}
	if err := r.storage.Probe(ctx, g.LocationHandle); err != nil {
		r.logger.Warn("folder not accessible", "key", key, "error", err)
		return false
	}
	return true
}

// SetBaseFolder records the location under which platform folders are
// created and discovered.
func (r *FolderRegistry) SetBaseFolder(handle string) error {
	if err := r.kv.Set(kvBaseFolder, handle); err != nil {
		return fmt.Errorf("saving base folder: %w", err)
	}
	return nil
}

// BaseFolder returns the base folder handle, if one is configured.
func (r *FolderRegistry) BaseFolder() (string, bool, error) {
	h, ok, err := r.kv.Get(kvBaseFolder)
	if err != nil {
		return "", false, fmt.Errorf("reading base folder: %w", err)
	}
	return h, ok && h != "", nil
}

// RemoveBaseFolder forgets the base folder.
func (r *FolderRegistry) RemoveBaseFolder() error {
	if err := r.kv.Remove(kvBaseFolder); err != nil {
		return fmt.Errorf("removing base folder: %w", err)
	}
	return nil
}

// CreateFolder creates a child named key under the base folder and grants it.
func (r *FolderRegistry) CreateFolder(ctx context.Context, key, displayName string) (FolderGrant, error) {
	base, ok, err := r.BaseFolder()
	if err != nil {
		return FolderGrant{}, err
	}
	if !ok {
		return FolderGrant{}, fmt.Errorf("%w: no base folder set", ErrFolderNotConfigured)
	}

	handle, err := r.storage.CreateChild(ctx, base, key)
	if err != nil {
		return FolderGrant{}, fmt.Errorf("creating folder for %s: %w", key, err)
	}
	return r.Save(ctx, key, displayName, handle)
}

// SearchFolder returns the grant for key. When none exists it looks for a
// child of the base folder named key or displayName (case-insensitive) and
// grants the first match. ok is false when nothing was found.
func (r *FolderRegistry) SearchFolder(ctx context.Context, key, displayName string) (FolderGrant, bool, error) {
	if g, ok := r.Get(key); ok {
		return g, true, nil
	}

	base, ok, err := r.BaseFolder()
	if err != nil || !ok {
		return FolderGrant{}, false, err
	}

	entries, err := r.storage.List(ctx, base)
	if err != nil {
		return FolderGrant{}, false, fmt.Errorf("listing base folder: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		if !strings.EqualFold(e.Name, key) && (displayName == "" || !strings.EqualFold(e.Name, displayName)) {
			continue
		}
		handle, err := r.storage.ChildHandle(base, e.Name)
		if err != nil {
			return FolderGrant{}, false, fmt.Errorf("resolving folder %s: %w", e.Name, err)
		}
		g, err := r.Save(ctx, key, displayName, handle)
		if err != nil {
			return FolderGrant{}, false, err
		}
		return g, true, nil
	}
	return FolderGrant{}, false, nil
}

// read loads the persisted grant map. Callers hold r.mu.
func (r *FolderRegistry) read() (map[string]FolderGrant, error) {
	grants := make(map[string]FolderGrant)

	raw, ok, err := r.kv.Get(kvFolderGrants)
	if err != nil {
		return nil, fmt.Errorf("reading folder grants: %w", err)
	}
	if !ok || raw == "" {
		return grants, nil
	}

	if err := json.Unmarshal([]byte(raw), &grants); err != nil {
		return nil, fmt.Errorf("decoding folder grants: %w", err)
	}
	for key, g := range grants {
		g.Key = key
		grants[key] = g
	}
	return grants, nil
}

// write persists the grant map. Callers hold r.mu.
func (r *FolderRegistry) write(grants map[string]FolderGrant) error {
	data, err := json.Marshal(grants)
	if err != nil {
		return fmt.Errorf("encoding folder grants: %w", err)
	}
	if err := r.kv.Set(kvFolderGrants, string(data)); err != nil {
		return fmt.Errorf("saving folder grants: %w", err)
	}
	return nil
}
