package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"time"

	"romdl/internal/archive"
	"romdl/internal/config"
	"romdl/internal/database"
	"romdl/internal/fs"
	"romdl/internal/romdl"
	"romdl/internal/staging"
	"romdl/internal/storage"
	"romdl/internal/transfer"
)

// Options tunes how an App is built. The zero value is usable.
type Options struct {
	Stderr     io.Writer      // console log output. Default: os.Stderr
	Verbose    bool           // log everything to Stderr, not just warnings
	Notifier   romdl.Notifier // download notices. Default: none
	HTTPClient *http.Client   // client for RomM API calls
}

// App is the application layer between the CLI and the download core.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw strings, and releases everything on Close.
type App struct {
	cfg       *config.Config
	store     *database.SQLiteStore
	storage   *storage.BlobStorage
	workspace staging.Workspace
	registry  *romdl.FolderRegistry
	prefs     *romdl.Preferences
	prober    *romdl.ExistenceProber
	server    *RomMClient
	orch      *romdl.Orchestrator
	logger    romdl.Logger
	logFile   *os.File
}

// NewApp creates a fully wired App from the given config.
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	sessionID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, sessionID, opts.Stderr, opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a := &App{cfg: cfg, logger: logger, logFile: logFile}
	if err := a.wire(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, opts Options) error {
	cfg := a.cfg
	clock := romdl.RealClock{}

	store, err := database.NewStoreFromConfig(cfg.Database, clock)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.store = store
	if err := store.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date: %w", err)
	}

	a.storage = storage.NewBlobStorage(storage.S3OptionsFromConfig(cfg.Storage))

	ws, err := staging.NewWorkspaceFromConfig(cfg.Staging)
	if err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}
	a.workspace = ws
	if n, err := ws.Sweep(nil); err != nil {
		a.logger.Warn("sweeping workspace", "error", err)
	} else if n > 0 {
		a.logger.Info("removed stale downloads", "count", n)
	}

	ignore, err := ignorePatterns(cfg)
	if err != nil {
		return err
	}

	if cfg.Server.URL != "" {
		server, err := NewRomMClient(cfg.Server, opts.HTTPClient)
		if err != nil {
			return fmt.Errorf("creating server client: %w", err)
		}
		a.server = server
	}

	a.registry = romdl.NewFolderRegistry(store, a.storage, a.logger)
	if err := a.registry.LoadAll(ctx); err != nil {
		return fmt.Errorf("loading folders: %w", err)
	}
	a.prefs = romdl.NewPreferences(store, a.logger)
	a.prober = romdl.NewExistenceProber(a.storage, a.logger)

	engine := romdl.NewTransferEngine(transfer.NewHTTPTransport(transfer.DefaultOptions()), clock, romdl.EngineOptions{
		SampleInterval: cfg.Download.SampleInterval.Duration,
		SpeedWindow:    cfg.Download.SpeedWindow,
	})
	pipeline := romdl.NewPostProcessor(a.storage, fs.NewOSFilesystemManager(), archive.NewZipExtractor(), ws, a.prefs, a.prober, a.logger, romdl.PipelineOptions{
		ArchiveSuffixes:     cfg.Download.ArchiveSuffixes,
		PollAbsentInterval:  cfg.Download.PollAbsentInterval.Duration,
		PollPartialInterval: cfg.Download.PollPartialInterval.Duration,
		Ignore:              fs.NewIgnoreMatcher(ignore),
	})

	var resolver romdl.Resolver
	if a.server != nil {
		resolver = a.server
	}
	a.orch = romdl.NewOrchestrator(romdl.Deps{
		Registry:    a.registry,
		Prober:      a.prober,
		Engine:      engine,
		Pipeline:    pipeline,
		Preferences: a.prefs,
		Resolver:    resolver,
		Workspace:   ws,
		History:     store,
		Notifier:    opts.Notifier,
		Clock:       clock,
		IDs:         romdl.UUIDGenerator{},
		Logger:      a.logger,
	})
	return nil
}

// ignorePatterns merges the configured patterns with the optional ignore
// file in the base dir.
func ignorePatterns(cfg *config.Config) ([]string, error) {
	patterns := cfg.Download.Ignore
	if patterns == nil {
		patterns = config.DefaultIgnore
	}
	extra, err := fs.ParseIgnoreFile(filepath.Join(cfg.BaseDir, fs.IgnoreFileName))
	if err != nil {
		return nil, err
	}
	return append(append([]string{}, patterns...), extra...), nil
}

// Location turns a raw folder argument into a storage handle. URLs are
// used as given; anything else is a local directory.
func Location(raw string) (string, error) {
	if u, err := url.Parse(raw); err == nil && len(u.Scheme) > 1 {
		return raw, nil
	}
	return storage.FileHandle(raw)
}

// Preferences returns the persisted user preferences.
func (a *App) Preferences() *romdl.Preferences {
	return a.prefs
}

// Orchestrator returns the download queue.
func (a *App) Orchestrator() *romdl.Orchestrator {
	return a.orch
}

// SaveFolder grants the location for a platform key.
func (a *App) SaveFolder(ctx context.Context, key, displayName, rawLocation string) (romdl.FolderGrant, error) {
	handle, err := Location(rawLocation)
	if err != nil {
		return romdl.FolderGrant{}, fmt.Errorf("resolving location: %w", err)
	}
	if displayName == "" {
		displayName = key
	}
	return a.registry.Save(ctx, key, displayName, handle)
}

// Folders returns every granted folder, sorted by key.
func (a *App) Folders() []romdl.FolderGrant {
	return a.registry.List()
}

// RemoveFolder revokes the grant for key.
func (a *App) RemoveFolder(key string) error {
	return a.registry.Remove(key)
}

// ClearFolders revokes every grant.
func (a *App) ClearFolders() error {
	return a.registry.RemoveAll()
}

// SetBaseFolder sets the location new platform folders are created under.
func (a *App) SetBaseFolder(ctx context.Context, rawLocation string) (string, error) {
	handle, err := Location(rawLocation)
	if err != nil {
		return "", fmt.Errorf("resolving location: %w", err)
	}
	if err := a.storage.Probe(ctx, handle); err != nil {
		return "", fmt.Errorf("checking base folder: %w", err)
	}
	if err := a.registry.SetBaseFolder(handle); err != nil {
		return "", err
	}
	return handle, nil
}

// BaseFolder returns the base folder handle, if one is set.
func (a *App) BaseFolder() (string, bool, error) {
	return a.registry.BaseFolder()
}

// RemoveBaseFolder forgets the base folder. Existing grants are kept.
func (a *App) RemoveBaseFolder() error {
	return a.registry.RemoveBaseFolder()
}

// CreateFolder creates a platform folder under the base folder and grants it.
func (a *App) CreateFolder(ctx context.Context, key, displayName string) (romdl.FolderGrant, error) {
	if displayName == "" {
		displayName = key
	}
	return a.registry.CreateFolder(ctx, key, displayName)
}

// SearchFolder finds and grants an existing platform folder under the base
// folder.
func (a *App) SearchFolder(ctx context.Context, key, displayName string) (romdl.FolderGrant, bool, error) {
	if displayName == "" {
		displayName = key
	}
	return a.registry.SearchFolder(ctx, key, displayName)
}

// ensureFolder returns the grant for key, adopting an existing folder under
// the base folder or creating one when none is granted yet.
func (a *App) ensureFolder(ctx context.Context, key string) (romdl.FolderGrant, error) {
	g, ok, err := a.registry.SearchFolder(ctx, key, key)
	if err != nil {
		return romdl.FolderGrant{}, err
	}
	if ok {
		return g, nil
	}
	if _, hasBase, err := a.registry.BaseFolder(); err != nil {
		return romdl.FolderGrant{}, err
	} else if !hasBase {
		return romdl.FolderGrant{}, fmt.Errorf("%w: %s", romdl.ErrFolderNotConfigured, key)
	}
	return a.registry.CreateFolder(ctx, key, key)
}

func (a *App) requireServer() error {
	if a.server == nil {
		return fmt.Errorf("no server configured: set server.url in the config or %s", EnvServerURL)
	}
	return nil
}

// Rom looks up a catalog entry on the server.
func (a *App) Rom(ctx context.Context, id int64) (romdl.Descriptor, error) {
	if err := a.requireServer(); err != nil {
		return romdl.Descriptor{}, err
	}
	return a.server.Rom(ctx, id)
}

// Search looks up catalog entries by name on the server.
func (a *App) Search(ctx context.Context, term string) ([]romdl.Descriptor, error) {
	if err := a.requireServer(); err != nil {
		return nil, err
	}
	return a.server.Search(ctx, term)
}

// CheckResult is the existence state of one catalog entry.
type CheckResult struct {
	Descriptor romdl.Descriptor
	FolderKey  string
	Granted    bool // false when no folder is granted for FolderKey
	Downloaded bool
}

// Check reports which of the given roms are already present in their
// platform folder. An empty folderKey uses each rom's platform slug.
func (a *App) Check(ctx context.Context, romIDs []int64, folderKey string) ([]CheckResult, error) {
	descs, err := a.roms(ctx, romIDs)
	if err != nil {
		return nil, err
	}

	byFolder := make(map[string][]romdl.Descriptor)
	results := make([]CheckResult, len(descs))
	for i, d := range descs {
		key := folderKey
		if key == "" {
			key = d.PlatformSlug
		}
		results[i] = CheckResult{Descriptor: d, FolderKey: key}
		byFolder[key] = append(byFolder[key], d)
	}

	for key, group := range byFolder {
		g, ok := a.registry.Get(key)
		if !ok {
			continue
		}
		if err := a.prober.CheckMany(ctx, group, g.LocationHandle); err != nil {
			return nil, fmt.Errorf("checking %s: %w", key, err)
		}
	}

	for i := range results {
		_, ok := a.registry.Get(results[i].FolderKey)
		results[i].Granted = ok
		results[i].Downloaded = ok && a.prober.IsDownloaded(results[i].Descriptor)
	}
	return results, nil
}

// DownloadRoms queues the given roms and blocks until every queued item
// settles or ctx is done, in which case the remaining items are cancelled.
// An empty folderKey uses each rom's platform slug; missing folders are
// adopted or created under the base folder. onUpdate, if set, receives
// every queue snapshot.
func (a *App) DownloadRoms(ctx context.Context, romIDs []int64, folderKey string, onUpdate func([]romdl.DownloadItem)) ([]romdl.DownloadItem, error) {
	descs, err := a.roms(ctx, romIDs)
	if err != nil {
		return nil, err
	}

	changed := make(chan struct{}, 1)
	unsubscribe := a.orch.Subscribe(func(items []romdl.DownloadItem) {
		if onUpdate != nil {
			onUpdate(items)
		}
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	var ids []string
	for _, d := range descs {
		key := folderKey
		if key == "" {
			key = d.PlatformSlug
		}
		if _, err := a.ensureFolder(ctx, key); err != nil {
			return nil, err
		}

		id, err := a.orch.Enqueue(ctx, d, key)
		if errors.Is(err, romdl.ErrAlreadyExists) {
			a.logger.Info("skipping existing file", "rom", d.RomID, "file", d.FileName)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("queueing %s: %w", d.Label(), err)
		}
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}

	for {
		items, done := a.settled(ids)
		if done {
			return items, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			for _, id := range ids {
				if err := a.orch.Cancel(id); err != nil {
					a.logger.Debug("cancelling on interrupt", "id", id, "error", err)
				}
			}
			items, _ := a.settled(ids)
			return items, ctx.Err()
		}
	}
}

// settled returns the current state of ids and whether all of them have
// reached a terminal state.
func (a *App) settled(ids []string) ([]romdl.DownloadItem, bool) {
	items := make([]romdl.DownloadItem, 0, len(ids))
	done := true
	for _, id := range ids {
		it, ok := a.orch.FindByID(id)
		if !ok {
			continue
		}
		items = append(items, it)
		if !it.Status.IsTerminal() {
			done = false
		}
	}
	return items, done
}

func (a *App) roms(ctx context.Context, romIDs []int64) ([]romdl.Descriptor, error) {
	descs := make([]romdl.Descriptor, 0, len(romIDs))
	for _, id := range romIDs {
		d, err := a.Rom(ctx, id)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return descs, nil
}

// History returns the most recent finished downloads, newest first.
func (a *App) History(limit int) ([]romdl.HistoryEntry, error) {
	return a.store.History(limit)
}

// PruneHistory deletes history entries older than age.
func (a *App) PruneHistory(age time.Duration) (int64, error) {
	return a.store.PruneHistory(time.Now().Add(-age))
}

// Close stops running downloads and closes all resources.
func (a *App) Close() error {
	var firstErr error
	keep := func(err error, what string) {
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", what, err)
		}
	}

	if a.orch != nil {
		keep(a.orch.Close(), "stopping downloads")
	}
	if a.workspace != nil {
		keep(a.workspace.Close(), "closing workspace")
	}
	if a.storage != nil {
		keep(a.storage.Close(), "closing storage")
	}
	if a.store != nil {
		keep(a.store.Close(), "closing database")
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
