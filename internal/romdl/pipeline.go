package romdl

import (
	"context"
	"fmt"
	"time"
)

const (
	// DefaultPollAbsentInterval is the relocation poll interval while the
	// destination file does not exist yet.
	DefaultPollAbsentInterval = 100 * time.Millisecond

	// DefaultPollPartialInterval is the relocation poll interval once the
	// destination file is partially written.
	DefaultPollPartialInterval = time.Second
)

// DefaultArchiveSuffixes are the file suffixes treated as archives.
var DefaultArchiveSuffixes = []string{".zip"}

// EntryMatcher reports whether an extracted entry, given by its path
// relative to the extraction root, should be skipped.
type EntryMatcher interface {
	Match(relativePath string) bool
}

// PhaseReporter lets the pipeline drive one item through its phases.
// Enter fails with ErrNotFound once the item has been removed.
type PhaseReporter interface {
	Enter(status Status) error
	Progress(percent int)
}

// PipelineOptions configures a PostProcessor. Zero values select defaults.
type PipelineOptions struct {
	ArchiveSuffixes     []string
	PollAbsentInterval  time.Duration
	PollPartialInterval time.Duration
	Ignore              EntryMatcher
}

// PostProcessor extracts and relocates finished transfers.
type PostProcessor struct {
	storage   StorageManager
	files     FilesystemManager
	extractor Extractor
	workspace Workspace
	prefs     *Preferences
	prober    *ExistenceProber
	logger    Logger
	opts      PipelineOptions
}

// NewPostProcessor creates a PostProcessor.
func NewPostProcessor(storage StorageManager, files FilesystemManager, extractor Extractor, workspace Workspace, prefs *Preferences, prober *ExistenceProber, logger Logger, opts PipelineOptions) *PostProcessor {
	if len(opts.ArchiveSuffixes) == 0 {
		opts.ArchiveSuffixes = DefaultArchiveSuffixes
	}
	if opts.PollAbsentInterval <= 0 {
		opts.PollAbsentInterval = DefaultPollAbsentInterval
	}
	if opts.PollPartialInterval <= 0 {
		opts.PollPartialInterval = DefaultPollPartialInterval
	}
	return &PostProcessor{
		storage:   storage,
		files:     files,
		extractor: extractor,
		workspace: workspace,
		prefs:     prefs,
		prober:    prober,
		logger:    logger,
		opts:      opts,
	}
}

// Process runs extraction (when applicable) and relocation for item, whose
// transfer wrote tempPath, and finally moves it to COMPLETED. A non-nil
// error means the item did not complete.
func (p *PostProcessor) Process(ctx context.Context, item DownloadItem, tempPath string, rep PhaseReporter) error {
	dest := item.Destination

	if IsArchive(dest.FileName, p.opts.ArchiveSuffixes) && p.prefs.UnzipOnDownload() {
		if err := p.extract(ctx, item, tempPath, rep); err != nil {
			return err
		}
	} else {
		if err := rep.Enter(StatusMoving); err != nil {
			return err
		}
		info, err := p.files.Stat(tempPath)
		if err != nil {
			return fmt.Errorf("reading downloaded file: %w", err)
		}
		file := LocalFile{Path: tempPath, Name: dest.FileName, Size: info.Size()}
		tracker := newMoveTracker([]LocalFile{file}, rep)
		if err := p.relocate(ctx, dest.LocationHandle, file, func(n int64) { tracker.update(0, n) }); err != nil {
			return fmt.Errorf("moving %s: %w", dest.FileName, err)
		}
	}

	if err := rep.Enter(StatusCompleted); err != nil {
		return err
	}

	if _, err := p.prober.Refresh(ctx, item.Descriptor, dest.LocationHandle); err != nil {
		p.logger.Warn("refreshing existence cache", "id", item.ID, "error", err)
	}
	return nil
}

func (p *PostProcessor) extract(ctx context.Context, item DownloadItem, archivePath string, rep PhaseReporter) error {
	dest := item.Destination

	if err := rep.Enter(StatusExtracting); err != nil {
		return err
	}

	scratch, err := p.workspace.ScratchDir(item.ID)
	if err != nil {
		return fmt.Errorf("creating extraction directory: %w", err)
	}
	defer func() {
		if err := p.files.RemoveAll(scratch); err != nil {
			p.logger.Warn("removing extraction directory", "id", item.ID, "error", err)
		}
	}()

	_, err = p.extractor.Extract(ctx, archivePath, scratch, func(ev ExtractEvent) {
		rep.Progress(int(ev.Progress * 100))
	})
	if err != nil {
		return fmt.Errorf("extracting %s: %w", dest.FileName, err)
	}

	if err := rep.Enter(StatusMoving); err != nil {
		return err
	}

	files, err := p.files.FindFiles(scratch, p.opts.Ignore)
	if err != nil {
		return fmt.Errorf("listing extracted files: %w", err)
	}
	if err := p.files.Remove(archivePath); err != nil {
		p.logger.Warn("removing downloaded archive", "id", item.ID, "error", err)
	}

	tracker := newMoveTracker(files, rep)
	moved := 0
	for i, f := range files {
		err := p.relocate(ctx, dest.LocationHandle, f, func(n int64) { tracker.update(i, n) })
		if err != nil {
			p.logger.Error("moving extracted file", "id", item.ID, "name", f.Name, "error", err)
			continue
		}
		moved++
	}
	p.logger.Info("extracted files moved", "id", item.ID, "moved", moved, "total", len(files))
	return nil
}

// relocate moves f into the location and polls the destination size while
// the move runs: quickly while the file is absent, slower once it appears.
func (p *PostProcessor) relocate(ctx context.Context, handle string, f LocalFile, onBytes func(int64)) error {
	done := make(chan error, 1)
	go func() {
		done <- p.storage.MoveIn(ctx, handle, f.Name, f.Path)
	}()

	interval := p.opts.PollAbsentInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case err := <-done:
			if err == nil {
				err = p.verify(ctx, handle, f)
			}
			if err != nil {
				p.discard(ctx, handle, f.Name)
				return err
			}
			onBytes(f.Size)
			return nil

		case <-timer.C:
			interval = p.opts.PollAbsentInterval
			if ok, err := p.storage.Exists(ctx, handle, f.Name); err == nil && ok {
				if size, err := p.storage.Size(ctx, handle, f.Name); err == nil {
					onBytes(min(size, f.Size))
				}
				interval = p.opts.PollPartialInterval
			}
			timer.Reset(interval)
		}
	}
}

func (p *PostProcessor) verify(ctx context.Context, handle string, f LocalFile) error {
	size, err := p.storage.Size(ctx, handle, f.Name)
	if err != nil {
		return fmt.Errorf("verifying %s: %w", f.Name, err)
	}
	if size != f.Size {
		return fmt.Errorf("size mismatch for %s: expected %d, got %d", f.Name, f.Size, size)
	}
	return nil
}

// discard deletes what a failed move left at the destination so the prober
// does not mistake a partial file for a download.
func (p *PostProcessor) discard(ctx context.Context, handle, name string) {
	if err := p.storage.Delete(context.WithoutCancel(ctx), handle, name); err != nil {
		p.logger.Warn("removing partial file", "name", name, "error", err)
	}
}

// moveTracker turns per-file byte counts into one MOVING percentage.
type moveTracker struct {
	rep   PhaseReporter
	sizes []int64
	moved []int64
	total int64
}

func newMoveTracker(files []LocalFile, rep PhaseReporter) *moveTracker {
	t := &moveTracker{
		rep:   rep,
		sizes: make([]int64, len(files)),
		moved: make([]int64, len(files)),
	}
	for i, f := range files {
		t.sizes[i] = f.Size
		t.total += f.Size
	}
	return t
}

func (t *moveTracker) update(i int, n int64) {
	t.moved[i] = n

	if t.total == 0 {
		done := 0
		for j := range t.moved {
			if t.moved[j] >= t.sizes[j] {
				done++
			}
		}
		t.rep.Progress(done * 100 / len(t.moved))
		return
	}

	var sum int64
	for _, m := range t.moved {
		sum += m
	}
	t.rep.Progress(int(sum * 100 / t.total))
}
