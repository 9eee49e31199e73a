package romdl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// errNoChange tells update that fn left the item untouched.
var errNoChange = errors.New("no change")

// Deps are the collaborators of an Orchestrator. History and Notifier are
// optional.
type Deps struct {
	Registry    *FolderRegistry
	Prober      *ExistenceProber
	Engine      *TransferEngine
	Pipeline    *PostProcessor
	Preferences *Preferences
	Resolver    Resolver
	Workspace   Workspace
	History     HistoryRecorder
	Notifier    Notifier
	Clock       Clock
	IDs         IDGenerator
	Logger      Logger
}

// Orchestrator owns the download queue. It admits pending items up to the
// concurrency limit, drives them through the Transfer Engine and the
// post-processing pipeline, and pushes the full collection to subscribers
// after every change.
//
// All item mutations go through update or hold o.mu; observers only ever
// see copies.
type Orchestrator struct {
	Deps

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	items   []*DownloadItem
	queue   []string // pending ids, head first
	resumes []string // paused ids waiting for a free slot
	closed  bool
	pending [][]DownloadItem

	subMu   sync.Mutex
	subs    map[int]func([]DownloadItem)
	nextSub int

	wake         chan struct{}
	stop         chan struct{}
	dispatchDone chan struct{}
}

// NewOrchestrator creates an Orchestrator and starts its event dispatcher.
// Call Close to stop it.
func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Notifier == nil {
		deps.Notifier = NopNotifier{}
	}
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	if deps.IDs == nil {
		deps.IDs = UUIDGenerator{}
	}
	if deps.Logger == nil {
		deps.Logger = NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		Deps:         deps,
		ctx:          ctx,
		cancel:       cancel,
		subs:         make(map[int]func([]DownloadItem)),
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
	go o.dispatch()
	return o
}

// Enqueue requests a download of desc into the folder granted for
// folderKey and returns the item id. A request equal to one that is still
// pending, downloading or paused returns the existing id.
func (o *Orchestrator) Enqueue(ctx context.Context, desc Descriptor, folderKey string) (string, error) {
	grant, ok := o.Registry.Get(folderKey)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrFolderNotConfigured, folderKey)
	}
	dest := Destination{
		FolderKey:      folderKey,
		LocationHandle: grant.LocationHandle,
		FileName:       desc.FileName,
	}
	candidate := DownloadItem{Descriptor: desc, Destination: dest}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrClosed
	}
	if id := o.duplicateLocked(&candidate, ""); id != "" {
		o.mu.Unlock()
		return id, nil
	}
	o.mu.Unlock()

	exists, err := o.Prober.CheckOne(ctx, desc, dest.LocationHandle)
	if err != nil {
		return "", fmt.Errorf("checking destination: %w", err)
	}
	if exists {
		return "", fmt.Errorf("%w: %s", ErrAlreadyExists, desc.FileName)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrClosed
	}
	if id := o.duplicateLocked(&candidate, ""); id != "" {
		o.mu.Unlock()
		return id, nil
	}
	item := &DownloadItem{
		ID:          o.IDs.New(),
		Descriptor:  desc,
		Destination: dest,
		Status:      StatusPending,
		TotalBytes:  desc.Size,
	}
	o.items = append(o.items, item)
	o.queue = append(o.queue, item.ID)
	o.publishLocked()
	o.mu.Unlock()

	o.Logger.Info("download queued", "id", item.ID, "file", desc.FileName, "folder", folderKey)
	o.schedule()
	return item.ID, nil
}

// Remove deletes the item, cancelling its transfer first when one is
// running or paused.
func (o *Orchestrator) Remove(id string) error {
	o.mu.Lock()
	i := o.indexLocked(id)
	if i < 0 {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	item := o.items[i]
	o.items = append(o.items[:i], o.items[i+1:]...)
	o.queue = without(o.queue, id)
	o.resumes = without(o.resumes, id)
	o.publishLocked()
	o.mu.Unlock()

	if item.handle != nil && (item.Status == StatusDownloading || item.Status == StatusPaused) {
		if err := o.Engine.Cancel(item.handle); err != nil {
			o.Logger.Warn("cancelling removed download", "id", id, "error", err)
		}
	}
	// Post-processing cleans up after itself at its next checkpoint.
	if !item.Status.IsPostProcessing() {
		o.cleanup(id)
	}

	o.Logger.Info("download removed", "id", id, "status", item.Status)
	o.schedule()
	return nil
}

// Retry re-queues a failed or cancelled item at the head of the queue.
func (o *Orchestrator) Retry(id string) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	item := o.findLocked(id)
	if item == nil {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if item.Status != StatusFailed && item.Status != StatusCancelled {
		o.mu.Unlock()
		return transitionError(id, item.Status, StatusPending)
	}
	if dup := o.duplicateLocked(item, id); dup != "" {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyQueued, dup)
	}

	c := *item
	c.Status = StatusPending
	c.Progress = 0
	c.DownloadedBytes = 0
	c.TotalBytes = c.Descriptor.Size
	c.Speed = 0
	c.RemainingTime = 0
	c.Error = ""
	c.StartTime, c.EndTime = time.Time{}, time.Time{}
	c.handle = nil
	o.replaceLocked(&c)

	o.queue = append([]string{id}, without(o.queue, id)...)
	o.publishLocked()
	o.mu.Unlock()

	o.Logger.Info("download retried", "id", id)
	o.schedule()
	return nil
}

// Pause stops a downloading item and keeps its partial file. The item
// releases its concurrency slot while paused.
func (o *Orchestrator) Pause(id string) error {
	o.mu.Lock()
	item := o.findLocked(id)
	if item == nil {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !CanTransition(item.Status, StatusPaused) {
		o.mu.Unlock()
		return transitionError(id, item.Status, StatusPaused)
	}
	c := *item
	setStatus(&c, StatusPaused, o.Clock)
	o.replaceLocked(&c)
	o.publishLocked()
	o.mu.Unlock()

	if c.handle != nil {
		if err := o.Engine.Pause(c.handle); err != nil && !errors.Is(err, ErrTransferNotRunning) {
			o.Logger.Warn("pausing transfer", "id", id, "error", err)
		}
	}

	o.Logger.Info("download paused", "id", id, "bytes", c.DownloadedBytes)
	o.schedule()
	return nil
}

// Resume continues a paused item from the bytes already on disk. When every
// slot is taken the item stays paused and is resumed ahead of pending items
// as soon as a slot frees.
func (o *Orchestrator) Resume(id string) error {
	limit := o.Preferences.ConcurrencyLimit()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	item := o.findLocked(id)
	if item == nil {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if item.Status != StatusPaused {
		o.mu.Unlock()
		return transitionError(id, item.Status, StatusDownloading)
	}

	if o.countLocked(StatusDownloading) >= limit {
		if !contains(o.resumes, id) {
			o.resumes = append(o.resumes, id)
		}
		o.mu.Unlock()
		o.Logger.Info("download resume deferred", "id", id, "limit", limit)
		return nil
	}

	o.resumes = without(o.resumes, id)
	c := o.admitLocked(item)
	o.publishLocked()
	o.mu.Unlock()

	o.Logger.Info("download resumed", "id", id)
	o.launch(c)
	return nil
}

// Cancel stops a downloading or paused item and deletes its partial file.
// Items already extracting or moving cannot be cancelled.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	item := o.findLocked(id)
	if item == nil {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if item.Status.IsPostProcessing() {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotCancellable, id, item.Status)
	}
	if !CanTransition(item.Status, StatusCancelled) {
		o.mu.Unlock()
		return transitionError(id, item.Status, StatusCancelled)
	}
	c := *item
	setStatus(&c, StatusCancelled, o.Clock)
	o.replaceLocked(&c)
	o.resumes = without(o.resumes, id)
	o.publishLocked()
	o.mu.Unlock()

	if c.handle != nil {
		if err := o.Engine.Cancel(c.handle); err != nil {
			o.Logger.Warn("cancelling transfer", "id", id, "error", err)
		}
	}
	o.cleanup(id)
	o.record(c)

	o.Logger.Info("download cancelled", "id", id)
	o.schedule()
	return nil
}

// ClearCompleted removes every completed item.
func (o *Orchestrator) ClearCompleted() {
	o.clear(func(s Status) bool { return s == StatusCompleted })
}

// ClearFailed removes every failed or cancelled item.
func (o *Orchestrator) ClearFailed() {
	o.clear(func(s Status) bool { return s == StatusFailed || s == StatusCancelled })
}

func (o *Orchestrator) clear(match func(Status) bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	kept := o.items[:0]
	for _, it := range o.items {
		if !match(it.Status) {
			kept = append(kept, it)
		}
	}
	if len(kept) == len(o.items) {
		return
	}
	for i := len(kept); i < len(o.items); i++ {
		o.items[i] = nil
	}
	o.items = kept
	o.publishLocked()
}

// All returns every item in enqueue order.
func (o *Orchestrator) All() []DownloadItem {
	return o.view(func(Status) bool { return true })
}

// Active returns pending, downloading, extracting and moving items.
func (o *Orchestrator) Active() []DownloadItem {
	return o.view(Status.IsActive)
}

// Paused returns paused items.
func (o *Orchestrator) Paused() []DownloadItem {
	return o.view(func(s Status) bool { return s == StatusPaused })
}

// Completed returns completed items.
func (o *Orchestrator) Completed() []DownloadItem {
	return o.view(func(s Status) bool { return s == StatusCompleted })
}

// Failed returns failed and cancelled items.
func (o *Orchestrator) Failed() []DownloadItem {
	return o.view(func(s Status) bool { return s == StatusFailed || s == StatusCancelled })
}

func (o *Orchestrator) view(match func(Status) bool) []DownloadItem {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []DownloadItem
	for _, it := range o.items {
		if match(it.Status) {
			out = append(out, it.snapshot())
		}
	}
	return out
}

// IsDownloading reports whether an active item exists for desc.
func (o *Orchestrator) IsDownloading(desc Descriptor) bool {
	key := desc.Key()

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, it := range o.items {
		if it.Status.IsActive() && it.Descriptor.Key() == key {
			return true
		}
	}
	return false
}

// FindByID returns a copy of the item with the given id.
func (o *Orchestrator) FindByID(id string) (DownloadItem, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if it := o.findLocked(id); it != nil {
		return it.snapshot(), true
	}
	return DownloadItem{}, false
}

// Subscribe registers fn to receive the full collection after every change.
// Calls are made in order from a single goroutine. The returned function
// unregisters fn.
func (o *Orchestrator) Subscribe(fn func([]DownloadItem)) func() {
	o.subMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	o.subMu.Unlock()

	return func() {
		o.subMu.Lock()
		delete(o.subs, id)
		o.subMu.Unlock()
	}
}

// Close cancels running transfers, waits for their goroutines and stops
// event delivery. Items are left in their last state.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	var handles []*Handle
	for _, it := range o.items {
		if it.handle != nil && it.Status == StatusDownloading {
			handles = append(handles, it.handle)
		}
	}
	o.mu.Unlock()

	o.cancel()
	for _, h := range handles {
		if err := o.Engine.Cancel(h); err != nil {
			o.Logger.Warn("cancelling transfer on close", "error", err)
		}
	}
	o.wg.Wait()

	close(o.stop)
	<-o.dispatchDone
	return nil
}

// schedule admits queued items while fewer than the concurrency limit are
// downloading. Paused items waiting to resume go first, then pending items
// in queue order.
func (o *Orchestrator) schedule() {
	limit := o.Preferences.ConcurrencyLimit()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}

	var admitted []DownloadItem
	for o.countLocked(StatusDownloading) < limit {
		var id string
		var want Status
		switch {
		case len(o.resumes) > 0:
			id, o.resumes = o.resumes[0], o.resumes[1:]
			want = StatusPaused
		case len(o.queue) > 0:
			id, o.queue = o.queue[0], o.queue[1:]
			want = StatusPending
		}
		if id == "" {
			break
		}
		item := o.findLocked(id)
		if item == nil || item.Status != want {
			continue
		}
		admitted = append(admitted, o.admitLocked(item))
	}
	if len(admitted) > 0 {
		o.publishLocked()
	}
	o.mu.Unlock()

	for _, c := range admitted {
		o.launch(c)
	}
}

// admitLocked moves item to DOWNLOADING and registers its goroutine.
// Callers hold o.mu and must call launch with the result.
func (o *Orchestrator) admitLocked(item *DownloadItem) DownloadItem {
	c := *item
	setStatus(&c, StatusDownloading, o.Clock)
	o.replaceLocked(&c)
	o.wg.Add(1)
	return c
}

func (o *Orchestrator) launch(item DownloadItem) {
	if item.handle != nil {
		go o.resume(item)
		return
	}
	go o.run(item)
}

// run starts a fresh transfer for an admitted item.
func (o *Orchestrator) run(item DownloadItem) {
	defer o.wg.Done()
	id := item.ID

	url, err := o.Resolver.DownloadURL(o.ctx, item.Descriptor)
	if err != nil {
		o.fail(id, fmt.Errorf("resolving download url: %w", err))
		return
	}
	path, err := o.Workspace.TempPath(id, item.Descriptor.FileName)
	if err != nil {
		o.fail(id, fmt.Errorf("preparing download file: %w", err))
		return
	}

	// The handle is attached under the lock so Pause and Cancel always see
	// either no transfer or a started one.
	var h *Handle
	snap, err := o.update(id, func(it *DownloadItem) error {
		if it.Status != StatusDownloading {
			return errNoChange
		}
		h = o.Engine.Start(url, path, o.Resolver.Headers(), func(p TransferProgress) {
			o.progress(id, p)
		})
		it.handle = h
		return nil
	})
	if h == nil {
		if err != nil && !errors.Is(err, errNoChange) {
			o.cleanup(id)
		}
		return
	}

	o.Logger.Info("download started", "id", id, "file", item.Descriptor.FileName)
	o.Notifier.DownloadStarted(snap)
	o.settle(id, h, h.Wait())
}

// resume continues a paused transfer for an admitted item.
func (o *Orchestrator) resume(item DownloadItem) {
	defer o.wg.Done()
	o.settle(item.ID, item.handle, o.Engine.Resume(item.handle))
}

// settle acts on the outcome of a transfer attempt.
func (o *Orchestrator) settle(id string, h *Handle, res TransferResult) {
	// A pause that raced with a resume leaves the item downloading.
	for res.Paused && o.statusOf(id) == StatusDownloading {
		res = o.Engine.Resume(h)
	}

	switch {
	case res.OK():
		o.postProcess(id, h)
	case res.Err != nil:
		o.fail(id, res.Err)
	}
}

// postProcess hands a finished transfer to the pipeline.
func (o *Orchestrator) postProcess(id string, h *Handle) {
	var size int64
	if info, err := o.Pipeline.files.Stat(h.Path()); err == nil {
		size = info.Size()
	}

	snap, err := o.update(id, func(it *DownloadItem) error {
		// A paused item keeps its finished file; resuming completes it.
		if it.Status != StatusDownloading {
			return errNoChange
		}
		it.DownloadedBytes = size
		if it.TotalBytes <= 0 || it.TotalBytes < size {
			it.TotalBytes = size
		}
		it.Progress = 100
		it.Speed = 0
		it.RemainingTime = 0
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			o.cleanup(id)
		}
		return
	}

	err = o.Pipeline.Process(o.ctx, snap, h.Path(), phaseReporter{o: o, id: id})
	switch {
	case errors.Is(err, ErrNotFound):
		o.Logger.Info("download removed during post-processing", "id", id)
	case err != nil:
		o.fail(id, err)
		return
	default:
		if done, ok := o.FindByID(id); ok {
			o.Logger.Info("download completed", "id", id, "bytes", done.DownloadedBytes)
			o.Notifier.DownloadCompleted(done)
			o.record(done)
		}
	}
	o.cleanup(id)
}

// fail moves id to FAILED unless it already left the states that can fail.
func (o *Orchestrator) fail(id string, cause error) {
	snap, err := o.update(id, func(it *DownloadItem) error {
		if !CanTransition(it.Status, StatusFailed) {
			return errNoChange
		}
		setStatus(it, StatusFailed, o.Clock)
		it.Error = cause.Error()
		return nil
	})
	if err != nil {
		o.Logger.Debug("dropping failure for settled download", "id", id, "error", cause)
		return
	}
	o.cleanup(id)

	o.Logger.Error("download failed", "id", id, "error", cause)
	o.Notifier.DownloadFailed(snap)
	o.record(snap)
	o.schedule()
}

func (o *Orchestrator) progress(id string, p TransferProgress) {
	_, _ = o.update(id, func(it *DownloadItem) error {
		if it.Status != StatusDownloading {
			return errNoChange
		}
		changed := false
		if p.BytesExpected > 0 && p.BytesExpected != it.TotalBytes {
			it.TotalBytes = p.BytesExpected
			changed = true
		}
		written := p.BytesWritten
		if it.TotalBytes > 0 && written > it.TotalBytes {
			written = it.TotalBytes
		}
		if written != it.DownloadedBytes {
			it.DownloadedBytes = written
			changed = true
		}
		if pct := percent(written, it.TotalBytes); pct > it.Progress {
			it.Progress = pct
			changed = true
		}
		if p.Sampled {
			it.Speed = p.Speed
			it.RemainingTime = p.RemainingTime
			changed = true
		}
		if !changed {
			return errNoChange
		}
		return nil
	})
}

func (o *Orchestrator) statusOf(id string) Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	if it := o.findLocked(id); it != nil {
		return it.Status
	}
	return ""
}

func (o *Orchestrator) cleanup(id string) {
	if err := o.Workspace.Cleanup(id); err != nil {
		o.Logger.Warn("cleaning up download files", "id", id, "error", err)
	}
}

func (o *Orchestrator) record(item DownloadItem) {
	if o.History == nil {
		return
	}
	entry := HistoryEntry{
		DownloadID: item.ID,
		RomID:      item.Descriptor.RomID,
		FileName:   item.Descriptor.FileName,
		FolderKey:  item.Destination.FolderKey,
		Status:     item.Status,
		Error:      item.Error,
		Bytes:      item.DownloadedBytes,
		StartedAt:  item.StartTime,
		FinishedAt: item.EndTime,
	}
	if err := o.History.RecordDownload(entry); err != nil {
		o.Logger.Warn("recording download history", "id", item.ID, "error", err)
	}
}

// update applies fn to a copy of the item and stores the copy in its place.
// fn returning errNoChange leaves the item as it was and publishes nothing.
func (o *Orchestrator) update(id string, fn func(*DownloadItem) error) (DownloadItem, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	item := o.findLocked(id)
	if item == nil {
		return DownloadItem{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c := *item
	if err := fn(&c); err != nil {
		return item.snapshot(), err
	}
	o.replaceLocked(&c)
	o.publishLocked()
	return c.snapshot(), nil
}

func (o *Orchestrator) findLocked(id string) *DownloadItem {
	if i := o.indexLocked(id); i >= 0 {
		return o.items[i]
	}
	return nil
}

func (o *Orchestrator) indexLocked(id string) int {
	for i, it := range o.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (o *Orchestrator) replaceLocked(c *DownloadItem) {
	if i := o.indexLocked(c.ID); i >= 0 {
		o.items[i] = c
	}
}

func (o *Orchestrator) countLocked(s Status) int {
	n := 0
	for _, it := range o.items {
		if it.Status == s {
			n++
		}
	}
	return n
}

// duplicateLocked returns the id of another item that holds the dedup key
// of item, or "".
func (o *Orchestrator) duplicateLocked(item *DownloadItem, self string) string {
	key := item.dedupKey()
	for _, it := range o.items {
		if it.ID != self && it.Status.holdsDedupKey() && it.dedupKey() == key {
			return it.ID
		}
	}
	return ""
}

// publishLocked queues a snapshot of the collection for subscribers.
func (o *Orchestrator) publishLocked() {
	snap := make([]DownloadItem, len(o.items))
	for i, it := range o.items {
		snap[i] = it.snapshot()
	}
	o.pending = append(o.pending, snap)

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) dispatch() {
	defer close(o.dispatchDone)
	for {
		select {
		case <-o.wake:
			o.deliver()
		case <-o.stop:
			o.deliver()
			return
		}
	}
}

func (o *Orchestrator) deliver() {
	for {
		o.mu.Lock()
		batch := o.pending
		o.pending = nil
		o.mu.Unlock()
		if len(batch) == 0 {
			return
		}

		o.subMu.Lock()
		subs := make([]func([]DownloadItem), 0, len(o.subs))
		for _, fn := range o.subs {
			subs = append(subs, fn)
		}
		o.subMu.Unlock()

		for _, snap := range batch {
			for _, fn := range subs {
				fn(snap)
			}
		}
	}
}

// phaseReporter adapts the orchestrator to the pipeline's PhaseReporter.
type phaseReporter struct {
	o  *Orchestrator
	id string
}

func (r phaseReporter) Enter(s Status) error {
	_, err := r.o.update(r.id, func(it *DownloadItem) error {
		if !CanTransition(it.Status, s) {
			return transitionError(it.ID, it.Status, s)
		}
		setStatus(it, s, r.o.Clock)
		return nil
	})
	if err == nil && (s == StatusExtracting || s == StatusMoving) {
		r.o.schedule()
	}
	return err
}

func (r phaseReporter) Progress(pct int) {
	pct = max(0, min(pct, 100))
	_, _ = r.o.update(r.id, func(it *DownloadItem) error {
		if !it.Status.IsPostProcessing() || pct <= it.Progress {
			return errNoChange
		}
		it.Progress = pct
		return nil
	})
}

// setStatus applies a transition and the field resets that go with it.
// Callers check CanTransition first.
func setStatus(it *DownloadItem, to Status, clock Clock) {
	from := it.Status
	it.Status = to

	switch to {
	case StatusDownloading:
		if from == StatusPending {
			it.Progress = 0
			it.StartTime = clock.Now()
		}
	case StatusExtracting, StatusMoving:
		it.Progress = 0
	case StatusCompleted:
		it.Progress = 100
	}
	if to != StatusDownloading {
		it.Speed = 0
		it.RemainingTime = 0
	}
	if to.IsTerminal() {
		it.EndTime = clock.Now()
	}
}

func percent(n, total int64) int {
	if total <= 0 {
		return 0
	}
	p := int(n * 100 / total)
	return max(0, min(p, 100))
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
