// Package syncer transfers finished recordings to the remote store, keeps
// the offline queue and retries it when connectivity returns.
package syncer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/runnerr0/procedura/internal/config"
	"github.com/runnerr0/procedura/internal/remote"
	"github.com/runnerr0/procedura/internal/types"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrBusy means another attempt holds the pipeline.
	ErrBusy = errors.New(MsgBusy)
	// ErrOffline means no network attempt was made.
	ErrOffline = errors.New(MsgOffline)
)

// Remote is the record store the pipeline writes procedures and steps to.
type Remote interface {
	UserID(ctx context.Context) (string, error)
	CreateProcedure(ctx context.Context, title string, description *string) (*remote.Procedure, error)
	UpdateStatus(ctx context.Context, id, status string) error
	UpdateSummary(ctx context.Context, id string, stepCount int, thumbnailURL *string) error
	InsertSteps(ctx context.Context, steps []remote.StepRecord) ([]remote.StepRecord, error)
}

// ObjectStore holds the uploaded screenshots.
type ObjectStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

// QueueStore persists the offline queue and the recordings dropped from it.
type QueueStore interface {
	LoadQueue(ctx context.Context) ([]types.QueuedRecording, error)
	SaveQueue(ctx context.Context, queue []types.QueuedRecording) error
	AddDropped(ctx context.Context, rec types.QueuedRecording) error
}

// DropNotifier is told about recordings that exhausted their retries.
type DropNotifier interface {
	RecordingDropped(ctx context.Context, rec types.QueuedRecording)
}

// DropNotifierFunc adapts a function to DropNotifier.
type DropNotifierFunc func(ctx context.Context, rec types.QueuedRecording)

func (f DropNotifierFunc) RecordingDropped(ctx context.Context, rec types.QueuedRecording) {
	f(ctx, rec)
}

// Request is a finished recording to transfer.
type Request struct {
	Title       string
	Description *string
	Steps       []types.CapturedStep
}

// Pipeline owns the sync state. Construct with New.
type Pipeline struct {
	remote  Remote
	objects ObjectStore
	store   QueueStore
	dropped DropNotifier
	logger  *slog.Logger

	batchSize   int
	maxRetries  int
	settleDelay time.Duration
	now         func() time.Time
	newID       func() string

	// run is held for the whole of an attempt or a queue drain.
	run sync.Mutex

	mu      sync.Mutex
	online  bool
	syncing bool
	current *types.SyncProgress
	queue   []types.QueuedRecording
	settle  *time.Timer
}

// New builds a pipeline. dropped may be nil.
func New(cfg config.SyncConfig, rem Remote, objects ObjectStore, store QueueStore, dropped DropNotifier, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	batch := cfg.BatchSize
	if batch < 1 {
		batch = 1
	}
	return &Pipeline{
		remote:      rem,
		objects:     objects,
		store:       store,
		dropped:     dropped,
		logger:      logger.With(slog.String("component", "sync")),
		batchSize:   batch,
		maxRetries:  cfg.MaxRetries,
		settleDelay: cfg.SettleDelay(),
		now:         time.Now,
		newID:       func() string { return uuid.Must(uuid.NewV4()).String() },
		online:      true,
		queue:       []types.QueuedRecording{},
	}
}

// Init loads the persisted queue.
func (p *Pipeline) Init(ctx context.Context) error {
	q, err := p.store.LoadQueue(ctx)
	if err != nil {
		return fmt.Errorf("load sync queue: %w", err)
	}
	p.mu.Lock()
	p.queue = q
	p.mu.Unlock()
	if len(q) > 0 {
		p.logger.Info("sync queue loaded", slog.Int("count", len(q)))
	}
	return nil
}

// Close stops a pending settle timer.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settle != nil {
		p.settle.Stop()
		p.settle = nil
	}
}

// Sync starts transferring req. Busy and offline calls queue the recording
// and finish immediately; otherwise the attempt runs in its own goroutine
// under ctx.
func (p *Pipeline) Sync(ctx context.Context, req Request) *Attempt {
	if !p.run.TryLock() {
		a := newAttempt(0)
		p.enqueue(ctx, req)
		p.logger.Info("sync busy, recording queued", slog.String("title", req.Title))
		a.finish(Result{Error: MsgBusy})
		return a
	}

	p.mu.Lock()
	if !p.online {
		p.mu.Unlock()
		p.run.Unlock()
		a := newAttempt(1)
		p.enqueue(ctx, req)
		a.emit(types.SyncProgress{Phase: types.PhaseError, Progress: 0, Message: MsgOffline})
		a.finish(Result{Error: MsgOffline})
		return a
	}
	p.syncing = true
	p.mu.Unlock()

	batches := (len(req.Steps) + p.batchSize - 1) / p.batchSize
	a := newAttempt(batches + 4)
	go func() {
		res, err := p.transfer(ctx, req, func(sp types.SyncProgress) {
			p.setCurrent(&sp)
			a.emit(sp)
		})
		if err != nil {
			p.enqueue(ctx, req)
		}
		p.mu.Lock()
		p.syncing = false
		p.current = nil
		p.mu.Unlock()
		p.run.Unlock()
		a.finish(res)
	}()
	return a
}

// SyncAndWait runs Sync and waits for its result, discarding progress.
func (p *Pipeline) SyncAndWait(ctx context.Context, req Request) Result {
	return p.Sync(ctx, req).Wait()
}

func (p *Pipeline) setCurrent(sp *types.SyncProgress) {
	p.mu.Lock()
	p.current = sp
	p.mu.Unlock()
}

// transfer runs the four phases. Any failure emits the error event and is
// returned; the caller decides whether to queue.
func (p *Pipeline) transfer(ctx context.Context, req Request, emit func(types.SyncProgress)) (Result, error) {
	fail := func(err error) (Result, error) {
		p.logger.Error("sync failed", slog.String("title", req.Title), slog.String("error", err.Error()))
		emit(types.SyncProgress{Phase: types.PhaseError, Progress: 0, Message: err.Error()})
		return Result{Error: err.Error()}, err
	}

	emit(types.SyncProgress{Phase: types.PhaseCreating, Progress: 5, Message: MsgCreating})
	proc, err := p.remote.CreateProcedure(ctx, req.Title, req.Description)
	if err != nil || proc == nil {
		if err != nil {
			p.logger.Error("create procedure failed", slog.String("error", err.Error()))
		}
		return fail(errors.New(MsgCreateFailed))
	}
	userID, err := p.remote.UserID(ctx)
	if err != nil || userID == "" {
		return fail(errors.New(MsgNotAuthenticated))
	}

	urls := p.uploadScreenshots(ctx, userID, proc.ID, req.Steps, emit)

	emit(types.SyncProgress{Phase: types.PhaseSaving, Progress: 85, Message: MsgSaving})
	records := make([]remote.StepRecord, len(req.Steps))
	for i, step := range req.Steps {
		records[i] = remote.NewStepRecord(proc.ID, i+1, step, urls[i])
	}
	saved, err := p.remote.InsertSteps(ctx, records)
	if err != nil || len(saved) == 0 {
		if err != nil {
			p.logger.Error("insert steps failed", slog.String("error", err.Error()))
		}
		return fail(errors.New(MsgSaveFailed))
	}

	if err := p.remote.UpdateStatus(ctx, proc.ID, remote.StatusReady); err != nil {
		return fail(err)
	}
	var thumb *string
	for _, u := range urls {
		if u != nil {
			thumb = u
			break
		}
	}
	if err := p.remote.UpdateSummary(ctx, proc.ID, len(req.Steps), thumb); err != nil {
		return fail(err)
	}

	emit(types.SyncProgress{Phase: types.PhaseComplete, Progress: 100, Message: MsgComplete})
	p.logger.Info("sync complete", slog.String("procedureId", proc.ID), slog.Int("steps", len(req.Steps)))
	return Result{Success: true, ProcedureID: proc.ID}, nil
}

// uploadScreenshots uploads in batches of batchSize. Uploads within a batch
// run concurrently; the next batch starts once the whole batch is done. A
// failed upload yields a nil URL for that step only.
func (p *Pipeline) uploadScreenshots(ctx context.Context, userID, procedureID string, steps []types.CapturedStep, emit func(types.SyncProgress)) []*string {
	urls := make([]*string, len(steps))
	withShots := 0
	for _, s := range steps {
		if s.ScreenshotDataURL != "" {
			withShots++
		}
	}
	if withShots == 0 {
		return urls
	}

	total := len(steps)
	for start := 0; start < total; start += p.batchSize {
		end := min(start+p.batchSize, total)

		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i
			if steps[i].ScreenshotDataURL == "" {
				continue
			}
			g.Go(func() error {
				u, err := p.uploadOne(ctx, userID, procedureID, i+1, steps[i].ScreenshotDataURL)
				if err != nil {
					p.logger.Warn("screenshot upload failed", slog.Int("step", i+1), slog.String("error", err.Error()))
					return nil
				}
				urls[i] = &u
				return nil
			})
		}
		_ = g.Wait()

		emit(types.SyncProgress{
			Phase:       types.PhaseUploading,
			Progress:    10 + end*70/total,
			Message:     msgUploading(end, total),
			CurrentStep: types.IntPtr(end),
			TotalSteps:  types.IntPtr(total),
		})
	}
	return urls
}

func (p *Pipeline) uploadOne(ctx context.Context, userID, procedureID string, orderIndex int, dataURL string) (string, error) {
	data, contentType, err := DecodeDataURL(dataURL)
	if err != nil {
		return "", err
	}
	path := fmt.Sprintf("%s/%s/step-%d-%d.%s", userID, procedureID, orderIndex, p.now().UnixMilli(), imageExt(contentType))
	return p.objects.Upload(ctx, path, data, contentType)
}

func imageExt(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	}
	return "png"
}

// DecodeDataURL splits a base64 data URL into bytes and media type.
func DecodeDataURL(dataURL string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return nil, "", errors.New("not a data url")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", errors.New("malformed data url")
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return nil, "", errors.New("data url is not base64")
	}
	if mediaType == "" {
		mediaType = "image/png"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode data url: %w", err)
	}
	return data, mediaType, nil
}

func (p *Pipeline) enqueue(ctx context.Context, req Request) {
	item := types.QueuedRecording{
		ID:          p.newID(),
		Title:       req.Title,
		Description: req.Description,
		Steps:       types.CloneSteps(req.Steps),
		CreatedAt:   types.Timestamp(p.now()),
	}
	p.mu.Lock()
	p.queue = append(p.queue, item)
	snapshot := cloneQueue(p.queue)
	p.mu.Unlock()
	p.saveQueue(ctx, snapshot)
}

func (p *Pipeline) saveQueue(ctx context.Context, q []types.QueuedRecording) {
	if err := p.store.SaveQueue(ctx, q); err != nil {
		p.logger.Error("failed to save sync queue", slog.String("error", err.Error()))
	}
}

// ProcessQueue retries every queued recording once, in enqueue order.
// Items that already failed maxRetries times are moved to the dropped
// list. It is a no-op when the queue is empty, a sync is running, or the
// pipeline is offline.
func (p *Pipeline) ProcessQueue(ctx context.Context) {
	if !p.run.TryLock() {
		return
	}
	defer p.run.Unlock()

	p.mu.Lock()
	if len(p.queue) == 0 || !p.online {
		p.mu.Unlock()
		return
	}
	pending := p.queue
	p.queue = []types.QueuedRecording{}
	p.syncing = true
	p.mu.Unlock()

	p.logger.Info("processing sync queue", slog.Int("count", len(pending)))
	for _, item := range pending {
		p.mu.Lock()
		online := p.online
		if !online {
			p.queue = append(p.queue, item)
		}
		p.mu.Unlock()
		if !online {
			continue
		}
		if item.RetryCount >= p.maxRetries {
			p.drop(ctx, item)
			continue
		}
		req := Request{Title: item.Title, Description: item.Description, Steps: item.Steps}
		res, err := p.transfer(ctx, req, func(sp types.SyncProgress) { p.setCurrent(&sp) })
		if err == nil {
			continue
		}
		item.RetryCount++
		item.LastError = types.StringPtr(res.Error)
		p.mu.Lock()
		p.queue = append(p.queue, item)
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.syncing = false
	p.current = nil
	snapshot := cloneQueue(p.queue)
	p.mu.Unlock()
	p.saveQueue(ctx, snapshot)
}

func (p *Pipeline) drop(ctx context.Context, item types.QueuedRecording) {
	p.logger.Error("max retries reached, dropping recording",
		slog.String("id", item.ID),
		slog.String("title", item.Title),
		slog.Int("retries", item.RetryCount))
	if err := p.store.AddDropped(ctx, item); err != nil {
		p.logger.Error("failed to persist dropped recording", slog.String("id", item.ID), slog.String("error", err.Error()))
	}
	if p.dropped != nil {
		p.dropped.RecordingDropped(ctx, item)
	}
}

// SetOnline records a connectivity change. Going online schedules a queue
// drain after the settle delay; going offline does nothing else.
func (p *Pipeline) SetOnline(ctx context.Context, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	was := p.online
	p.online = online
	if p.settle != nil {
		p.settle.Stop()
		p.settle = nil
	}
	if !online {
		if was {
			p.logger.Info("went offline")
		}
		return
	}
	p.logger.Info("online, processing queue after settle delay", slog.Duration("delay", p.settleDelay))
	drainCtx := context.WithoutCancel(ctx)
	p.settle = time.AfterFunc(p.settleDelay, func() { p.ProcessQueue(drainCtx) })
}

// ClearQueue empties the offline queue.
func (p *Pipeline) ClearQueue(ctx context.Context) error {
	p.mu.Lock()
	p.queue = []types.QueuedRecording{}
	p.mu.Unlock()
	if err := p.store.SaveQueue(ctx, []types.QueuedRecording{}); err != nil {
		return fmt.Errorf("clear sync queue: %w", err)
	}
	return nil
}

func (p *Pipeline) QueueCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Queue returns a copy of the offline queue.
func (p *Pipeline) Queue() []types.QueuedRecording {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneQueue(p.queue)
}

// State returns a snapshot of the sync subsystem.
func (p *Pipeline) State() types.SyncState {
	p.mu.Lock()
	defer p.mu.Unlock()
	var cur *types.SyncProgress
	if p.current != nil {
		c := *p.current
		cur = &c
	}
	return types.SyncState{
		IsOnline:        p.online,
		IsSyncing:       p.syncing,
		CurrentProgress: cur,
		Queue:           cloneQueue(p.queue),
	}
}

func cloneQueue(q []types.QueuedRecording) []types.QueuedRecording {
	out := make([]types.QueuedRecording, len(q))
	for i, item := range q {
		out[i] = item
		out[i].Steps = types.CloneSteps(item.Steps)
	}
	return out
}
