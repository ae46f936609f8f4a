package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/timf34/blogpack/internal/pipeline"
	"github.com/timf34/blogpack/internal/sysmem"
)

var (
	// ErrQueueFull is returned by Submit when the queue is at capacity.
	ErrQueueFull = errors.New("job queue is full")

	// ErrMemoryPressure is returned by Submit when available memory is
	// below the admission threshold.
	ErrMemoryPressure = errors.New("insufficient memory to accept new jobs")
)

// RunFunc executes one archive run on behalf of a job. progress receives
// stage updates for the status endpoint.
type RunFunc func(ctx context.Context, req pipeline.Request, progress func(stage string)) (*pipeline.Summary, error)

// Options configures a Queue.
type Options struct {
	QueueDepth       int
	MaxConcurrent    int
	RunTimeout       time.Duration
	Retention        time.Duration
	MaxPosts         int
	MinMemoryPercent float64
	DataDir          string

	// Run executes a job's archive run. Required.
	Run RunFunc

	// Memory is injectable for tests; nil selects the system reader.
	Memory sysmem.Reader

	// SweepInterval controls how often expired jobs are purged.
	SweepInterval time.Duration
}

// QueueStats is the snapshot served by the queue endpoint.
type QueueStats struct {
	Queued  int `json:"queued"`
	Running int `json:"running"`
	Depth   int `json:"depth"`
}

// Queue admits, dispatches, and retires jobs. Dispatch is strictly FIFO by
// submission time with at most MaxConcurrent runs in flight.
type Queue struct {
	store *Store
	opts  Options

	wake chan struct{}

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	stop    context.CancelFunc
	stopCtx context.Context
	wg      sync.WaitGroup
}

// NewQueue builds a Queue over the given store. Call Start to begin
// dispatching.
func NewQueue(store *Store, opts Options) *Queue {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 10
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 30 * time.Minute
	}
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	if opts.Memory == nil {
		opts.Memory = sysmem.Read
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		store:   store,
		opts:    opts,
		wake:    make(chan struct{}, 1),
		cancels: make(map[string]context.CancelFunc),
		stop:    cancel,
		stopCtx: ctx,
	}
}

// Start launches the dispatch workers and the retention sweeper.
func (q *Queue) Start() {
	for i := 0; i < q.opts.MaxConcurrent; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.wg.Add(1)
	go q.sweeper()
}

// Stop cancels every running job and waits for the workers to exit.
func (q *Queue) Stop() {
	q.stop()
	q.wg.Wait()
}

// Submit admits a new job, or refuses it with ErrQueueFull or
// ErrMemoryPressure. Admission control happens here so an overloaded host
// rejects work instead of degrading every tenant.
func (q *Queue) Submit(ctx context.Context, url string, formats []string, maxPosts int) (*Job, error) {
	if q.opts.MinMemoryPercent > 0 {
		snap, err := q.opts.Memory()
		if err != nil {
			slog.Warn("memory check failed, admitting job anyway", "error", err)
		} else if snap.AvailablePercent() < q.opts.MinMemoryPercent {
			return nil, fmt.Errorf("%w: %.1f%% available, need %.1f%%",
				ErrMemoryPressure, snap.AvailablePercent(), q.opts.MinMemoryPercent)
		}
	}

	if q.opts.MaxPosts > 0 && (maxPosts <= 0 || maxPosts > q.opts.MaxPosts) {
		maxPosts = q.opts.MaxPosts
	}

	job := &Job{
		ID:        uuid.NewString(),
		URL:       url,
		Formats:   formats,
		MaxPosts:  maxPosts,
		State:     StateQueued,
		CreatedAt: time.Now().UTC(),
	}
	// The depth check and the insert share one transaction, so concurrent
	// submits cannot land more than QueueDepth jobs in the queue.
	queued, admitted, err := q.store.AdmitJob(ctx, job, q.opts.QueueDepth)
	if err != nil {
		return nil, err
	}
	if !admitted {
		return nil, fmt.Errorf("%w: %d jobs queued", ErrQueueFull, queued)
	}

	slog.Info("job queued", "id", job.ID, "url", url, "position", queued+1)
	q.signal()

	job.Position = queued + 1
	return job, nil
}

// Status returns a job with its queue position filled in while queued.
func (q *Queue) Status(ctx context.Context, id string) (*Job, error) {
	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State == StateQueued {
		pos, err := q.store.QueuePosition(ctx, job)
		if err != nil {
			return nil, err
		}
		job.Position = pos
	}
	return job, nil
}

// Abandon removes a job: a queued job is dequeued before it ever runs, a
// running job is cancelled, a finished job is deleted along with its
// artifacts.
func (q *Queue) Abandon(ctx context.Context, id string) error {
	q.mu.Lock()
	if cancel, ok := q.cancels[id]; ok {
		cancel()
	}
	q.mu.Unlock()

	if err := q.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	q.removeArtifacts(id)
	slog.Info("job abandoned", "id", id)
	return nil
}

// Stats reports current queue occupancy.
func (q *Queue) Stats(ctx context.Context) (QueueStats, error) {
	queued, err := q.store.CountByState(ctx, StateQueued)
	if err != nil {
		return QueueStats{}, err
	}
	running, err := q.store.CountByState(ctx, StateRunning)
	if err != nil {
		return QueueStats{}, err
	}
	return QueueStats{Queued: queued, Running: running, Depth: q.opts.QueueDepth}, nil
}

// Remove deletes a finished job's record and artifacts. The download
// handler calls this after a successful transfer.
func (q *Queue) Remove(ctx context.Context, id string) error {
	if err := q.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	q.removeArtifacts(id)
	return nil
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) jobDir(id string) string {
	return filepath.Join(q.opts.DataDir, "jobs", id)
}

func (q *Queue) removeArtifacts(id string) {
	if err := os.RemoveAll(q.jobDir(id)); err != nil {
		slog.Warn("removing job artifacts", "id", id, "error", err)
	}
}

// worker claims queued jobs in FIFO order and runs them to completion.
func (q *Queue) worker() {
	defer q.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCtx.Done():
			return
		case <-q.wake:
		case <-ticker.C:
		}

		for {
			job, err := q.store.ClaimNextQueued(q.stopCtx, time.Now())
			if err != nil {
				if q.stopCtx.Err() == nil {
					slog.Error("claiming next job", "error", err)
				}
				break
			}
			if job == nil {
				break
			}
			q.runJob(job)
		}
	}
}

// runJob executes one claimed job within its time budget and records the
// terminal state.
func (q *Queue) runJob(job *Job) {
	runCtx, cancel := context.WithTimeout(q.stopCtx, q.opts.RunTimeout)
	defer cancel()

	q.mu.Lock()
	q.cancels[job.ID] = cancel
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		delete(q.cancels, job.ID)
		q.mu.Unlock()
	}()

	slog.Info("job started", "id", job.ID, "url", job.URL)

	outDir := filepath.Join(q.jobDir(job.ID), "output")
	req := pipeline.Request{
		URL:       job.URL,
		OutputDir: outDir,
		Formats:   job.Formats,
		MaxPosts:  job.MaxPosts,
	}

	progress := func(stage string) {
		if err := q.store.SetStage(context.Background(), job.ID, stage); err != nil {
			slog.Warn("recording job stage", "id", job.ID, "error", err)
		}
	}

	summary, runErr := q.opts.Run(runCtx, req, progress)

	state := StateSucceeded
	var errMsg, artifactPath, summaryJSON string

	if runErr != nil {
		state = StateFailed
		errMsg = runErr.Error()
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			errMsg = fmt.Sprintf("run exceeded time budget of %s", q.opts.RunTimeout)
		}
		q.removeArtifacts(job.ID)
	} else {
		if data, err := json.Marshal(summary); err == nil {
			summaryJSON = string(data)
		}
		zipPath := filepath.Join(q.jobDir(job.ID), "download.zip")
		if err := zipDir(outDir, zipPath); err != nil {
			state = StateFailed
			errMsg = fmt.Sprintf("packaging artifacts: %v", err)
			q.removeArtifacts(job.ID)
		} else {
			artifactPath = zipPath
			// The zip is the deliverable; the loose tree only wastes disk.
			if err := os.RemoveAll(outDir); err != nil {
				slog.Warn("removing job output tree", "id", job.ID, "error", err)
			}
		}
	}

	now := time.Now().UTC()
	err := q.store.FinishJob(context.Background(), job.ID, state, errMsg,
		artifactPath, summaryJSON, now, now.Add(q.opts.Retention))
	if errors.Is(err, ErrJobNotFound) {
		// Abandoned mid-run; its row is gone, so only artifacts remain.
		q.removeArtifacts(job.ID)
		return
	}
	if err != nil {
		slog.Error("finishing job", "id", job.ID, "error", err)
		return
	}

	slog.Info("job finished", "id", job.ID, "state", state, "error", errMsg)
}

// sweeper purges jobs past their retention expiry.
func (q *Queue) sweeper() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCtx.Done():
			return
		case <-ticker.C:
		}

		expired, err := q.store.ExpiredJobs(context.Background(), time.Now())
		if err != nil {
			slog.Error("listing expired jobs", "error", err)
			continue
		}
		for _, job := range expired {
			if err := q.store.DeleteJob(context.Background(), job.ID); err != nil {
				slog.Warn("deleting expired job", "id", job.ID, "error", err)
				continue
			}
			q.removeArtifacts(job.ID)
			slog.Info("expired job purged", "id", job.ID)
		}
	}
}
