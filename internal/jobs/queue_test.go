package jobs

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/timf34/blogpack/internal/pipeline"
	"github.com/timf34/blogpack/internal/sysmem"
)

func healthyMemory() (sysmem.Snapshot, error) {
	return sysmem.Snapshot{Total: 16 << 30, Available: 8 << 30}, nil
}

// fakeRun records which jobs ran and writes a small output tree so the queue
// has something to package.
type fakeRun struct {
	mu   sync.Mutex
	ran  []string
	err  error
	slow time.Duration
}

func (f *fakeRun) run(ctx context.Context, req pipeline.Request, progress func(string)) (*pipeline.Summary, error) {
	f.mu.Lock()
	f.ran = append(f.ran, req.URL)
	f.mu.Unlock()

	progress("fetching posts")

	if f.slow > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.slow):
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	htmlDir := filepath.Join(req.OutputDir, "html")
	if err := os.MkdirAll(htmlDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(htmlDir, "index.html"), []byte("<html></html>"), 0o644); err != nil {
		return nil, err
	}
	return &pipeline.Summary{PostsFetched: 2}, nil
}

func (f *fakeRun) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ran)
}

func newTestQueue(t *testing.T, run RunFunc, opts Options) *Queue {
	t.Helper()

	store := newTestStore(t)
	opts.Run = run
	opts.DataDir = t.TempDir()
	if opts.Memory == nil {
		opts.Memory = healthyMemory
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = 10 * time.Millisecond
	}

	q := NewQueue(store, opts)
	return q
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestQueueRunsJobToCompletion(t *testing.T) {
	fr := &fakeRun{}
	q := newTestQueue(t, fr.run, Options{})
	q.Start()
	defer q.Stop()

	ctx := context.Background()
	job, err := q.Submit(ctx, "https://blog.example.com", []string{"html"}, 10)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Position != 1 {
		t.Errorf("position = %d, want 1", job.Position)
	}

	waitFor(t, "job to finish", func() bool {
		got, err := q.Status(ctx, job.ID)
		return err == nil && got.Done()
	})

	got, err := q.Status(ctx, job.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got.State != StateSucceeded {
		t.Fatalf("state = %q (error %q), want succeeded", got.State, got.Error)
	}
	if got.ArtifactPath == "" {
		t.Fatal("no artifact recorded")
	}
	if got.ExpiresAt == nil {
		t.Error("no expiry stamped")
	}

	// The artifact is a readable zip holding the output tree.
	zr, err := zip.OpenReader(got.ArtifactPath)
	if err != nil {
		t.Fatalf("opening artifact: %v", err)
	}
	defer zr.Close()
	found := false
	for _, f := range zr.File {
		if f.Name == "html/index.html" {
			found = true
		}
	}
	if !found {
		t.Errorf("html/index.html missing from artifact")
	}
}

func TestQueueAdmissionControl(t *testing.T) {
	fr := &fakeRun{}
	// Not started: submissions stack up in the queue.
	q := newTestQueue(t, fr.run, Options{QueueDepth: 2})

	ctx := context.Background()
	if _, err := q.Submit(ctx, "https://one.example.com", []string{"html"}, 0); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := q.Submit(ctx, "https://two.example.com", []string{"html"}, 0); err != nil {
		t.Fatalf("second submit: %v", err)
	}

	_, err := q.Submit(ctx, "https://three.example.com", []string{"html"}, 0)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("want ErrQueueFull, got %v", err)
	}
}

func TestQueueRefusesUnderMemoryPressure(t *testing.T) {
	fr := &fakeRun{}
	q := newTestQueue(t, fr.run, Options{
		MinMemoryPercent: 20,
		Memory: func() (sysmem.Snapshot, error) {
			return sysmem.Snapshot{Total: 100, Available: 5}, nil
		},
	})

	_, err := q.Submit(context.Background(), "https://blog.example.com", []string{"html"}, 0)
	if !errors.Is(err, ErrMemoryPressure) {
		t.Fatalf("want ErrMemoryPressure, got %v", err)
	}
}

func TestQueueCapsMaxPosts(t *testing.T) {
	fr := &fakeRun{}
	q := newTestQueue(t, fr.run, Options{MaxPosts: 100})

	ctx := context.Background()
	job, err := q.Submit(ctx, "https://blog.example.com", []string{"html"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if job.MaxPosts != 100 {
		t.Errorf("unlimited request capped to %d, want 100", job.MaxPosts)
	}

	job, err = q.Submit(ctx, "https://blog.example.com/b", []string{"html"}, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if job.MaxPosts != 100 {
		t.Errorf("oversized request capped to %d, want 100", job.MaxPosts)
	}

	job, err = q.Submit(ctx, "https://blog.example.com/c", []string{"html"}, 30)
	if err != nil {
		t.Fatal(err)
	}
	if job.MaxPosts != 30 {
		t.Errorf("in-range request changed to %d, want 30", job.MaxPosts)
	}
}

func TestQueueAbandonedQueuedJobNeverRuns(t *testing.T) {
	fr := &fakeRun{slow: 200 * time.Millisecond}
	q := newTestQueue(t, fr.run, Options{MaxConcurrent: 1})

	ctx := context.Background()
	blocker, err := q.Submit(ctx, "https://blocker.example.com", []string{"html"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	victim, err := q.Submit(ctx, "https://victim.example.com", []string{"html"}, 0)
	if err != nil {
		t.Fatal(err)
	}

	q.Start()
	defer q.Stop()

	// Abandon the second job while the first still occupies the worker.
	waitFor(t, "blocker to start", func() bool {
		got, err := q.Status(ctx, blocker.ID)
		return err == nil && got.State == StateRunning
	})
	if err := q.Abandon(ctx, victim.ID); err != nil {
		t.Fatalf("Abandon: %v", err)
	}

	waitFor(t, "blocker to finish", func() bool {
		got, err := q.Status(ctx, blocker.ID)
		return err == nil && got.Done()
	})
	// Give the worker a chance to (wrongly) pick up the abandoned job.
	time.Sleep(100 * time.Millisecond)

	if fr.count() != 1 {
		t.Errorf("ran %d jobs, want 1 (abandoned job must never run)", fr.count())
	}
	if _, err := q.Status(ctx, victim.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("abandoned job still present: %v", err)
	}
}

func TestQueueAbandonCancelsRunningJob(t *testing.T) {
	fr := &fakeRun{slow: 10 * time.Second}
	q := newTestQueue(t, fr.run, Options{})
	q.Start()
	defer q.Stop()

	ctx := context.Background()
	job, err := q.Submit(ctx, "https://blog.example.com", []string{"html"}, 0)
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, "job to start", func() bool {
		got, err := q.Status(ctx, job.ID)
		return err == nil && got.State == StateRunning
	})

	if err := q.Abandon(ctx, job.ID); err != nil {
		t.Fatalf("Abandon: %v", err)
	}

	waitFor(t, "job to disappear", func() bool {
		_, err := q.Status(ctx, job.ID)
		return errors.Is(err, ErrJobNotFound)
	})
}

func TestQueueRunTimeout(t *testing.T) {
	fr := &fakeRun{slow: 10 * time.Second}
	q := newTestQueue(t, fr.run, Options{RunTimeout: 50 * time.Millisecond})
	q.Start()
	defer q.Stop()

	ctx := context.Background()
	job, err := q.Submit(ctx, "https://blog.example.com", []string{"html"}, 0)
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, "job to fail", func() bool {
		got, err := q.Status(ctx, job.ID)
		return err == nil && got.State == StateFailed
	})

	got, err := q.Status(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Error == "" {
		t.Error("timed-out job carries no error")
	}
}

func TestQueueRetentionSweep(t *testing.T) {
	fr := &fakeRun{}
	q := newTestQueue(t, fr.run, Options{
		Retention:     20 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	})
	q.Start()
	defer q.Stop()

	ctx := context.Background()
	job, err := q.Submit(ctx, "https://blog.example.com", []string{"html"}, 0)
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, "job to be swept", func() bool {
		_, err := q.Status(ctx, job.ID)
		return errors.Is(err, ErrJobNotFound)
	})

	// Artifacts went with it.
	if _, err := os.Stat(q.jobDir(job.ID)); !os.IsNotExist(err) {
		t.Errorf("job dir survived the sweep: %v", err)
	}
}
