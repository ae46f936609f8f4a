package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

// newTestStore opens an in-memory database with migrations applied.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := OpenDatabase(":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := RunMigrations(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	return NewStore(db)
}

func mustCreate(t *testing.T, s *Store, id string, createdAt time.Time) *Job {
	t.Helper()
	job := &Job{
		ID:        id,
		URL:       "https://blog.example.com",
		Formats:   []string{"html", "epub"},
		MaxPosts:  50,
		State:     StateQueued,
		CreatedAt: createdAt,
	}
	if err := s.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("creating job %s: %v", id, err)
	}
	return job
}

func TestStoreCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	mustCreate(t, s, "job-1", created)

	job, err := s.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.URL != "https://blog.example.com" {
		t.Errorf("url = %q", job.URL)
	}
	if len(job.Formats) != 2 || job.Formats[0] != "html" || job.Formats[1] != "epub" {
		t.Errorf("formats = %v", job.Formats)
	}
	if job.State != StateQueued {
		t.Errorf("state = %q, want queued", job.State)
	}
	if !job.CreatedAt.Equal(created) {
		t.Errorf("created_at = %v, want %v", job.CreatedAt, created)
	}

	if _, err := s.GetJob(context.Background(), "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("want ErrJobNotFound, got %v", err)
	}
}

func TestStoreClaimIsFIFO(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	mustCreate(t, s, "second", base.Add(time.Minute))
	mustCreate(t, s, "first", base)

	job, err := s.ClaimNextQueued(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ClaimNextQueued: %v", err)
	}
	if job == nil || job.ID != "first" {
		t.Fatalf("claimed %+v, want job %q", job, "first")
	}
	if job.State != StateRunning || job.StartedAt == nil {
		t.Errorf("claimed job not running: %+v", job)
	}

	job, err = s.ClaimNextQueued(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if job == nil || job.ID != "second" {
		t.Fatalf("claimed %+v, want job %q", job, "second")
	}

	job, err = s.ClaimNextQueued(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("empty claim: %v", err)
	}
	if job != nil {
		t.Errorf("claimed %+v from an empty queue", job)
	}
}

func TestStoreAdmitJobEnforcesDepth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	first := &Job{ID: "first", URL: "https://blog.example.com", State: StateQueued, CreatedAt: base}
	queued, admitted, err := s.AdmitJob(ctx, first, 1)
	if err != nil {
		t.Fatalf("AdmitJob: %v", err)
	}
	if !admitted || queued != 0 {
		t.Fatalf("admitted/queued = %v/%d, want true/0", admitted, queued)
	}

	second := &Job{ID: "second", URL: "https://blog.example.com", State: StateQueued, CreatedAt: base.Add(time.Second)}
	queued, admitted, err = s.AdmitJob(ctx, second, 1)
	if err != nil {
		t.Fatalf("AdmitJob at depth: %v", err)
	}
	if admitted {
		t.Error("job admitted past queue depth")
	}
	if queued != 1 {
		t.Errorf("queued = %d, want 1", queued)
	}
	if _, err := s.GetJob(ctx, "second"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("refused job was inserted anyway: %v", err)
	}

	// A running job does not count against the queue depth.
	if _, err := s.ClaimNextQueued(ctx, time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, admitted, err = s.AdmitJob(ctx, second, 1); err != nil || !admitted {
		t.Errorf("admitted/err = %v/%v after claim, want true/nil", admitted, err)
	}
}

func TestStoreQueuePosition(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a := mustCreate(t, s, "a", base)
	b := mustCreate(t, s, "b", base.Add(time.Second))
	c := mustCreate(t, s, "c", base.Add(2*time.Second))

	for i, job := range []*Job{a, b, c} {
		pos, err := s.QueuePosition(context.Background(), job)
		if err != nil {
			t.Fatalf("QueuePosition(%s): %v", job.ID, err)
		}
		if pos != i+1 {
			t.Errorf("position of %s = %d, want %d", job.ID, pos, i+1)
		}
	}
}

func TestStoreFinishAndExpire(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	mustCreate(t, s, "done", now)

	err := s.FinishJob(ctx, "done", StateSucceeded, "", "/data/jobs/done/download.zip",
		`{"posts_fetched":3}`, now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("FinishJob: %v", err)
	}

	job, err := s.GetJob(ctx, "done")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.State != StateSucceeded || !job.Done() {
		t.Errorf("state = %q", job.State)
	}
	if job.ArtifactPath != "/data/jobs/done/download.zip" {
		t.Errorf("artifact = %q", job.ArtifactPath)
	}
	if job.ExpiresAt == nil || !job.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("expires_at = %v", job.ExpiresAt)
	}

	// Not yet expired.
	expired, err := s.ExpiredJobs(ctx, now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("ExpiredJobs: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("expired early: %v", expired)
	}

	expired, err = s.ExpiredJobs(ctx, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ExpiredJobs: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "done" {
		t.Errorf("expired = %v, want job done", expired)
	}

	if err := s.FinishJob(ctx, "missing", StateFailed, "x", "", "", now, now); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("want ErrJobNotFound, got %v", err)
	}
}

func TestStoreCountByState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	mustCreate(t, s, "q1", base)
	mustCreate(t, s, "q2", base.Add(time.Second))

	if _, err := s.ClaimNextQueued(ctx, time.Now()); err != nil {
		t.Fatal(err)
	}

	queued, err := s.CountByState(ctx, StateQueued)
	if err != nil {
		t.Fatal(err)
	}
	running, err := s.CountByState(ctx, StateRunning)
	if err != nil {
		t.Fatal(err)
	}
	if queued != 1 || running != 1 {
		t.Errorf("queued/running = %d/%d, want 1/1", queued, running)
	}
}
