// Package jobs implements the hosted-mode job queue: SQLite-backed job
// records, FIFO dispatch with admission control, artifact packaging, and
// TTL-based retention.
package jobs

import (
	"strings"
	"time"
)

// State is a job's position in its lifecycle. Transitions are one-way:
// queued -> running -> succeeded | failed.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Job is one archive request moving through the queue.
type Job struct {
	ID       string   `json:"id"`
	URL      string   `json:"url"`
	Formats  []string `json:"formats"`
	MaxPosts int      `json:"max_posts"`

	State State  `json:"state"`
	Stage string `json:"stage,omitempty"`
	Error string `json:"error,omitempty"`

	// Position is 1-based within the queue; only meaningful while queued.
	Position int `json:"position,omitempty"`

	ArtifactPath string `json:"-"`
	SummaryJSON  string `json:"-"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Done reports whether the job has reached a terminal state.
func (j *Job) Done() bool {
	return j.State == StateSucceeded || j.State == StateFailed
}

func joinFormats(formats []string) string {
	return strings.Join(formats, ",")
}

func splitFormats(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
