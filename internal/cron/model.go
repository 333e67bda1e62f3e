package cron

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Handler is called when a job fires.
type Handler func(ctx context.Context) error

// JobState holds runtime state for a job.
type JobState struct {
	NextRunAt  time.Time `json:"next_run_at,omitempty"`
	LastRunAt  time.Time `json:"last_run_at,omitempty"`
	LastStatus string    `json:"last_status,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	Runs       int64     `json:"runs"`
}

// Job is a named handler run on a cron expression.
type Job struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Expr  string   `json:"expr"`
	State JobState `json:"state"`

	handler Handler
}

func newJob(name, expr string, handler Handler) *Job {
	return &Job{
		ID:      uuid.NewString()[:8],
		Name:    name,
		Expr:    expr,
		handler: handler,
	}
}

// ScheduleDescription returns a human-readable schedule summary.
func (j Job) ScheduleDescription() string {
	if j.State.NextRunAt.IsZero() {
		return "cron: " + j.Expr
	}
	return "cron: " + j.Expr + " (next " + j.State.NextRunAt.Format(time.RFC3339) + ")"
}
