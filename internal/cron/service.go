package cron

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

const defaultPollInterval = time.Second

// Service runs registered jobs with a ticker-based polling loop.
type Service struct {
	mu       sync.RWMutex
	jobs     []*Job
	interval time.Duration
	now      func() time.Time
	cancel   context.CancelFunc
	stopped  chan struct{}
	running  bool
}

// NewService creates an empty scheduler.
func NewService() *Service {
	return &Service{
		interval: defaultPollInterval,
		now:      time.Now,
	}
}

// AddJob registers handler under a 5-field cron expression.
func (s *Service) AddJob(name, expr string, handler Handler) (Job, error) {
	expr = strings.TrimSpace(expr)
	if handler == nil {
		return Job{}, fmt.Errorf("job %s: handler is required", name)
	}
	if !gronx.New().IsValid(expr) {
		return Job{}, fmt.Errorf("job %s: invalid cron expression %q", name, expr)
	}

	job := newJob(name, expr, handler)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.computeNextRun(job); err != nil {
		return Job{}, err
	}
	s.jobs = append(s.jobs, job)

	slog.Info("cron: job added", "id", job.ID, "name", name, "schedule", job.ScheduleDescription())
	return *job, nil
}

// Start begins the polling loop. Jobs run with a context canceled by Stop or
// by ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	stopped := make(chan struct{})
	s.stopped = stopped
	s.running = true
	s.mu.Unlock()

	go s.loop(loopCtx, stopped)

	slog.Info("cron service started", "jobs", len(s.Jobs()))
}

// Stop gracefully shuts down the polling loop.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	stopped := s.stopped
	s.mu.Unlock()

	<-stopped
	slog.Info("cron service stopped")
}

// Jobs returns a snapshot of registered jobs.
func (s *Service) Jobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}

func (s *Service) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every job whose next run is due.
func (s *Service) tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*Job
	for _, j := range s.jobs {
		if j.State.NextRunAt.IsZero() || j.State.NextRunAt.After(now) {
			continue
		}
		// Clear NextRunAt to prevent re-firing.
		j.State.NextRunAt = time.Time{}
		due = append(due, j)
	}
	s.mu.Unlock()

	for _, j := range due {
		s.executeJob(ctx, j)
	}
}

func (s *Service) executeJob(ctx context.Context, job *Job) {
	slog.Debug("cron: executing job", "id", job.ID, "name", job.Name)

	execErr := job.handler(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	job.State.LastRunAt = s.now()
	job.State.Runs++
	if execErr != nil {
		job.State.LastStatus = "error"
		job.State.LastError = execErr.Error()
		slog.Error("cron: job execution failed", "id", job.ID, "name", job.Name, "error", execErr)
	} else {
		job.State.LastStatus = "ok"
		job.State.LastError = ""
	}

	if err := s.computeNextRun(job); err != nil {
		slog.Warn("cron: failed to compute next run", "id", job.ID, "expr", job.Expr, "error", err)
	}
}

func (s *Service) computeNextRun(job *Job) error {
	next, err := gronx.NextTickAfter(job.Expr, s.now(), false)
	if err != nil {
		return fmt.Errorf("job %s: next run: %w", job.Name, err)
	}
	job.State.NextRunAt = next
	return nil
}
