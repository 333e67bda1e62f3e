package approval

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MEKXH/pushgate/internal/action"
	"github.com/MEKXH/pushgate/internal/audit"
)

// DefaultTTL is how long a deferred push waits for a reviewer.
const DefaultTTL = 24 * time.Hour

// Service manages the pending review ledger.
type Service struct {
	store      *Store
	defaultTTL time.Duration
	audit      *audit.Writer
	now        func() time.Time
}

// NewService creates a service backed by <workspace>/state/reviews.json.
func NewService(workspace string) *Service {
	return &Service{
		store:      NewStore(workspace),
		defaultTTL: DefaultTTL,
		now:        time.Now,
	}
}

// Path returns the ledger file location.
func (s *Service) Path() string {
	return s.store.Path()
}

// SetDefaultTTL changes the TTL used when CreateInput carries none.
func (s *Service) SetDefaultTTL(ttl time.Duration) {
	if ttl > 0 {
		s.defaultTTL = ttl
	}
}

// SetAuditWriter records queue and expiry events.
func (s *Service) SetAuditWriter(writer *audit.Writer) {
	s.audit = writer
}

// Create queues a push for review. A pending request for the same repo,
// branch and target commit is returned instead of a duplicate.
func (s *Service) Create(input CreateInput) (Request, error) {
	repo := strings.TrimSpace(input.Repo)
	if repo == "" {
		return Request{}, fmt.Errorf("repo is required")
	}
	commitTo := strings.TrimSpace(input.CommitTo)
	if commitTo == "" {
		return Request{}, fmt.Errorf("commit_to is required")
	}

	branch := strings.TrimSpace(input.Branch)
	now := s.now().UTC()
	ttl := input.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	var (
		request Request
		created bool
	)
	err := s.store.update(func(l *ledger) (bool, error) {
		for _, existing := range l.Requests {
			if existing.Status == StatusPending && existing.Repo == repo &&
				existing.Branch == branch && existing.CommitTo == commitTo {
				request = existing
				return false, nil
			}
		}

		request = Request{
			ID:          strconv.FormatInt(l.NextID, 10),
			RequestID:   strings.TrimSpace(input.RequestID),
			Repo:        repo,
			Branch:      branch,
			CommitFrom:  strings.TrimSpace(input.CommitFrom),
			CommitTo:    commitTo,
			Reason:      strings.TrimSpace(input.Reason),
			Status:      StatusPending,
			RequestedAt: now,
			ExpiresAt:   now.Add(ttl),
		}
		l.NextID++
		l.Requests = append(l.Requests, request)
		created = true
		return true, nil
	})
	if err != nil {
		return Request{}, err
	}
	if !created {
		return request, nil
	}

	_ = s.audit.Append(audit.Event{
		Time:      now,
		Type:      audit.EventReviewQueued,
		RequestID: request.RequestID,
		Repo:      request.Repo,
		Branch:    request.Branch,
		CommitTo:  request.CommitTo,
		Result:    string(request.Status),
		Message:   request.Reason,
	})
	return request, nil
}

// Enqueue queues a deferred action for review.
func (s *Service) Enqueue(a *action.Action, reason string) (Request, error) {
	if a == nil {
		return Request{}, fmt.Errorf("action is nil")
	}
	return s.Create(CreateInput{
		RequestID:  a.ID,
		Repo:       a.RepoName,
		Branch:     a.Branch,
		CommitFrom: a.CommitFrom,
		CommitTo:   a.CommitTo,
		Reason:     reason,
	})
}

// List returns requests filtered by query values.
func (s *Service) List(query Query) ([]Request, error) {
	data, err := s.store.Load()
	if err != nil {
		return nil, err
	}

	idFilter := strings.TrimSpace(query.ID)
	statusFilter := strings.TrimSpace(string(query.Status))
	repoFilter := strings.TrimSpace(query.Repo)

	result := make([]Request, 0, len(data.Requests))
	for _, req := range data.Requests {
		if idFilter != "" && req.ID != idFilter {
			continue
		}
		if statusFilter != "" && string(req.Status) != statusFilter {
			continue
		}
		if repoFilter != "" && !strings.EqualFold(req.Repo, repoFilter) {
			continue
		}
		result = append(result, req)
	}
	return result, nil
}

// ExpirePending marks pending requests as expired when TTL has elapsed.
func (s *Service) ExpirePending() ([]Request, error) {
	now := s.now().UTC()
	expired := make([]Request, 0)

	err := s.store.update(func(l *ledger) (bool, error) {
		expired = expired[:0]
		for i := range l.Requests {
			req := &l.Requests[i]
			if req.Status != StatusPending || req.ExpiresAt.IsZero() || req.ExpiresAt.After(now) {
				continue
			}
			req.Status = StatusExpired
			req.DecidedAt = now
			req.DecidedBy = "system"
			if strings.TrimSpace(req.DecisionNote) == "" {
				req.DecisionNote = "expired by ttl"
			}
			expired = append(expired, *req)
		}
		return len(expired) > 0, nil
	})
	if err != nil {
		return nil, err
	}

	for _, req := range expired {
		_ = s.audit.Append(audit.Event{
			Time:      now,
			Type:      audit.EventReviewExpire,
			RequestID: req.RequestID,
			Repo:      req.Repo,
			Branch:    req.Branch,
			CommitTo:  req.CommitTo,
			Result:    string(req.Status),
			Message:   req.DecisionNote,
		})
	}
	return expired, nil
}
