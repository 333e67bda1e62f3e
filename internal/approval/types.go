package approval

import "time"

// RequestStatus is the lifecycle state of a review request.
type RequestStatus string

const (
	StatusPending RequestStatus = "pending"
	StatusExpired RequestStatus = "expired"
)

// Request is a persisted manual review record for a deferred push.
type Request struct {
	ID           string        `json:"id"`
	RequestID    string        `json:"request_id,omitempty"`
	Repo         string        `json:"repo"`
	Branch       string        `json:"branch"`
	CommitFrom   string        `json:"commit_from"`
	CommitTo     string        `json:"commit_to"`
	Reason       string        `json:"reason,omitempty"`
	DecisionNote string        `json:"decision_note,omitempty"`
	Status       RequestStatus `json:"status"`
	RequestedAt  time.Time     `json:"requested_at"`
	ExpiresAt    time.Time     `json:"expires_at,omitempty"`
	DecidedAt    time.Time     `json:"decided_at,omitempty"`
	DecidedBy    string        `json:"decided_by,omitempty"`
}

// CreateInput contains fields needed to queue a push for review.
type CreateInput struct {
	RequestID  string
	Repo       string
	Branch     string
	CommitFrom string
	CommitTo   string
	Reason     string
	TTL        time.Duration
}

// Query filters review requests when listing.
type Query struct {
	ID     string
	Status RequestStatus
	Repo   string
}
