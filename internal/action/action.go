package action

import (
	"fmt"
	"strings"
	"time"
)

// ApprovalState is the approval lifecycle state of a push.
type ApprovalState string

const (
	StateUndetermined        ApprovalState = "undetermined"
	StateAutoApproved        ApprovalState = "auto_approved"
	StateAutoRejected        ApprovalState = "auto_rejected"
	StatePendingManualReview ApprovalState = "pending_manual_review"
	StateErrored             ApprovalState = "errored"
)

// IsTerminal reports whether the state is a final verdict.
func (s ApprovalState) IsTerminal() bool {
	switch s {
	case StateAutoApproved, StateAutoRejected, StateErrored:
		return true
	default:
		return false
	}
}

// Action is one push attempt under evaluation.
type Action struct {
	ID            string        `json:"id"`
	Timestamp     time.Time     `json:"timestamp"`
	RepoName      string        `json:"repo"`
	ProxyGitPath  string        `json:"proxy_git_path"`
	Branch        string        `json:"branch"`
	CommitFrom    string        `json:"commit_from"`
	CommitTo      string        `json:"commit_to"`
	ApprovalState ApprovalState `json:"approval_state"`
	Steps         []*Step       `json:"steps"`
}

// New creates an undetermined action for a push.
func New(id, repo, gitPath, branch, from, to string) *Action {
	return &Action{
		ID:            strings.TrimSpace(id),
		Timestamp:     time.Now().UTC(),
		RepoName:      repo,
		ProxyGitPath:  gitPath,
		Branch:        branch,
		CommitFrom:    from,
		CommitTo:      to,
		ApprovalState: StateUndetermined,
		Steps:         []*Step{},
	}
}

// AddStep attaches a finished step. A step can only be attached once.
func (a *Action) AddStep(step *Step) error {
	if step == nil {
		return fmt.Errorf("step is nil")
	}
	if step.attached {
		return fmt.Errorf("step %s already attached", step.Name)
	}
	step.attached = true
	a.Steps = append(a.Steps, step)
	return nil
}

// LastStep returns the most recently attached step, or nil.
func (a *Action) LastStep() *Step {
	if len(a.Steps) == 0 {
		return nil
	}
	return a.Steps[len(a.Steps)-1]
}

// HasError reports whether any attached step failed.
func (a *Action) HasError() bool {
	for _, s := range a.Steps {
		if s.Error {
			return true
		}
	}
	return false
}

// ContinuePipeline reports whether later steps should still run.
func (a *Action) ContinuePipeline() bool {
	return !a.HasError() && a.ApprovalState != StateAutoRejected && a.ApprovalState != StateErrored
}

func (a *Action) SetAutoApproval()  { a.ApprovalState = StateAutoApproved }
func (a *Action) SetAutoRejection() { a.ApprovalState = StateAutoRejected }
func (a *Action) SetErrored()       { a.ApprovalState = StateErrored }

// SetPendingReview marks an undetermined action as waiting for a human decision.
func (a *Action) SetPendingReview() {
	if a.ApprovalState == StateUndetermined {
		a.ApprovalState = StatePendingManualReview
	}
}

// Step is the audit record of one pipeline stage.
type Step struct {
	Name         string   `json:"name"`
	Logs         []string `json:"logs"`
	Error        bool     `json:"error"`
	ErrorMessage string   `json:"error_message,omitempty"`

	attached bool
}

// NewStep starts a step record for the named stage.
func NewStep(name string) *Step {
	return &Step{Name: name, Logs: []string{}}
}

// Log appends a human readable line.
func (s *Step) Log(msg string) {
	s.Logs = append(s.Logs, msg)
}

// Logf appends a formatted line.
func (s *Step) Logf(format string, args ...any) {
	s.Log(fmt.Sprintf(format, args...))
}

// SetError marks the step failed with a short cause.
func (s *Step) SetError(msg string) {
	s.Error = true
	s.ErrorMessage = msg
}
