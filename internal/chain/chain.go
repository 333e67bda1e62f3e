package chain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MEKXH/pushgate/internal/action"
	"github.com/MEKXH/pushgate/internal/approval"
	"github.com/MEKXH/pushgate/internal/requestid"
)

// Step is one named stage of push evaluation. Run must append its own step
// record to the action and return it.
type Step interface {
	Name() string
	Run(ctx context.Context, a *action.Action) *action.Action
}

// ReviewQueue receives pushes that end the chain without a verdict.
type ReviewQueue interface {
	Enqueue(a *action.Action, reason string) (approval.Request, error)
}

// StepFunc adapts a function to Step.
type StepFunc struct {
	StepName string
	Fn       func(ctx context.Context, a *action.Action) *action.Action
}

func (f StepFunc) Name() string { return f.StepName }

func (f StepFunc) Run(ctx context.Context, a *action.Action) *action.Action {
	return f.Fn(ctx, a)
}

// Verdict is the aggregate decision for a push after the chain ran.
type Verdict string

const (
	VerdictApproved      Verdict = "approved"
	VerdictRejected      Verdict = "rejected"
	VerdictPendingReview Verdict = "pending_review"
	VerdictError         Verdict = "error"
)

// VerdictOf derives the aggregate decision from an action. An errored step
// always wins: a push that could not be judged is not approved.
func VerdictOf(a *action.Action) Verdict {
	switch {
	case a == nil || a.HasError() || a.ApprovalState == action.StateErrored:
		return VerdictError
	case a.ApprovalState == action.StateAutoRejected:
		return VerdictRejected
	case a.ApprovalState == action.StateAutoApproved:
		return VerdictApproved
	default:
		return VerdictPendingReview
	}
}

// Result summarizes one chain run.
type Result struct {
	Action  *action.Action
	Verdict Verdict
	// Review is set when the push was queued for manual review.
	Review *approval.Request
	// Ran lists the steps executed, in order.
	Ran []string
}

// Chain runs steps in order until one stops the pipeline.
type Chain struct {
	steps  []Step
	review ReviewQueue
}

// New creates a chain from steps.
func New(steps ...Step) *Chain {
	return &Chain{steps: steps}
}

// SetReviewQueue enables queuing of undecided pushes.
func (c *Chain) SetReviewQueue(q ReviewQueue) {
	c.review = q
}

// Run drives a through the steps. After each step the chain stops if the
// action has an errored step or a rejection. A push that finishes clean and
// undecided is marked pending manual review.
func (c *Chain) Run(ctx context.Context, a *action.Action) (Result, error) {
	result, err := c.run(ctx, a)
	result.Verdict = VerdictOf(result.Action)
	return result, err
}

func (c *Chain) run(ctx context.Context, a *action.Action) (Result, error) {
	if a == nil {
		return Result{}, fmt.Errorf("action is nil")
	}
	if a.ID == "" {
		a.ID = requestid.FromContext(ctx)
	}
	if a.ID == "" {
		a.ID = requestid.New()
	}
	ctx = requestid.WithContext(ctx, a.ID)

	result := Result{Action: a}
	for _, step := range c.steps {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		before := len(a.Steps)
		if next := step.Run(ctx, a); next != nil {
			a = next
			result.Action = a
		}
		result.Ran = append(result.Ran, step.Name())
		if len(a.Steps) == before {
			slog.Warn("chain step recorded nothing", "step", step.Name(), "request_id", a.ID)
		}
		if !a.ContinuePipeline() {
			slog.Info("chain stopped",
				"request_id", a.ID,
				"step", step.Name(),
				"approval_state", string(a.ApprovalState),
				"error", a.HasError(),
			)
			return result, nil
		}
	}

	if a.ApprovalState != action.StateUndetermined {
		return result, nil
	}
	a.SetPendingReview()
	if c.review == nil {
		return result, nil
	}

	req, err := c.review.Enqueue(a, pendingReason(a))
	if err != nil {
		slog.Warn("queue push for review failed", "request_id", a.ID, "repo", a.RepoName, "error", err)
		return result, nil
	}
	result.Review = &req
	slog.Info("push queued for review", "request_id", a.ID, "review_id", req.ID, "repo", a.RepoName, "branch", a.Branch)
	return result, nil
}

func pendingReason(a *action.Action) string {
	last := a.LastStep()
	if last == nil || len(last.Logs) == 0 {
		return "no automatic verdict"
	}
	return last.Logs[len(last.Logs)-1]
}
