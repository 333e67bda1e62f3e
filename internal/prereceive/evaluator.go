package prereceive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MEKXH/pushgate/internal/action"
	"github.com/MEKXH/pushgate/internal/audit"
	"github.com/MEKXH/pushgate/internal/metrics"
	"github.com/MEKXH/pushgate/internal/policy"
	"github.com/MEKXH/pushgate/internal/requestid"
)

// StepName identifies the hook step in an action's step log.
const StepName = "executeExternalPreReceiveHook"

// Config is the explicit evaluator configuration. Nothing is read from the
// process environment or working directory.
type Config struct {
	// HookPath is absolute or relative to BaseDir.
	HookPath string
	BaseDir  string
	// GitPath is used when an action carries no ProxyGitPath.
	GitPath string
	Timeout time.Duration
}

// Request carries per-call options from the driver.
type Request struct {
	ID string
	// HookPath overrides configuration and rules for this call.
	HookPath string
}

// Evaluator is the external pre-receive hook step.
type Evaluator struct {
	cfg      Config
	invoker  *Invoker
	resolver *policy.Resolver
	metrics  *metrics.RuntimeMetrics
	audit    *audit.Writer
	now      func() time.Time
}

// NewEvaluator creates the hook step with its own invoker.
func NewEvaluator(cfg Config) *Evaluator {
	if strings.TrimSpace(cfg.HookPath) == "" {
		cfg.HookPath = DefaultHookPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Evaluator{
		cfg:     cfg,
		invoker: NewInvoker(0),
		now:     time.Now,
	}
}

// SetResolver enables per-repo hook rules.
func (e *Evaluator) SetResolver(r policy.Resolver) {
	e.resolver = &r
}

// SetRuntimeMetrics records every evaluation into recorder.
func (e *Evaluator) SetRuntimeMetrics(recorder *metrics.RuntimeMetrics) {
	e.metrics = recorder
}

// SetAuditWriter appends a hook_result event for every evaluation.
func (e *Evaluator) SetAuditWriter(writer *audit.Writer) {
	e.audit = writer
}

// Name implements chain.Step.
func (e *Evaluator) Name() string { return StepName }

// Run implements chain.Step using the request id carried by ctx.
func (e *Evaluator) Run(ctx context.Context, a *action.Action) *action.Action {
	return e.Evaluate(ctx, Request{ID: requestid.FromContext(ctx)}, a)
}

// Evaluate runs the hook for a and records the outcome on it. It always
// appends exactly one step and never returns an error: every failure is
// encoded in that step. A nil action is returned unchanged.
func (e *Evaluator) Evaluate(ctx context.Context, req Request, a *action.Action) *action.Action {
	if a == nil {
		return nil
	}
	step := action.NewStep(StepName)

	if a.ApprovalState.IsTerminal() {
		step.Logf("approval already decided (%s), skipping hook", a.ApprovalState)
		e.attach(a, step)
		return a
	}

	reqID := strings.TrimSpace(req.ID)
	if reqID == "" {
		reqID = a.ID
	}
	if reqID == "" {
		reqID = requestid.FromContext(ctx)
	}

	start := e.now()
	hookPath, res, runErr := e.run(ctx, req, step, a)
	outcome := Interpret(step, a, res, runErr)
	duration := e.now().Sub(start)
	e.attach(a, step)

	var fault *LaunchError
	timedOut := errors.As(runErr, &fault) && fault.Kind == FaultTimeout
	executed := runErr == nil || (fault != nil && (fault.Kind == FaultTimeout || fault.Kind == FaultCanceled || fault.Kind == FaultIO))

	logAttrs := []any{
		"request_id", reqID,
		"repo", a.RepoName,
		"branch", a.Branch,
		"commit_to", a.CommitTo,
		"hook", hookPath,
		"outcome", string(outcome),
		"approval_state", string(a.ApprovalState),
		"duration_ms", duration.Milliseconds(),
	}
	if e.metrics != nil {
		snapshot, metricErr := e.metrics.RecordHookExecution(duration, string(outcome), timedOut)
		if metricErr != nil {
			slog.Warn("record hook metrics failed", "error", metricErr)
		}
		logAttrs = append(logAttrs,
			"hook_total", snapshot.Hook.Total,
			"hook_error_ratio", snapshot.Hook.ErrorRatio(),
			"hook_latency_p95_proxy_ms", snapshot.Hook.P95ProxyLatencyMs,
		)
	}

	switch outcome {
	case OutcomeMalfunction, OutcomeFailed:
		slog.Warn("pre-receive hook errored", append(logAttrs, "error", step.ErrorMessage)...)
	default:
		slog.Info("pre-receive hook evaluated", logAttrs...)
	}

	event := audit.Event{
		Time:      e.now().UTC(),
		Type:      audit.EventHookResult,
		RequestID: reqID,
		Repo:      a.RepoName,
		Branch:    a.Branch,
		CommitTo:  a.CommitTo,
		Hook:      hookPath,
		Result:    string(outcome),
		Message:   step.ErrorMessage,
	}
	if executed {
		event.DurationMs = duration.Milliseconds()
		if runErr == nil {
			event.ExitStatus = res.Status.String()
		}
	}
	if err := e.audit.Append(event); err != nil {
		slog.Warn("failed to append audit event", "type", event.Type, "request_id", reqID, "error", err)
	}

	return a
}

func (e *Evaluator) run(ctx context.Context, req Request, step *action.Step, a *action.Action) (string, ProcessResult, error) {
	hook, timeout, skip, ruleMsg := e.resolve(req, a)
	if ruleMsg != "" {
		step.Log(ruleMsg)
	}
	if skip {
		return "", ProcessResult{}, ErrHookNotFound
	}

	hookPath, err := ResolveHookPath(hook, e.cfg.BaseDir)
	if err != nil {
		return hook, ProcessResult{}, newFault(FaultConfig, err)
	}
	found, err := hookExists(hookPath)
	if err != nil {
		return hookPath, ProcessResult{}, newFault(FaultLaunch, err)
	}
	if !found {
		return hookPath, ProcessResult{}, ErrHookNotFound
	}

	stdin, err := SanitizeInput(a)
	if err != nil {
		return hookPath, ProcessResult{}, newFault(FaultInput, err)
	}

	gitPath := a.ProxyGitPath
	if strings.TrimSpace(gitPath) == "" {
		gitPath = e.cfg.GitPath
	}
	if strings.TrimSpace(gitPath) == "" {
		return hookPath, ProcessResult{}, newFault(FaultConfig, fmt.Errorf("proxy git path is not configured"))
	}
	dir, err := RepoDir(gitPath, a.RepoName)
	if err != nil {
		return hookPath, ProcessResult{}, newFault(FaultInput, err)
	}

	step.Logf("executing pre-receive hook: %s", hookPath)
	res, err := e.invoker.Run(ctx, RunSpec{
		HookPath: hookPath,
		Dir:      dir,
		Stdin:    stdin,
		Timeout:  timeout,
	})
	return hookPath, res, err
}

func (e *Evaluator) resolve(req Request, a *action.Action) (hook string, timeout time.Duration, skip bool, ruleMsg string) {
	hook = e.cfg.HookPath
	timeout = e.cfg.Timeout

	if override := strings.TrimSpace(req.HookPath); override != "" {
		return override, timeout, false, ""
	}
	if e.resolver == nil {
		return hook, timeout, false, ""
	}

	d := e.resolver.Resolve(policy.Input{Repo: a.RepoName, Branch: a.Branch})
	if d.Skip {
		return "", 0, true, fmt.Sprintf("pre-receive hook disabled by rule %d", d.Rule)
	}
	if strings.TrimSpace(d.HookPath) != "" {
		hook = d.HookPath
	}
	if d.Timeout > 0 {
		timeout = d.Timeout
	}
	if d.Rule >= 0 {
		ruleMsg = fmt.Sprintf("pre-receive hook selected by rule %d", d.Rule)
	}
	return hook, timeout, false, ruleMsg
}

func (e *Evaluator) attach(a *action.Action, step *action.Step) {
	if err := a.AddStep(step); err != nil {
		slog.Error("attach step failed", "step", step.Name, "error", err)
	}
}
