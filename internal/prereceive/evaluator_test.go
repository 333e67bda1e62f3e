package prereceive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MEKXH/pushgate/internal/action"
	"github.com/MEKXH/pushgate/internal/audit"
	"github.com/MEKXH/pushgate/internal/metrics"
	"github.com/MEKXH/pushgate/internal/policy"
)

func onlyStep(t *testing.T, a *action.Action) *action.Step {
	t.Helper()
	if len(a.Steps) != 1 {
		t.Fatalf("expected exactly one step, got %d", len(a.Steps))
	}
	step := a.Steps[0]
	if step.Name != StepName {
		t.Fatalf("unexpected step name %q", step.Name)
	}
	return step
}

func TestEvaluate_HookAbsentSkips(t *testing.T) {
	env := newHookEnv(t)
	a := env.evaluator().Evaluate(context.Background(), Request{}, env.action())

	step := onlyStep(t, a)
	if step.Error {
		t.Fatalf("skip must be clean, got %q", step.ErrorMessage)
	}
	if a.ApprovalState != action.StateUndetermined {
		t.Fatalf("state = %q, want undetermined", a.ApprovalState)
	}
	if !hasLog(step, "not found") {
		t.Fatalf("expected not found log, got %v", step.Logs)
	}
	if !a.ContinuePipeline() {
		t.Fatal("pipeline should continue after a skip")
	}
}

func TestEvaluate_Approve(t *testing.T) {
	env := newHookEnv(t)
	hook := env.writeHook(t, "exit 0")
	a := env.evaluator().Evaluate(context.Background(), Request{}, env.action())

	step := onlyStep(t, a)
	if a.ApprovalState != action.StateAutoApproved || step.Error {
		t.Fatalf("unexpected result: state=%q error=%v", a.ApprovalState, step.Error)
	}
	if !hasLog(step, "approved by hook") {
		t.Fatalf("missing approval log: %v", step.Logs)
	}
	if !hasLog(step, "executing pre-receive hook: "+hook) {
		t.Fatalf("missing execution log: %v", step.Logs)
	}
}

func TestEvaluate_BackgroundChildDoesNotLoseApproval(t *testing.T) {
	env := newHookEnv(t)
	env.writeHook(t, "sleep 5 &\nexit 0")
	ev := env.evaluator()
	ev.invoker = NewInvoker(200 * time.Millisecond)

	a := ev.Evaluate(context.Background(), Request{}, env.action())

	step := onlyStep(t, a)
	if a.ApprovalState != action.StateAutoApproved || step.Error {
		t.Fatalf("unexpected result: state=%q error=%v msg=%q", a.ApprovalState, step.Error, step.ErrorMessage)
	}
	if !hasLog(step, "output may be incomplete") {
		t.Fatalf("expected incomplete output log, got %v", step.Logs)
	}
	if !hasLog(step, "hook exited with status 0") {
		t.Fatalf("expected exit status log, got %v", step.Logs)
	}
}

func TestEvaluate_Reject(t *testing.T) {
	env := newHookEnv(t)
	env.writeHook(t, "exit 1")
	a := env.evaluator().Evaluate(context.Background(), Request{}, env.action())

	step := onlyStep(t, a)
	if a.ApprovalState != action.StateAutoRejected || step.Error {
		t.Fatalf("unexpected result: state=%q error=%v", a.ApprovalState, step.Error)
	}
	if a.ContinuePipeline() {
		t.Fatal("pipeline must stop after rejection")
	}
}

func TestEvaluate_DeferLeavesStateUnchanged(t *testing.T) {
	env := newHookEnv(t)
	env.writeHook(t, "exit 2")
	a := env.evaluator().Evaluate(context.Background(), Request{}, env.action())

	step := onlyStep(t, a)
	if a.ApprovalState != action.StateUndetermined || step.Error {
		t.Fatalf("unexpected result: state=%q error=%v", a.ApprovalState, step.Error)
	}
	if !hasLog(step, "manual approval") {
		t.Fatalf("missing manual approval log: %v", step.Logs)
	}
}

func TestEvaluate_UnknownExitUsesStdout(t *testing.T) {
	env := newHookEnv(t)
	env.writeHook(t, "echo 'policy file missing'\nexit 42")
	a := env.evaluator().Evaluate(context.Background(), Request{}, env.action())

	step := onlyStep(t, a)
	if !step.Error || step.ErrorMessage != "policy file missing" {
		t.Fatalf("unexpected step error: %v %q", step.Error, step.ErrorMessage)
	}
	if a.ApprovalState != action.StateErrored {
		t.Fatalf("state = %q, want errored", a.ApprovalState)
	}
}

func TestEvaluate_LaunchFailureKeepsState(t *testing.T) {
	env := newHookEnv(t)
	env.writeHookAt(t, DefaultHookPath, "exit 0", 0o644)
	a := env.evaluator().Evaluate(context.Background(), Request{}, env.action())

	step := onlyStep(t, a)
	if !step.Error || !strings.HasPrefix(step.ErrorMessage, "launch pre-receive hook:") {
		t.Fatalf("unexpected step error: %v %q", step.Error, step.ErrorMessage)
	}
	if a.ApprovalState != action.StateUndetermined {
		t.Fatalf("state = %q, want undetermined", a.ApprovalState)
	}
	if !hasLog(step, logFailed) {
		t.Fatalf("missing failure log: %v", step.Logs)
	}
}

func TestEvaluate_HookSeesSanitizedLineAndRepoDir(t *testing.T) {
	env := newHookEnv(t)
	out := filepath.Join(env.base, "seen.txt")
	env.writeHook(t, "cat > '"+out+"'\npwd >> '"+out+"'\nexit 0")

	a := env.action()
	env.evaluator().Evaluate(context.Background(), Request{}, a)

	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read hook output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("unexpected hook output: %q", raw)
	}
	if lines[0] != a.CommitFrom+" "+a.CommitTo+" "+a.Branch {
		t.Fatalf("unexpected stdin line: %q", lines[0])
	}
	want, _ := filepath.EvalSymlinks(filepath.Join(env.git, env.repo))
	got, _ := filepath.EvalSymlinks(lines[1])
	if got != want {
		t.Fatalf("cwd = %q, want %q", got, want)
	}
}

func TestEvaluate_RunsHookAtMostOnce(t *testing.T) {
	env := newHookEnv(t)
	counter := filepath.Join(env.base, "count")
	env.writeHook(t, "echo x >> '"+counter+"'\nexit 2")

	env.evaluator().Evaluate(context.Background(), Request{}, env.action())

	raw, err := os.ReadFile(counter)
	if err != nil {
		t.Fatalf("read counter: %v", err)
	}
	if n := strings.Count(string(raw), "x"); n != 1 {
		t.Fatalf("hook ran %d times", n)
	}
}

func TestEvaluate_TerminalStateShortCircuits(t *testing.T) {
	env := newHookEnv(t)
	counter := filepath.Join(env.base, "count")
	env.writeHook(t, "echo x >> '"+counter+"'\nexit 1")

	a := env.action()
	a.SetAutoApproval()
	env.evaluator().Evaluate(context.Background(), Request{}, a)

	step := onlyStep(t, a)
	if step.Error || a.ApprovalState != action.StateAutoApproved {
		t.Fatalf("terminal state must be kept: %q %v", a.ApprovalState, step.Error)
	}
	if !hasLog(step, "approval already decided (auto_approved)") {
		t.Fatalf("missing short-circuit log: %v", step.Logs)
	}
	if _, err := os.Stat(counter); !os.IsNotExist(err) {
		t.Fatal("hook must not run for a decided action")
	}
}

func TestEvaluate_TimeoutErrors(t *testing.T) {
	env := newHookEnv(t)
	env.writeHook(t, "sleep 30")

	ev := NewEvaluator(Config{BaseDir: env.base, Timeout: 200 * time.Millisecond})
	a := ev.Evaluate(context.Background(), Request{}, env.action())

	step := onlyStep(t, a)
	if a.ApprovalState != action.StateErrored {
		t.Fatalf("state = %q, want errored", a.ApprovalState)
	}
	if step.ErrorMessage != "pre-receive hook timed out after 200ms" {
		t.Fatalf("unexpected message: %q", step.ErrorMessage)
	}
}

func TestEvaluate_CanceledContextFails(t *testing.T) {
	env := newHookEnv(t)
	env.writeHook(t, "sleep 30")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	a := env.evaluator().Evaluate(ctx, Request{}, env.action())

	step := onlyStep(t, a)
	if a.ApprovalState != action.StateUndetermined {
		t.Fatalf("state = %q, want undetermined", a.ApprovalState)
	}
	if !step.Error || !strings.Contains(step.ErrorMessage, "canceled") {
		t.Fatalf("unexpected step error: %v %q", step.Error, step.ErrorMessage)
	}
}

func TestEvaluate_UnsafeInputIsNotExecuted(t *testing.T) {
	env := newHookEnv(t)
	counter := filepath.Join(env.base, "count")
	env.writeHook(t, "echo x >> '"+counter+"'\nexit 0")

	a := env.action()
	a.Branch = "main\nrm -rf /"
	env.evaluator().Evaluate(context.Background(), Request{}, a)

	step := onlyStep(t, a)
	if !step.Error || !strings.Contains(step.ErrorMessage, "invalid hook input") {
		t.Fatalf("unexpected step error: %v %q", step.Error, step.ErrorMessage)
	}
	if a.ApprovalState != action.StateUndetermined {
		t.Fatalf("state = %q, want undetermined", a.ApprovalState)
	}
	if _, err := os.Stat(counter); !os.IsNotExist(err) {
		t.Fatal("hook must not run with unsafe input")
	}
}

func TestEvaluate_RepoEscapeRejected(t *testing.T) {
	env := newHookEnv(t)
	env.writeHook(t, "exit 0")

	a := env.action()
	a.RepoName = "../outside"
	env.evaluator().Evaluate(context.Background(), Request{}, a)

	step := onlyStep(t, a)
	if !step.Error || !strings.Contains(step.ErrorMessage, "outside proxy git path") {
		t.Fatalf("unexpected step error: %v %q", step.Error, step.ErrorMessage)
	}
}

func TestEvaluate_MissingGitPath(t *testing.T) {
	env := newHookEnv(t)
	env.writeHook(t, "exit 0")

	a := env.action()
	a.ProxyGitPath = ""
	env.evaluator().Evaluate(context.Background(), Request{}, a)
	if step := onlyStep(t, a); !step.Error || !strings.Contains(step.ErrorMessage, "proxy git path") {
		t.Fatalf("unexpected step error: %v %q", step.Error, step.ErrorMessage)
	}

	b := env.action()
	b.ProxyGitPath = ""
	NewEvaluator(Config{BaseDir: env.base, GitPath: env.git}).Evaluate(context.Background(), Request{}, b)
	if b.ApprovalState != action.StateAutoApproved {
		t.Fatalf("expected configured git path fallback, got %q", b.ApprovalState)
	}
}

func TestEvaluate_ResolverRules(t *testing.T) {
	env := newHookEnv(t)
	env.writeHook(t, "exit 1")
	env.writeHookAt(t, "hooks/release.sh", "exit 0", 0o755)

	r, err := policy.NewResolver(policy.Config{
		Rules: []policy.Rule{
			{Repo: "sandbox/**", Skip: true},
			{Repo: "org/*", Branch: "release/**", Hook: "hooks/release.sh"},
		},
	})
	if err != nil {
		t.Fatalf("NewResolver error: %v", err)
	}
	ev := env.evaluator()
	ev.SetResolver(r)

	a := env.action()
	a.Branch = "release/1.0"
	ev.Evaluate(context.Background(), Request{}, a)
	if a.ApprovalState != action.StateAutoApproved {
		t.Fatalf("expected release hook approval, got %q", a.ApprovalState)
	}
	if !hasLog(a.Steps[0], "selected by rule 1") {
		t.Fatalf("missing rule log: %v", a.Steps[0].Logs)
	}

	b := env.action()
	ev.Evaluate(context.Background(), Request{}, b)
	if b.ApprovalState != action.StateAutoRejected {
		t.Fatalf("expected default hook rejection, got %q", b.ApprovalState)
	}

	c := env.action()
	c.RepoName = "sandbox/play"
	ev.Evaluate(context.Background(), Request{}, c)
	step := onlyStep(t, c)
	if step.Error || c.ApprovalState != action.StateUndetermined {
		t.Fatalf("skip rule must be clean: %q %v", c.ApprovalState, step.Error)
	}
	if !hasLog(step, "disabled by rule 0") || !hasLog(step, "not found") {
		t.Fatalf("unexpected skip logs: %v", step.Logs)
	}
}

func TestEvaluate_RequestHookOverride(t *testing.T) {
	env := newHookEnv(t)
	env.writeHook(t, "exit 1")
	custom := env.writeHookAt(t, "custom/check.sh", "exit 0", 0o755)

	a := env.evaluator().Evaluate(context.Background(), Request{HookPath: custom}, env.action())
	if a.ApprovalState != action.StateAutoApproved {
		t.Fatalf("expected override hook approval, got %q", a.ApprovalState)
	}
}

func TestEvaluate_RecordsMetricsAndAudit(t *testing.T) {
	env := newHookEnv(t)
	env.writeHook(t, "exit 1")
	workspace := t.TempDir()

	ev := env.evaluator()
	recorder := metrics.NewRuntimeMetrics(workspace)
	writer := audit.NewWriter(workspace)
	ev.SetRuntimeMetrics(recorder)
	ev.SetAuditWriter(writer)

	ev.Evaluate(context.Background(), Request{ID: "req-42"}, env.action())

	snap := recorder.Snapshot()
	if snap.Hook.Total != 1 || snap.Hook.Rejected != 1 {
		t.Fatalf("unexpected metrics: %+v", snap.Hook)
	}

	events, err := writer.Recent(10)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one audit event, got %d", len(events))
	}
	ev0 := events[0]
	if ev0.Type != audit.EventHookResult || ev0.RequestID != "req-42" || ev0.Result != "rejected" || ev0.ExitStatus != "1" {
		t.Fatalf("unexpected audit event: %+v", ev0)
	}
}

func TestEvaluate_NilAction(t *testing.T) {
	if got := NewEvaluator(Config{}).Evaluate(context.Background(), Request{}, nil); got != nil {
		t.Fatal("expected nil for nil action")
	}
}
