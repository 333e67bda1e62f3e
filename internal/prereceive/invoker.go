package prereceive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultHookPath is where the hook is looked up relative to the base dir.
	DefaultHookPath = "hooks/pre-receive.sh"
	DefaultTimeout  = 60 * time.Second

	defaultWaitDelay = 2 * time.Second
)

// ExitStatus is how a hook process ended.
type ExitStatus struct {
	Code     int
	Signaled bool
	Signal   string
}

func (s ExitStatus) String() string {
	if s.Signaled {
		return "signal: " + s.Signal
	}
	return strconv.Itoa(s.Code)
}

// ProcessResult is the success half of a hook run: the process ran to completion.
type ProcessResult struct {
	Status   ExitStatus
	Stdout   string
	Stderr   string
	Duration time.Duration
	// OutputTruncated is set when the hook exited but a process it left
	// behind kept stdout or stderr open past the wait delay.
	OutputTruncated bool
}

// RunSpec describes one hook invocation.
type RunSpec struct {
	HookPath string
	Dir      string
	Stdin    string
	Timeout  time.Duration
}

// Invoker runs hook executables. It holds no per-run state and is safe for
// concurrent use.
type Invoker struct {
	waitDelay time.Duration
}

// NewInvoker creates an invoker. waitDelay bounds how long output pipes are
// drained after the hook is killed; zero uses a default.
func NewInvoker(waitDelay time.Duration) *Invoker {
	if waitDelay <= 0 {
		waitDelay = defaultWaitDelay
	}
	return &Invoker{waitDelay: waitDelay}
}

// Run executes the hook exactly once. A nil error means the process exited and
// result.Status is authoritative; otherwise the error is ErrHookNotFound or a
// *LaunchError.
func (inv *Invoker) Run(ctx context.Context, spec RunSpec) (ProcessResult, error) {
	found, err := hookExists(spec.HookPath)
	if err != nil {
		return ProcessResult{}, newFault(FaultLaunch, err)
	}
	if !found {
		return ProcessResult{}, ErrHookNotFound
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.HookPath)
	cmd.Dir = spec.Dir
	cmd.Stdin = strings.NewReader(spec.Stdin)
	cmd.WaitDelay = inv.waitDelay
	configureProcess(cmd)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	reapProcessGroup(cmd)
	result := ProcessResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if runErr == nil {
		result.Status = ExitStatus{Code: 0}
		return result, nil
	}

	// A hook that exited on its own has a verdict, even when the deadline
	// passed afterwards or its leftover children held the output pipes.
	if state := cmd.ProcessState; state != nil && exitedOnItsOwn(state, runCtx.Err()) {
		result.Status = exitStatusOf(state)
		result.OutputTruncated = errors.Is(runErr, exec.ErrWaitDelay)
		return result, nil
	}

	if ctxErr := runCtx.Err(); ctxErr != nil {
		kind := FaultTimeout
		if errors.Is(ctxErr, context.Canceled) {
			kind = FaultCanceled
		}
		return result, &LaunchError{
			Kind:    kind,
			Err:     ctxErr,
			Stdout:  result.Stdout,
			Stderr:  result.Stderr,
			Timeout: timeout,
		}
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		result.Status = exitStatusOf(exitErr.ProcessState)
		return result, nil
	}

	kind := FaultIO
	if cmd.ProcessState == nil {
		kind = FaultLaunch
	}
	return result, &LaunchError{Kind: kind, Err: runErr, Stdout: result.Stdout, Stderr: result.Stderr}
}

// hookExists reports whether both the hook's directory and the hook file exist.
// A path that exists but cannot be executed is left for launch to reject.
func hookExists(path string) (bool, error) {
	if strings.TrimSpace(path) == "" {
		return false, nil
	}
	for _, p := range []string{filepath.Dir(path), path} {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, err
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if info.IsDir() {
		return false, fmt.Errorf("hook path %s is a directory", path)
	}
	return true, nil
}

// ResolveHookPath makes the hook path absolute against an explicit base
// directory; the process working directory is never consulted.
func ResolveHookPath(path, baseDir string) (string, error) {
	path = expandHome(strings.TrimSpace(path))
	if path == "" {
		path = DefaultHookPath
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	baseDir = expandHome(strings.TrimSpace(baseDir))
	if baseDir == "" || !filepath.IsAbs(baseDir) {
		return "", fmt.Errorf("relative hook path %q needs an absolute base directory", path)
	}
	return filepath.Join(baseDir, path), nil
}

// RepoDir returns <gitPath>/<repo>, refusing repo names that escape gitPath.
func RepoDir(gitPath, repo string) (string, error) {
	gitPath = strings.TrimSpace(gitPath)
	repo = strings.TrimSpace(repo)
	if gitPath == "" {
		return "", fmt.Errorf("proxy git path is required")
	}
	if repo == "" {
		return "", fmt.Errorf("repo name is required")
	}
	if filepath.IsAbs(repo) {
		return "", fmt.Errorf("repo name %q must be relative", repo)
	}

	root := filepath.Clean(gitPath)
	dir := filepath.Join(root, repo)
	if !strings.HasPrefix(dir, root+string(filepath.Separator)) {
		return "", fmt.Errorf("repo %q is outside proxy git path %q", repo, root)
	}
	return dir, nil
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
