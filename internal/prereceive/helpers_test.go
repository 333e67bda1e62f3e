package prereceive

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/MEKXH/pushgate/internal/action"
)

// hookEnv is a temp layout with <base>/hooks and <git>/<repo>.
type hookEnv struct {
	base string
	git  string
	repo string
}

func newHookEnv(t *testing.T) hookEnv {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell hooks are not supported on windows")
	}

	env := hookEnv{
		base: t.TempDir(),
		git:  t.TempDir(),
		repo: "org/app.git",
	}
	if err := os.MkdirAll(filepath.Join(env.git, env.repo), 0o755); err != nil {
		t.Fatalf("create repo dir: %v", err)
	}
	return env
}

// writeHook installs a /bin/sh hook at <base>/hooks/pre-receive.sh.
func (env hookEnv) writeHook(t *testing.T, body string) string {
	t.Helper()
	return env.writeHookAt(t, DefaultHookPath, body, 0o755)
}

func (env hookEnv) writeHookAt(t *testing.T, rel, body string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(env.base, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create hook dir: %v", err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), mode); err != nil {
		t.Fatalf("write hook: %v", err)
	}
	return path
}

func (env hookEnv) action() *action.Action {
	return action.New("req-1", env.repo, env.git, "main",
		"1111111111111111111111111111111111111111",
		"2222222222222222222222222222222222222222")
}

func (env hookEnv) evaluator() *Evaluator {
	return NewEvaluator(Config{BaseDir: env.base})
}
