package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MEKXH/pushgate/internal/config"
	"github.com/spf13/cobra"
)

const sampleHook = `#!/bin/sh
# Rename to pre-receive.sh and make executable to enable.
# stdin: "<from> <to> <branch>", cwd: the pushed repository.
# exit 0 approve, 1 reject, 2 manual review; anything else is an error.
read from to branch
case "$branch" in
  main|master) exit 2 ;;
esac
exit 0
`

func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize Pushgate configuration",
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := config.ConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists: %s\n", configPath)
		return nil
	}

	cfg := config.DefaultConfig()
	hooksDir := filepath.Join(cfg.HookBaseDir(), "hooks")

	dirs := []string{
		config.ConfigDir(),
		cfg.WorkspacePath(),
		filepath.Join(cfg.WorkspacePath(), "state"),
		hooksDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	samplePath := filepath.Join(hooksDir, "pre-receive.sh.sample")
	if _, err := os.Stat(samplePath); os.IsNotExist(err) {
		_ = os.WriteFile(samplePath, []byte(sampleHook), 0644)
	}

	fmt.Printf("Pushgate initialized!\n")
	fmt.Printf("Config: %s\n", configPath)
	fmt.Printf("Workspace: %s\n", cfg.WorkspacePath())
	fmt.Printf("\nNext steps:\n")
	fmt.Printf("1. Set proxy.git_path in %s\n", configPath)
	fmt.Printf("2. Install your hook at %s\n", filepath.Join(hooksDir, "pre-receive.sh"))
	fmt.Printf("3. Run 'pushgate serve' or 'pushgate evaluate'\n")

	return nil
}
