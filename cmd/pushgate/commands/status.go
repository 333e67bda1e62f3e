package commands

import (
	"fmt"
	"os"

	"github.com/MEKXH/pushgate/internal/approval"
	"github.com/MEKXH/pushgate/internal/audit"
	"github.com/MEKXH/pushgate/internal/config"
	"github.com/MEKXH/pushgate/internal/metrics"
	"github.com/MEKXH/pushgate/internal/prereceive"
	"github.com/spf13/cobra"
)

const statusRecentEvents = 5

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show Pushgate configuration status",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	workspacePath := cfg.WorkspacePath()

	fmt.Println("=== Pushgate Status ===")
	fmt.Println()

	fmt.Println("Config")
	fmt.Printf("  Path: %s\n", config.ConfigPath())
	if _, err := os.Stat(config.ConfigPath()); err == nil {
		fmt.Println("  Status: OK")
	} else {
		fmt.Println("  Status: Not found (run 'pushgate init')")
	}

	fmt.Printf("\nWorkspace: %s\n", workspacePath)
	if _, err := os.Stat(workspacePath); err == nil {
		fmt.Println("  Status: OK")
	} else {
		fmt.Println("  Status: Not found")
	}

	fmt.Println("\nHook")
	hookPath, err := prereceive.ResolveHookPath(cfg.Hook.Path, cfg.HookBaseDir())
	if err != nil {
		fmt.Printf("  Path: invalid (%v)\n", err)
	} else {
		fmt.Printf("  Path: %s\n", hookPath)
		fmt.Printf("  Installed: %s\n", hookPresence(hookPath))
	}
	fmt.Printf("  Timeout: %s\n", cfg.HookTimeout())
	fmt.Printf("  Rules: %d\n", len(cfg.Hook.Rules))
	gitPath := cfg.GitPath()
	if gitPath == "" {
		gitPath = "(not set)"
	}
	fmt.Printf("  Proxy git path: %s\n", gitPath)

	fmt.Println("\nReview")
	fmt.Printf("  TTL: %s\n", cfg.ReviewTTL())
	fmt.Printf("  Sweep: %s\n", cfg.Review.SweepSchedule)
	reviews := approval.NewService(workspacePath)
	fmt.Printf("  Ledger: %s\n", reviews.Path())
	pending, err := reviews.List(approval.Query{Status: approval.StatusPending})
	if err != nil {
		fmt.Printf("  Pending: unavailable (%v)\n", err)
	} else {
		fmt.Printf("  Pending: %d\n", len(pending))
	}

	fmt.Println("\nGateway")
	fmt.Printf("  Address: %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
	if cfg.Gateway.Token != "" {
		fmt.Println("  Auth:    token configured")
	} else {
		fmt.Println("  Auth:    no token (open)")
	}

	fmt.Println("\nRuntime Metrics")
	snap, err := metrics.ReadRuntimeSnapshot(workspacePath)
	switch {
	case err != nil:
		fmt.Printf("  unavailable (%v)\n", err)
	case !snap.HasData():
		fmt.Println("  No hook evaluations recorded yet.")
	default:
		h := snap.Hook
		fmt.Printf("  Evaluations: %d (approved %d, rejected %d, deferred %d, skipped %d)\n",
			h.Total, h.Approved, h.Rejected, h.Deferred, h.Skipped)
		fmt.Printf("  Errors: %d (ratio %.2f), timeouts %d\n", h.Errors(), h.ErrorRatio(), h.Timeouts)
		fmt.Printf("  Latency: avg %.0fms, p95~%dms, max %dms\n", h.AvgLatencyMs(), h.P95ProxyLatencyMs, h.MaxLatencyMs)
		fmt.Printf("  Updated: %s\n", snap.UpdatedAt.Format("2006-01-02 15:04:05"))
	}

	fmt.Println("\nRecent Audit")
	events, err := audit.NewWriter(workspacePath).Recent(statusRecentEvents)
	switch {
	case err != nil:
		fmt.Printf("  unavailable (%v)\n", err)
	case len(events) == 0:
		fmt.Println("  No events.")
	default:
		for _, ev := range events {
			fmt.Printf("  %s %s %s %s %s\n", ev.Time.Format("2006-01-02 15:04:05"), ev.Type, ev.Repo, ev.Branch, ev.Result)
		}
	}

	return nil
}

func hookPresence(path string) string {
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return "no (pushes skip the hook)"
	case err != nil:
		return fmt.Sprintf("unknown (%v)", err)
	case info.IsDir():
		return "invalid (directory)"
	case info.Mode().Perm()&0o111 == 0:
		return "yes, but not executable"
	default:
		return "yes"
	}
}
