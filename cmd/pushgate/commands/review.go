package commands

import (
	"fmt"
	"strings"

	"github.com/MEKXH/pushgate/internal/approval"
	"github.com/MEKXH/pushgate/internal/audit"
	"github.com/MEKXH/pushgate/internal/config"
	"github.com/spf13/cobra"
)

var reviewStatusFilter string

func NewReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Inspect pushes waiting for manual review",
	}

	cmd.AddCommand(
		newReviewListCmd(),
		newReviewExpireCmd(),
	)

	return cmd
}

func newReviewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List review requests",
		RunE:  runReviewList,
	}
	cmd.Flags().StringVar(&reviewStatusFilter, "status", string(approval.StatusPending), "Filter by status (pending|expired|all)")
	return cmd
}

func newReviewExpireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Expire pending reviews past their TTL",
		RunE:  runReviewExpire,
	}
}

func runReviewList(cmd *cobra.Command, args []string) error {
	svc, err := loadReviewService()
	if err != nil {
		return err
	}

	query := approval.Query{}
	switch status := strings.ToLower(strings.TrimSpace(reviewStatusFilter)); status {
	case "", string(approval.StatusPending):
		query.Status = approval.StatusPending
	case string(approval.StatusExpired):
		query.Status = approval.StatusExpired
	case "all":
	default:
		return fmt.Errorf("unknown status %q (want pending, expired or all)", reviewStatusFilter)
	}

	requests, err := svc.List(query)
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		fmt.Println("No review requests.")
		return nil
	}

	for _, req := range requests {
		fmt.Printf("%s %s %s %s %s %s\n",
			req.ID, req.Status, req.Repo, req.Branch, shortCommit(req.CommitTo),
			req.ExpiresAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runReviewExpire(cmd *cobra.Command, args []string) error {
	svc, err := loadReviewService()
	if err != nil {
		return err
	}
	expired, err := svc.ExpirePending()
	if err != nil {
		return err
	}
	fmt.Printf("Expired %d review request(s).\n", len(expired))
	for _, req := range expired {
		fmt.Printf("  %s %s %s\n", req.ID, req.Repo, req.Branch)
	}
	return nil
}

func loadReviewService() (*approval.Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	workspace := cfg.WorkspacePath()
	svc := approval.NewService(workspace)
	svc.SetDefaultTTL(cfg.ReviewTTL())
	svc.SetAuditWriter(audit.NewWriter(workspace))
	return svc, nil
}

func shortCommit(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
