package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MEKXH/pushgate/internal/action"
	"github.com/MEKXH/pushgate/internal/chain"
	"github.com/MEKXH/pushgate/internal/config"
	"github.com/MEKXH/pushgate/internal/requestid"
	"github.com/spf13/cobra"
)

type evaluateOptions struct {
	Repo    string
	Branch  string
	From    string
	To      string
	GitPath string
	Hook    string
	JSON    bool
}

func NewEvaluateCmd() *cobra.Command {
	var opts evaluateOptions
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one push with the pre-receive hook",
		Long: `Evaluate runs the approval chain for a single push and prints the verdict.

Exit status: 0 approved or pending review, 1 rejected, 2 error.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			res, err := runEvaluate(ctx, opts)
			if err != nil {
				return err
			}
			if err := printEvaluation(os.Stdout, res, opts.JSON); err != nil {
				return err
			}
			return verdictError(res.Verdict)
		},
	}

	cmd.Flags().StringVar(&opts.Repo, "repo", "", "Repository name relative to the proxy git path")
	cmd.Flags().StringVar(&opts.Branch, "branch", "", "Pushed branch")
	cmd.Flags().StringVar(&opts.From, "from", "", "Old commit id")
	cmd.Flags().StringVar(&opts.To, "to", "", "New commit id")
	cmd.Flags().StringVar(&opts.GitPath, "git-path", "", "Proxy git path (defaults to proxy.git_path)")
	cmd.Flags().StringVar(&opts.Hook, "hook", "", "Hook executable, bypassing configured rules")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the evaluated action as JSON")
	for _, name := range []string{"repo", "branch", "from", "to"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func runEvaluate(ctx context.Context, opts evaluateOptions) (chain.Result, error) {
	cfg, err := config.Load()
	if err != nil {
		return chain.Result{}, fmt.Errorf("failed to load config: %w", err)
	}
	p, err := newPipeline(cfg, opts.Hook)
	if err != nil {
		return chain.Result{}, err
	}

	gitPath := strings.TrimSpace(opts.GitPath)
	if gitPath == "" {
		gitPath = cfg.GitPath()
	}
	reqID := requestid.New()
	a := action.New(reqID, opts.Repo, gitPath, opts.Branch, opts.From, opts.To)
	return p.chain.Run(requestid.WithContext(ctx, reqID), a)
}

func printEvaluation(w io.Writer, res chain.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"verdict": res.Verdict,
			"action":  res.Action,
			"review":  res.Review,
		})
	}

	a := res.Action
	fmt.Fprintf(w, "Verdict: %s\n", res.Verdict)
	fmt.Fprintf(w, "State:   %s\n", a.ApprovalState)
	fmt.Fprintf(w, "Request: %s\n", a.ID)
	for _, step := range a.Steps {
		fmt.Fprintf(w, "\n[%s]\n", step.Name)
		for _, line := range step.Logs {
			fmt.Fprintf(w, "  %s\n", line)
		}
		if step.Error {
			fmt.Fprintf(w, "  error: %s\n", step.ErrorMessage)
		}
	}
	if res.Review != nil {
		fmt.Fprintf(w, "\nQueued for review: #%s (expires %s)\n", res.Review.ID, res.Review.ExpiresAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func verdictError(v chain.Verdict) error {
	switch v {
	case chain.VerdictApproved, chain.VerdictPendingReview:
		return nil
	case chain.VerdictRejected:
		return &exitError{code: 1, msg: "push rejected"}
	default:
		return &exitError{code: 2, msg: "push could not be evaluated"}
	}
}
