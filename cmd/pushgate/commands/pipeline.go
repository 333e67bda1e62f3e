package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/MEKXH/pushgate/internal/action"
	"github.com/MEKXH/pushgate/internal/approval"
	"github.com/MEKXH/pushgate/internal/audit"
	"github.com/MEKXH/pushgate/internal/chain"
	"github.com/MEKXH/pushgate/internal/config"
	"github.com/MEKXH/pushgate/internal/metrics"
	"github.com/MEKXH/pushgate/internal/policy"
	"github.com/MEKXH/pushgate/internal/prereceive"
)

// pipeline is the wired evaluation chain and its collaborators.
type pipeline struct {
	chain   *chain.Chain
	metrics *metrics.RuntimeMetrics
	audit   *audit.Writer
	reviews *approval.Service
}

// newPipeline wires the hook step from cfg. A non-empty hookOverride bypasses
// the configured rules for every push.
func newPipeline(cfg *config.Config, hookOverride string) (*pipeline, error) {
	workspace := cfg.WorkspacePath()

	p := &pipeline{
		metrics: metrics.NewRuntimeMetrics(workspace),
		audit:   audit.NewWriter(workspace),
		reviews: approval.NewService(workspace),
	}
	p.reviews.SetDefaultTTL(cfg.ReviewTTL())
	p.reviews.SetAuditWriter(p.audit)

	ev := prereceive.NewEvaluator(prereceive.Config{
		HookPath: cfg.Hook.Path,
		BaseDir:  cfg.HookBaseDir(),
		GitPath:  cfg.GitPath(),
		Timeout:  cfg.HookTimeout(),
	})
	ev.SetRuntimeMetrics(p.metrics)
	ev.SetAuditWriter(p.audit)

	var step chain.Step = ev
	if override := strings.TrimSpace(hookOverride); override != "" {
		abs, err := filepath.Abs(override)
		if err != nil {
			return nil, fmt.Errorf("resolve --hook: %w", err)
		}
		step = chain.StepFunc{
			StepName: prereceive.StepName,
			Fn: func(ctx context.Context, a *action.Action) *action.Action {
				return ev.Evaluate(ctx, prereceive.Request{ID: a.ID, HookPath: abs}, a)
			},
		}
	} else {
		resolver, err := policy.NewResolver(cfg.PolicyConfig())
		if err != nil {
			return nil, fmt.Errorf("hook rules: %w", err)
		}
		ev.SetResolver(resolver)
	}

	p.chain = chain.New(step)
	p.chain.SetReviewQueue(p.reviews)
	return p, nil
}
