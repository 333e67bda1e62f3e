package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Resolver picks the pre-receive hook for a push.
type Resolver struct {
	defaultHook    string
	defaultTimeout time.Duration
	rules          []Rule
}

// NewResolver validates rule patterns and builds a side-effect free resolver.
func NewResolver(cfg Config) (Resolver, error) {
	rules := make([]Rule, 0, len(cfg.Rules))
	for i, rule := range cfg.Rules {
		rule.Repo = normalizePattern(rule.Repo)
		rule.Branch = normalizeBranch(rule.Branch)
		rule.Hook = strings.TrimSpace(rule.Hook)
		if rule.Repo != "" && !doublestar.ValidatePattern(rule.Repo) {
			return Resolver{}, fmt.Errorf("rule %d: invalid repo pattern %q", i, rule.Repo)
		}
		if rule.Branch != "" && !doublestar.ValidatePattern(rule.Branch) {
			return Resolver{}, fmt.Errorf("rule %d: invalid branch pattern %q", i, rule.Branch)
		}
		if rule.Timeout < 0 {
			return Resolver{}, fmt.Errorf("rule %d: timeout must not be negative", i)
		}
		rules = append(rules, rule)
	}

	return Resolver{
		defaultHook:    strings.TrimSpace(cfg.DefaultHook),
		defaultTimeout: cfg.DefaultTimeout,
		rules:          rules,
	}, nil
}

// Resolve returns the first matching rule's hook, or the defaults.
func (r Resolver) Resolve(input Input) Decision {
	repo := normalizePattern(input.Repo)
	branch := normalizeBranch(input.Branch)

	for i, rule := range r.rules {
		if !matches(rule.Repo, repo) || !matches(rule.Branch, branch) {
			continue
		}
		if rule.Skip {
			return Decision{Skip: true, Rule: i}
		}
		decision := Decision{HookPath: rule.Hook, Timeout: rule.Timeout, Rule: i}
		if decision.HookPath == "" {
			decision.HookPath = r.defaultHook
		}
		if decision.Timeout <= 0 {
			decision.Timeout = r.defaultTimeout
		}
		return decision
	}

	return Decision{HookPath: r.defaultHook, Timeout: r.defaultTimeout, Rule: -1}
}

func matches(pattern, value string) bool {
	if pattern == "" {
		return true
	}
	ok, err := doublestar.Match(pattern, value)
	return err == nil && ok
}

func normalizePattern(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".git")
	return strings.Trim(s, "/")
}

func normalizeBranch(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "refs/heads/")
}
