package policy

import "time"

// Rule selects the hook for pushes whose repo and branch match its patterns.
// Patterns use doublestar syntax; an empty pattern matches everything.
type Rule struct {
	Repo    string
	Branch  string
	Hook    string
	Timeout time.Duration
	Skip    bool
}

// Config contains the resolver defaults and ordered rules.
type Config struct {
	DefaultHook    string
	DefaultTimeout time.Duration
	Rules          []Rule
}

// Input is the minimum resolution context.
type Input struct {
	Repo   string
	Branch string
}

// Decision is the deterministic resolution result.
type Decision struct {
	HookPath string
	Timeout  time.Duration
	Skip     bool
	// Rule is the index of the matching rule, -1 when defaults were used.
	Rule int
}
