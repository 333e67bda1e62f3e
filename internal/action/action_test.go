package action

import "testing"

func TestNew_StartsUndetermined(t *testing.T) {
	a := New("req-1", "org/repo.git", "/srv/git", "main", "aaa", "bbb")
	if a.ApprovalState != StateUndetermined {
		t.Fatalf("expected %q, got %q", StateUndetermined, a.ApprovalState)
	}
	if len(a.Steps) != 0 {
		t.Fatalf("expected no steps, got %d", len(a.Steps))
	}
	if a.Timestamp.IsZero() {
		t.Fatal("expected non-zero timestamp")
	}
}

func TestAddStep_PreservesOrder(t *testing.T) {
	a := New("", "repo", "/git", "main", "a", "b")
	first := NewStep("checkAuth")
	second := NewStep("executeExternalPreReceiveHook")

	if err := a.AddStep(first); err != nil {
		t.Fatalf("AddStep first: %v", err)
	}
	if err := a.AddStep(second); err != nil {
		t.Fatalf("AddStep second: %v", err)
	}
	if a.Steps[0] != first || a.Steps[1] != second {
		t.Fatal("steps out of insertion order")
	}
	if a.LastStep() != second {
		t.Fatal("expected LastStep to be the second step")
	}
}

func TestAddStep_RejectsDoubleAttach(t *testing.T) {
	a := New("", "repo", "/git", "main", "a", "b")
	s := NewStep("x")
	if err := a.AddStep(s); err != nil {
		t.Fatalf("AddStep: %v", err)
	}
	if err := a.AddStep(s); err == nil {
		t.Fatal("expected error attaching the same step twice")
	}
	if err := New("", "r", "/g", "b", "a", "c").AddStep(s); err == nil {
		t.Fatal("expected error attaching a step to a second action")
	}
	if err := a.AddStep(nil); err == nil {
		t.Fatal("expected error for nil step")
	}
}

func TestStep_SetError(t *testing.T) {
	s := NewStep("x")
	s.Log("first")
	s.Logf("second %d", 2)
	s.SetError("boom")

	if !s.Error || s.ErrorMessage != "boom" {
		t.Fatalf("unexpected error fields: %v %q", s.Error, s.ErrorMessage)
	}
	if len(s.Logs) != 2 || s.Logs[1] != "second 2" {
		t.Fatalf("unexpected logs: %v", s.Logs)
	}
}

func TestContinuePipeline(t *testing.T) {
	tests := []struct {
		name    string
		state   ApprovalState
		errStep bool
		want    bool
	}{
		{"undetermined clean", StateUndetermined, false, true},
		{"approved clean", StateAutoApproved, false, true},
		{"rejected", StateAutoRejected, false, false},
		{"errored", StateErrored, false, false},
		{"undetermined with error step", StateUndetermined, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New("", "repo", "/git", "main", "a", "b")
			a.ApprovalState = tt.state
			s := NewStep("x")
			if tt.errStep {
				s.SetError("fail")
			}
			_ = a.AddStep(s)
			if got := a.ContinuePipeline(); got != tt.want {
				t.Fatalf("ContinuePipeline() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApprovalState_IsTerminal(t *testing.T) {
	terminal := []ApprovalState{StateAutoApproved, StateAutoRejected, StateErrored}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("expected %q terminal", s)
		}
	}
	for _, s := range []ApprovalState{StateUndetermined, StatePendingManualReview} {
		if s.IsTerminal() {
			t.Fatalf("expected %q not terminal", s)
		}
	}
}

func TestSetPendingReview_OnlyFromUndetermined(t *testing.T) {
	a := New("", "repo", "/git", "main", "a", "b")
	a.SetPendingReview()
	if a.ApprovalState != StatePendingManualReview {
		t.Fatalf("expected pending review, got %q", a.ApprovalState)
	}

	b := New("", "repo", "/git", "main", "a", "b")
	b.SetAutoRejection()
	b.SetPendingReview()
	if b.ApprovalState != StateAutoRejected {
		t.Fatalf("expected rejection kept, got %q", b.ApprovalState)
	}
}
