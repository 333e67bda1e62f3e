package metrics

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestRuntimeMetrics_AggregatesHookOutcomes(t *testing.T) {
	workspace := t.TempDir()
	recorder := NewRuntimeMetrics(workspace)

	snap, err := recorder.RecordHookExecution(120*time.Millisecond, OutcomeApproved, false)
	if err != nil {
		t.Fatalf("RecordHookExecution approved error: %v", err)
	}
	if snap.Hook.Total != 1 || snap.Hook.Approved != 1 || snap.Hook.Errors() != 0 {
		t.Fatalf("unexpected first snapshot: %+v", snap.Hook)
	}

	_, _ = recorder.RecordHookExecution(250*time.Millisecond, OutcomeRejected, false)
	_, _ = recorder.RecordHookExecution(2*time.Second, OutcomeMalfunction, true)
	_, _ = recorder.RecordHookExecution(0, OutcomeSkipped, false)
	snap, _ = recorder.RecordHookExecution(1500*time.Millisecond, OutcomeFailed, false)

	if snap.Hook.Total != 5 {
		t.Fatalf("expected 5 evaluations, got %d", snap.Hook.Total)
	}
	if snap.Hook.Skipped != 1 || snap.Hook.Rejected != 1 {
		t.Fatalf("unexpected counters: %+v", snap.Hook)
	}
	if snap.Hook.Errors() != 2 {
		t.Fatalf("expected 2 errors, got %d", snap.Hook.Errors())
	}
	if snap.Hook.Timeouts != 1 {
		t.Fatalf("expected 1 timeout, got %d", snap.Hook.Timeouts)
	}
	if got := snap.Hook.ErrorRatio(); got < 0.49 || got > 0.51 {
		t.Fatalf("expected error ratio about 0.50, got %.4f", got)
	}
	if got := snap.Hook.TimeoutRatio(); got < 0.24 || got > 0.26 {
		t.Fatalf("expected timeout ratio about 0.25, got %.4f", got)
	}
	if snap.Hook.MaxLatencyMs != 2000 {
		t.Fatalf("expected max latency 2000, got %d", snap.Hook.MaxLatencyMs)
	}
	if snap.Hook.P95ProxyLatencyMs <= 0 {
		t.Fatalf("expected p95 proxy latency > 0, got %d", snap.Hook.P95ProxyLatencyMs)
	}
}

func TestRuntimeMetrics_ReadRuntimeSnapshot(t *testing.T) {
	workspace := t.TempDir()

	empty, err := ReadRuntimeSnapshot(workspace)
	if err != nil {
		t.Fatalf("ReadRuntimeSnapshot empty error: %v", err)
	}
	if empty.HasData() {
		t.Fatalf("expected empty snapshot, got %+v", empty)
	}

	recorder := NewRuntimeMetrics(workspace)
	if _, err := recorder.RecordHookExecution(40*time.Millisecond, OutcomeDeferred, false); err != nil {
		t.Fatalf("RecordHookExecution error: %v", err)
	}

	snap, err := ReadRuntimeSnapshot(workspace)
	if err != nil {
		t.Fatalf("ReadRuntimeSnapshot error: %v", err)
	}
	if snap.Hook.Total != 1 || snap.Hook.Deferred != 1 {
		t.Fatalf("unexpected persisted snapshot: %+v", snap.Hook)
	}

	resumed := NewRuntimeMetrics(workspace)
	if got := resumed.Snapshot().Hook.Total; got != 1 {
		t.Fatalf("expected resumed total 1, got %d", got)
	}
}

func TestRuntimeMetrics_ReadRuntimeSnapshotMalformed(t *testing.T) {
	workspace := t.TempDir()
	path := filepath.Join(workspace, "state", runtimeMetricsFileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := ReadRuntimeSnapshot(workspace); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRuntimeMetrics_NilRecorderIsNoop(t *testing.T) {
	var recorder *RuntimeMetrics
	snap, err := recorder.RecordHookExecution(time.Second, OutcomeApproved, false)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if snap.HasData() {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestRuntimeMetrics_ConcurrentRecords(t *testing.T) {
	recorder := NewRuntimeMetrics(t.TempDir())

	const total = 16
	var wg sync.WaitGroup
	wg.Add(total)
	for i := 0; i < total; i++ {
		go func() {
			defer wg.Done()
			_, _ = recorder.RecordHookExecution(10*time.Millisecond, OutcomeApproved, false)
		}()
	}
	wg.Wait()

	if got := recorder.Snapshot().Hook.Approved; got != total {
		t.Fatalf("expected %d approvals, got %d", total, got)
	}
}
