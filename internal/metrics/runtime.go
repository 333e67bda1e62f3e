package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const runtimeMetricsFileName = "hook_metrics.json"

var latencyBucketUpperBoundsMs = []int64{
	10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000,
}

// Outcome labels counted by the recorder.
const (
	OutcomeApproved    = "approved"
	OutcomeRejected    = "rejected"
	OutcomeDeferred    = "deferred"
	OutcomeSkipped     = "skipped"
	OutcomeMalfunction = "malfunction"
	OutcomeFailed      = "failed"
)

// RuntimeSnapshot contains aggregated pre-receive hook metrics.
type RuntimeSnapshot struct {
	UpdatedAt time.Time `json:"updated_at"`
	Hook      HookStats `json:"hook"`
}

// HookStats tracks hook execution counters and latency.
type HookStats struct {
	Total             int64 `json:"total"`
	Approved          int64 `json:"approved"`
	Rejected          int64 `json:"rejected"`
	Deferred          int64 `json:"deferred"`
	Skipped           int64 `json:"skipped"`
	Malfunctions      int64 `json:"malfunctions"`
	Failures          int64 `json:"failures"`
	Timeouts          int64 `json:"timeouts"`
	TotalLatencyMs    int64 `json:"total_latency_ms"`
	MaxLatencyMs      int64 `json:"max_latency_ms"`
	LastLatencyMs     int64 `json:"last_latency_ms"`
	P95ProxyLatencyMs int64 `json:"p95_proxy_latency_ms"`
}

// Errors returns malfunctions plus infrastructure failures.
func (h HookStats) Errors() int64 {
	return h.Malfunctions + h.Failures
}

// ErrorRatio returns errors/executed in [0,1]. Skipped evaluations are not executions.
func (h HookStats) ErrorRatio() float64 {
	executed := h.Total - h.Skipped
	if executed <= 0 {
		return 0
	}
	return float64(h.Errors()) / float64(executed)
}

// TimeoutRatio returns timeouts/executed in [0,1].
func (h HookStats) TimeoutRatio() float64 {
	executed := h.Total - h.Skipped
	if executed <= 0 {
		return 0
	}
	return float64(h.Timeouts) / float64(executed)
}

// AvgLatencyMs returns average latency in milliseconds.
func (h HookStats) AvgLatencyMs() float64 {
	executed := h.Total - h.Skipped
	if executed <= 0 {
		return 0
	}
	return float64(h.TotalLatencyMs) / float64(executed)
}

// HasData reports whether any evaluation was recorded.
func (s RuntimeSnapshot) HasData() bool {
	return s.Hook.Total > 0
}

// RuntimeMetrics records and persists hook metrics.
type RuntimeMetrics struct {
	path string

	mu      sync.Mutex
	snap    RuntimeSnapshot
	buckets []int64
}

// NewRuntimeMetrics creates a recorder rooted at <workspace>/state/hook_metrics.json.
// A previously persisted snapshot is resumed so counters survive restarts.
func NewRuntimeMetrics(workspacePath string) *RuntimeMetrics {
	m := &RuntimeMetrics{
		path:    runtimeMetricsPath(workspacePath),
		buckets: make([]int64, len(latencyBucketUpperBoundsMs)+1),
	}
	if snap, err := ReadRuntimeSnapshot(workspacePath); err == nil {
		m.snap = snap
	}
	return m
}

// Snapshot returns the latest in-memory snapshot.
func (m *RuntimeMetrics) Snapshot() RuntimeSnapshot {
	if m == nil {
		return RuntimeSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// RecordHookExecution updates hook metrics and persists the snapshot.
func (m *RuntimeMetrics) RecordHookExecution(duration time.Duration, outcome string, timedOut bool) (RuntimeSnapshot, error) {
	if m == nil {
		return RuntimeSnapshot{}, nil
	}

	now := time.Now().UTC()
	outcome = strings.ToLower(strings.TrimSpace(outcome))

	m.mu.Lock()
	m.snap.UpdatedAt = now
	m.snap.Hook.Total++
	switch outcome {
	case OutcomeApproved:
		m.snap.Hook.Approved++
	case OutcomeRejected:
		m.snap.Hook.Rejected++
	case OutcomeDeferred:
		m.snap.Hook.Deferred++
	case OutcomeSkipped:
		m.snap.Hook.Skipped++
	case OutcomeMalfunction:
		m.snap.Hook.Malfunctions++
	default:
		m.snap.Hook.Failures++
	}
	if timedOut {
		m.snap.Hook.Timeouts++
	}

	if outcome != OutcomeSkipped {
		latencyMs := duration.Milliseconds()
		if latencyMs < 0 {
			latencyMs = 0
		}
		m.snap.Hook.TotalLatencyMs += latencyMs
		m.snap.Hook.LastLatencyMs = latencyMs
		if latencyMs > m.snap.Hook.MaxLatencyMs {
			m.snap.Hook.MaxLatencyMs = latencyMs
		}
		m.buckets[latencyBucketIndex(latencyMs)]++
		m.snap.Hook.P95ProxyLatencyMs = p95ProxyFromBuckets(m.buckets, sum(m.buckets))
	}

	snapshot := m.snap
	m.mu.Unlock()

	return snapshot, persistRuntimeSnapshot(m.path, snapshot)
}

// ReadRuntimeSnapshot reads the persisted snapshot from workspace state.
// If no file exists yet, it returns a zero-value snapshot and nil error.
func ReadRuntimeSnapshot(workspacePath string) (RuntimeSnapshot, error) {
	path := runtimeMetricsPath(workspacePath)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RuntimeSnapshot{}, nil
		}
		return RuntimeSnapshot{}, fmt.Errorf("read hook metrics: %w", err)
	}

	var snap RuntimeSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return RuntimeSnapshot{}, fmt.Errorf("decode hook metrics: %w", err)
	}
	return snap, nil
}

func runtimeMetricsPath(workspacePath string) string {
	return filepath.Join(workspacePath, "state", runtimeMetricsFileName)
}

func persistRuntimeSnapshot(path string, snapshot RuntimeSnapshot) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create hook metrics dir: %w", err)
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode hook metrics: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "hook_metrics-*.tmp")
	if err != nil {
		return fmt.Errorf("create hook metrics temp file: %w", err)
	}
	tempPath := tmp.Name()
	defer os.Remove(tempPath)

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write hook metrics temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close hook metrics temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename hook metrics file: %w", err)
	}
	return nil
}

func latencyBucketIndex(latencyMs int64) int {
	for i, upper := range latencyBucketUpperBoundsMs {
		if latencyMs <= upper {
			return i
		}
	}
	return len(latencyBucketUpperBoundsMs)
}

func sum(values []int64) int64 {
	var total int64
	for _, v := range values {
		total += v
	}
	return total
}

func p95ProxyFromBuckets(buckets []int64, total int64) int64 {
	if total <= 0 {
		return 0
	}
	target := int64(float64(total) * 0.95)
	if target <= 0 {
		target = 1
	}

	var cumulative int64
	for i, count := range buckets {
		cumulative += count
		if cumulative < target {
			continue
		}
		if i >= len(latencyBucketUpperBoundsMs) {
			return latencyBucketUpperBoundsMs[len(latencyBucketUpperBoundsMs)-1]
		}
		return latencyBucketUpperBoundsMs[i]
	}
	return latencyBucketUpperBoundsMs[len(latencyBucketUpperBoundsMs)-1]
}
