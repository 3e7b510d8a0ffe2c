package classify

import (
	"errors"
	"slices"
	"sync"
	"time"
)

// StatsSnapshot summarizes the classification calls of a run.
type StatsSnapshot struct {
	Count    int     `json:"count"`
	Failures int     `json:"failures"`
	MinMs    int64   `json:"min_ms"`
	MaxMs    int64   `json:"max_ms"`
	AvgMs    float64 `json:"avg_ms"`
	P50Ms    float64 `json:"p50_ms"`
	P95Ms    float64 `json:"p95_ms"`

	// ByKind splits Failures by error kind.
	ByKind map[Kind]int `json:"by_kind,omitempty"`
}

// LatencyStats accumulates call durations and failures for one run.
type LatencyStats struct {
	mu        sync.Mutex
	durations []time.Duration
	failures  map[Kind]int
}

func NewLatencyStats() *LatencyStats {
	return &LatencyStats{failures: make(map[Kind]int)}
}

// Record adds one call duration. Negative durations count as zero.
func (s *LatencyStats) Record(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durations = append(s.durations, max(d, 0))
}

// RecordError counts a failed call by error kind.
func (s *LatencyStats) RecordError(err error) {
	kind := KindTransport
	var cerr *Error
	if errors.As(err, &cerr) {
		kind = cerr.Kind
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[kind]++
}

// FailuresByKind returns a copy of the failure counters.
func (s *LatencyStats) FailuresByKind() map[Kind]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Kind]int, len(s.failures))
	for k, n := range s.failures {
		out[k] = n
	}
	return out
}

func (s *LatencyStats) Snapshot() StatsSnapshot {
	byKind := s.FailuresByKind()
	failures := 0
	for _, n := range byKind {
		failures += n
	}
	s.mu.Lock()
	sorted := slices.Clone(s.durations)
	s.mu.Unlock()

	snap := StatsSnapshot{Count: len(sorted), Failures: failures}
	if failures > 0 {
		snap.ByKind = byKind
	}
	if len(sorted) == 0 {
		return snap
	}
	slices.Sort(sorted)

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	snap.MinMs = sorted[0].Milliseconds()
	snap.MaxMs = sorted[len(sorted)-1].Milliseconds()
	snap.AvgMs = float64(total.Milliseconds()) / float64(len(sorted))
	snap.P50Ms = percentileMs(sorted, 50)
	snap.P95Ms = percentileMs(sorted, 95)
	return snap
}

// percentileMs interpolates linearly between the closest ranks of sorted.
func percentileMs(sorted []time.Duration, pct float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case pct <= 0:
		return float64(sorted[0].Milliseconds())
	case pct >= 100:
		return float64(sorted[len(sorted)-1].Milliseconds())
	}

	rank := float64(len(sorted)-1) * pct / 100
	i := int(rank)
	lo := float64(sorted[i].Milliseconds())
	if i+1 >= len(sorted) {
		return lo
	}
	hi := float64(sorted[i+1].Milliseconds())
	return lo + (hi-lo)*(rank-float64(i))
}
