package organizer

import (
	"sort"
	"time"
)

// FileStatus is the terminal state of a single file in a run.
type FileStatus string

const (
	StatusMoved          FileStatus = "moved"
	StatusPlanned        FileStatus = "planned"
	StatusDeclined       FileStatus = "declined"
	StatusAlreadyPlaced  FileStatus = "already_placed"
	StatusExtractFailed  FileStatus = "extract_failed"
	StatusClassifyFailed FileStatus = "classify_failed"
	StatusInvalidLabel   FileStatus = "invalid_label"
	StatusMoveFailed     FileStatus = "move_failed"
	StatusVanished       FileStatus = "vanished"
)

// Failed reports whether the status is an error outcome.
func (s FileStatus) Failed() bool {
	switch s {
	case StatusExtractFailed, StatusClassifyFailed, StatusInvalidLabel, StatusMoveFailed:
		return true
	}
	return false
}

// Outcome records what happened to one file.
type Outcome struct {
	Path   string     `json:"path"`
	Label  string     `json:"label,omitempty"`
	Target string     `json:"target,omitempty"`
	Status FileStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// Report summarizes a run in walk order.
type Report struct {
	Root     string        `json:"root"`
	Outcomes []Outcome     `json:"outcomes"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`

	// Canceled is set when the run stopped before visiting every file.
	Canceled bool `json:"canceled,omitempty"`
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Count returns how many files ended in status.
func (r *Report) Count(status FileStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Failures returns how many files ended in an error status.
func (r *Report) Failures() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status.Failed() {
			n++
		}
	}
	return n
}

// Counts returns per-status totals, sorted by status name.
func (r *Report) Counts() []StatusCount {
	totals := make(map[FileStatus]int)
	for _, o := range r.Outcomes {
		totals[o.Status]++
	}
	out := make([]StatusCount, 0, len(totals))
	for status, n := range totals {
		out = append(out, StatusCount{Status: status, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out
}

type StatusCount struct {
	Status FileStatus
	Count  int
}
