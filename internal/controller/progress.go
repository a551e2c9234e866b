package controller

import (
	"context"
	"sync"
)

// StageClass tags how a progress stage affects the overall percentage
// (spec §3 Progress report, §4.H, §9).
type StageClass int

const (
	StageNormal StageClass = iota
	// StageFinished and StageAborted are terminal: reaching either pins
	// overall progress at 100% regardless of any skipped stages.
	StageFinished
	StageAborted
)

// Stage names one step of a long operation.
type Stage struct {
	Name  string
	Class StageClass
}

// Report is a snapshot of a long operation's progress (spec §3).
type Report struct {
	StageIndex      int
	NumStages       int
	CurrentStage    string
	OverallProgress float64
}

// ProgressReporter is a one-writer/many-reader broadcast-latest-value
// channel (spec §9): SetStage is the single writer; Latest/Wait are the
// many readers. Progress never decreases in the normal path; once a
// terminal stage is set, OverallProgress pins at 1 and further
// SetStage calls are ignored.
type ProgressReporter struct {
	stages []Stage

	mu       sync.Mutex
	idx      int
	terminal bool
	value    Report
	changed  chan struct{}
}

// NewProgressReporter constructs a reporter over an ordered stage list
// supplied at construction (spec §4.H).
func NewProgressReporter(stages []Stage) *ProgressReporter {
	r := &ProgressReporter{stages: stages, changed: make(chan struct{})}
	r.publish()
	return r
}

// SetStage advances to stage index i with the given intra-stage
// fraction (0..1). Calls with i less than the current index are
// clamped (progress never decreases); calls after a terminal stage are
// no-ops.
func (r *ProgressReporter) SetStage(i int, intraFraction float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminal {
		return
	}
	if i < r.idx {
		i = r.idx
	}
	if i >= len(r.stages) {
		i = len(r.stages) - 1
	}
	r.idx = i
	if r.stages[i].Class == StageFinished || r.stages[i].Class == StageAborted {
		r.terminal = true
	}
	r.publish2(intraFraction)
}

func (r *ProgressReporter) publish2(intraFraction float64) {
	overall := intraFraction
	if !r.terminal {
		if intraFraction < 0 {
			intraFraction = 0
		}
		if intraFraction > 1 {
			intraFraction = 1
		}
		overall = (float64(r.idx) + intraFraction) / float64(len(r.stages))
		if overall < r.value.OverallProgress {
			overall = r.value.OverallProgress
		}
	} else {
		overall = 1
	}
	r.setValue(overall)
}

func (r *ProgressReporter) publish() {
	r.setValue(float64(r.idx) / float64(max(1, len(r.stages))))
}

func (r *ProgressReporter) setValue(overall float64) {
	name := ""
	if r.idx < len(r.stages) {
		name = r.stages[r.idx].Name
	}
	r.value = Report{StageIndex: r.idx, NumStages: len(r.stages), CurrentStage: name, OverallProgress: overall}
	close(r.changed)
	r.changed = make(chan struct{})
}

// Latest returns the most recent report without blocking.
func (r *ProgressReporter) Latest() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

// Wait blocks until the next SetStage call or ctx cancellation.
func (r *ProgressReporter) Wait(ctx context.Context) (Report, error) {
	r.mu.Lock()
	ch := r.changed
	r.mu.Unlock()
	select {
	case <-ch:
		return r.Latest(), nil
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
