package engine

import (
	"time"
)

// StageResult is the outcome of one stage.
type StageResult struct {
	Name     string
	State    StageState
	Attempts int
	Duration time.Duration
	Err      error
}

// GraphResult is the outcome of one graph.
type GraphResult struct {
	ID       string
	Stages   []StageResult
	Err      error
	Duration time.Duration
}

// OK reports whether every stage completed or was cached.
func (r GraphResult) OK() bool {
	if r.Err != nil {
		return false
	}
	for _, s := range r.Stages {
		if !s.State.Done() {
			return false
		}
	}
	return true
}

// FailedStage returns the first failed stage, or nil.
func (r GraphResult) FailedStage() *StageResult {
	for i := range r.Stages {
		if r.Stages[i].State == StageFailed {
			return &r.Stages[i]
		}
	}
	return nil
}

// BatchResult is the outcome of one Run. Graphs appear in submission order.
type BatchResult struct {
	Graphs     []GraphResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded returns the IDs of graphs that finished successfully.
func (b *BatchResult) Succeeded() []string {
	var ids []string
	for _, g := range b.Graphs {
		if g.OK() {
			ids = append(ids, g.ID)
		}
	}
	return ids
}

// Failed returns the results of graphs that did not finish successfully.
func (b *BatchResult) Failed() []GraphResult {
	var out []GraphResult
	for _, g := range b.Graphs {
		if !g.OK() {
			out = append(out, g)
		}
	}
	return out
}
