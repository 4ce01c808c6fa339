// Package report records the outcome of a pipeline run.
package report

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ItemResult is the outcome for one source object.
type ItemResult struct {
	SourceKey   string `json:"source_key"`
	OutputKey   string `json:"output_key"`
	Status      Status `json:"status"`
	FailedStage string `json:"failed_stage,omitempty"`
	Error       string `json:"error,omitempty"`
	Attempts    int    `json:"attempts"`
	DurationMs  int64  `json:"duration_ms"`
}

// Summary is the aggregate outcome of one run.
type Summary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Candidates is the number of source objects found.
	Candidates int `json:"candidates"`
	// AlreadyDone is the number of candidates whose output already existed.
	AlreadyDone int `json:"already_done"`

	Items []ItemResult `json:"items"`
}

// Succeeded returns the source keys that reached a successful upload.
func (s *Summary) Succeeded() []string {
	var keys []string
	for _, it := range s.Items {
		if it.Status == StatusSucceeded {
			keys = append(keys, it.SourceKey)
		}
	}
	return keys
}

// Failed returns the items that did not reach a successful upload.
func (s *Summary) Failed() []ItemResult {
	var out []ItemResult
	for _, it := range s.Items {
		if it.Status != StatusSucceeded {
			out = append(out, it)
		}
	}
	return out
}

// Err combines every failed item into one error, or returns nil.
func (s *Summary) Err() error {
	var result *multierror.Error
	for _, it := range s.Failed() {
		stage := it.FailedStage
		if stage == "" {
			stage = "not run"
		}
		result = multierror.Append(result, fmt.Errorf("%s: %s: %s", it.SourceKey, stage, it.Error))
	}
	return result.ErrorOrNil()
}
