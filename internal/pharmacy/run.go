package pharmacy

import (
	"fmt"
	"time"
)

// RunKind identifies what a pipeline run did.
type RunKind string

const (
	RunPipeline RunKind = "pipeline"
	RunIngest   RunKind = "ingest"
	RunQuality  RunKind = "quality"
)

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunIdle      RunStatus = "Idle"
	RunRunning   RunStatus = "Running"
	RunSucceeded RunStatus = "Succeeded"
	RunFailed    RunStatus = "Failed"
)

var runTransitions = map[RunStatus][]RunStatus{
	RunIdle:    {RunRunning},
	RunRunning: {RunSucceeded, RunFailed},
}

// CanTransition reports whether a run may move from s to next.
func (s RunStatus) CanTransition(next RunStatus) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a final state.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// PipelineRun records one execution of a state-mutating entry point.
type PipelineRun struct {
	ID               string     `json:"run_id"`
	Kind             RunKind    `json:"kind"`
	Status           RunStatus  `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	RecordsProcessed int        `json:"records_processed"`
	DurationMS       int64      `json:"duration_ms"`
	Errors           []string   `json:"errors"`
}

// Finish moves a running record to a terminal status.
func (r *PipelineRun) Finish(status RunStatus, at time.Time, processed int, errs []string) error {
	if !r.Status.CanTransition(status) {
		return fmt.Errorf("pharmacy: run %s cannot move from %s to %s", r.ID, r.Status, status)
	}
	r.Status = status
	r.FinishedAt = &at
	r.RecordsProcessed = processed
	r.DurationMS = r.Duration().Milliseconds()
	if errs == nil {
		errs = []string{}
	}
	r.Errors = errs
	return nil
}

// Duration returns the elapsed run time, zero while running.
func (r PipelineRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
