package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskPipelineRun runs a full load and quality pass.
	TaskPipelineRun = "pipeline:run"
	// TaskQualityCheck appends fresh quality results.
	TaskQualityCheck = "quality:check"
	// TaskReportingWarmup precomputes the default reports.
	TaskReportingWarmup = "reporting:warmup"
)

// defaultMaxRetry bounds retries for every scheduled task.
const defaultMaxRetry = 3

// PipelineRunPayload identifies who asked for a run.
type PipelineRunPayload struct {
	Trigger string `json:"trigger"`
}

// QualityCheckPayload restricts checks to one table. An empty table checks
// every table.
type QualityCheckPayload struct {
	Table string `json:"table,omitempty"`
}

// WarmupPayload is reserved for future options.
type WarmupPayload struct{}

// NewPipelineRunTask builds a pipeline run task.
func NewPipelineRunTask(trigger string) (*asynq.Task, error) {
	if trigger == "" {
		trigger = "schedule"
	}
	return newTask(TaskPipelineRun, PipelineRunPayload{Trigger: trigger})
}

// NewQualityCheckTask builds a quality check task.
func NewQualityCheckTask(table string) (*asynq.Task, error) {
	return newTask(TaskQualityCheck, QualityCheckPayload{Table: table})
}

// NewReportingWarmupTask builds a report warmup task.
func NewReportingWarmupTask() (*asynq.Task, error) {
	return newTask(TaskReportingWarmup, WarmupPayload{})
}

// NewTaskByName maps a task type to its default task, for manual triggers.
func NewTaskByName(name string) (*asynq.Task, error) {
	switch name {
	case TaskPipelineRun:
		return NewPipelineRunTask("manual")
	case TaskQualityCheck:
		return NewQualityCheckTask("")
	case TaskReportingWarmup:
		return NewReportingWarmupTask()
	default:
		return nil, fmt.Errorf("jobs: unknown task %q", name)
	}
}

func newTask(typename string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typename, body, asynq.Queue(QueueDefault), asynq.MaxRetry(defaultMaxRetry)), nil
}
