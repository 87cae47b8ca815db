package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/medtrack/medtrack-analytics/internal/jobs"
	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
	"github.com/medtrack/medtrack-analytics/internal/pipeline"
)

type stubReporting struct {
	runResult  pipeline.RunResult
	runErr     error
	qualityErr error
	warmupErr  error
	tables     []string
	warmups    int
}

func (s *stubReporting) RunPipeline(context.Context) (pipeline.RunResult, error) {
	return s.runResult, s.runErr
}

func (s *stubReporting) RunQualityChecks(_ context.Context, table string) ([]pharmacy.QualityLogEntry, error) {
	s.tables = append(s.tables, table)
	if s.qualityErr != nil {
		return nil, s.qualityErr
	}
	return []pharmacy.QualityLogEntry{{ID: 1, TableName: "drugs"}}, nil
}

func (s *stubReporting) Warmup(ctx context.Context) error {
	s.warmups++
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("warmup without deadline")
	}
	return s.warmupErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustTask(t *testing.T) func(*asynq.Task, error) *asynq.Task {
	return func(task *asynq.Task, err error) *asynq.Task {
		t.Helper()
		require.NoError(t, err)
		return task
	}
}

func TestPipelineJobRun(t *testing.T) {
	svc := &stubReporting{runResult: pipeline.RunResult{PipelineRun: pharmacy.PipelineRun{ID: "r1", Status: pharmacy.RunSucceeded, RecordsProcessed: 12}}}
	job := NewPipelineJob(svc, discardLogger())
	task := mustTask(t)(NewPipelineRunTask(""))

	var payload PipelineRunPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, "schedule", payload.Trigger)
	require.NoError(t, job.HandleRun(context.Background(), task))
}

func TestPipelineJobConflictSkipsRetry(t *testing.T) {
	svc := &stubReporting{runErr: pharmacy.ErrRunConflict}
	job := NewPipelineJob(svc, discardLogger())

	err := job.HandleRun(context.Background(), mustTask(t)(NewPipelineRunTask("manual")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.ErrorContains(t, err, pharmacy.ErrRunConflict.Error())
}

func TestPipelineJobFailedRunRetries(t *testing.T) {
	svc := &stubReporting{runResult: pipeline.RunResult{PipelineRun: pharmacy.PipelineRun{
		ID:     "r2",
		Status: pharmacy.RunFailed,
		Errors: []string{"context deadline exceeded"},
	}}}
	job := NewPipelineJob(svc, discardLogger())

	err := job.HandleRun(context.Background(), mustTask(t)(NewPipelineRunTask("schedule")))
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
	require.ErrorContains(t, err, "context deadline exceeded")

	svc.runResult = pipeline.RunResult{}
	svc.runErr = pharmacy.ErrStoreUnavailable
	err = job.HandleRun(context.Background(), mustTask(t)(NewPipelineRunTask("schedule")))
	require.ErrorIs(t, err, pharmacy.ErrStoreUnavailable)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestPipelineJobMalformedPayload(t *testing.T) {
	job := NewPipelineJob(&stubReporting{}, discardLogger())
	task := asynq.NewTask(TaskPipelineRun, []byte("{"))
	require.ErrorIs(t, job.HandleRun(context.Background(), task), asynq.SkipRetry)
	require.ErrorIs(t, job.HandleQuality(context.Background(), asynq.NewTask(TaskQualityCheck, []byte("["))), asynq.SkipRetry)
}

func TestPipelineJobNotConfigured(t *testing.T) {
	var job *PipelineJob
	require.Error(t, job.HandleRun(context.Background(), mustTask(t)(NewPipelineRunTask(""))))
}

func TestQualityJob(t *testing.T) {
	svc := &stubReporting{}
	job := NewPipelineJob(svc, discardLogger())

	require.NoError(t, job.HandleQuality(context.Background(), mustTask(t)(NewQualityCheckTask(""))))
	require.NoError(t, job.HandleQuality(context.Background(), mustTask(t)(NewQualityCheckTask("sales"))))
	require.Equal(t, []string{"", "sales"}, svc.tables)

	svc.qualityErr = pharmacy.ErrInvalidArgument
	require.ErrorIs(t, job.HandleQuality(context.Background(), mustTask(t)(NewQualityCheckTask("orders"))), asynq.SkipRetry)

	svc.qualityErr = pharmacy.ErrRunConflict
	require.ErrorIs(t, job.HandleQuality(context.Background(), mustTask(t)(NewQualityCheckTask(""))), asynq.SkipRetry)
}

func TestWarmupJobRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	svc := &stubReporting{}
	job := NewWarmupJob(svc, discardLogger(), metrics)

	require.NoError(t, job.Handle(context.Background(), mustTask(t)(NewReportingWarmupTask())))
	svc.warmupErr = pharmacy.ErrStoreUnavailable
	require.ErrorIs(t, job.Handle(context.Background(), mustTask(t)(NewReportingWarmupTask())), pharmacy.ErrStoreUnavailable)

	require.Equal(t, 2, svc.warmups)
	runs, err := testutil.GatherAndCount(reg, "medtrack_jobs_total")
	require.NoError(t, err)
	require.Equal(t, 2, runs)
	failures, err := testutil.GatherAndCount(reg, "medtrack_jobs_failures_total")
	require.NoError(t, err)
	require.Equal(t, 1, failures)
}

func TestNewTaskByName(t *testing.T) {
	for _, name := range []string{TaskPipelineRun, TaskQualityCheck, TaskReportingWarmup} {
		task, err := NewTaskByName(name)
		require.NoError(t, err)
		require.Equal(t, name, task.Type())
	}
	_, err := NewTaskByName("mail:send")
	require.Error(t, err)
}

func TestScheduleCronEntries(t *testing.T) {
	entries, err := Schedule{PipelineRun: "0 2 * * *", QualityCheck: "0 */6 * * *"}.CronEntries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, TaskPipelineRun, entries[0].Task.Type())
	require.Equal(t, "0 */6 * * *", entries[1].Spec)
	require.Equal(t, TaskQualityCheck, entries[1].Task.Type())
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

type stubEnqueuer struct {
	names []string
}

func (s *stubEnqueuer) Enqueue(_ context.Context, name string) (*asynq.TaskInfo, error) {
	s.names = append(s.names, name)
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueDefault, Type: name}, nil
}

func newJobsRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)
	return r
}

func TestHandlerHealth(t *testing.T) {
	h := NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Failed: 1}}, nil, discardLogger())
	rr := httptest.NewRecorder()
	newJobsRouter(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var stats QueueStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	require.Equal(t, 3, stats.Pending)
	require.Equal(t, 1, stats.Failed)

	h = NewHandler(stubInspector{err: errors.New("redis down")}, nil, discardLogger())
	rr = httptest.NewRecorder()
	newJobsRouter(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHandlerTrigger(t *testing.T) {
	enq := &stubEnqueuer{}
	h := NewHandler(nil, enq, discardLogger())

	rr := httptest.NewRecorder()
	newJobsRouter(h).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/pipeline:run", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	require.Equal(t, []string{TaskPipelineRun}, enq.names)

	rr = httptest.NewRecorder()
	newJobsRouter(h).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/mail:send", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	newJobsRouter(NewHandler(nil, nil, discardLogger())).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/pipeline:run", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
