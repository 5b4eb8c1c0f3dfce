package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/moshr/internal/jobs"
	"github.com/jmylchreest/moshr/internal/models"
	"github.com/jmylchreest/moshr/internal/repository"
)

// History serves finished jobs. *service.HistoryService satisfies it.
type History interface {
	List(ctx context.Context, f repository.HistoryFilter) ([]*models.JobRecord, int64, error)
	Get(ctx context.Context, id models.ULID) (*models.JobRecord, error)
	Log(ctx context.Context, id models.ULID) ([]string, error)
}

// JobHandler handles the active job and job history.
type JobHandler struct {
	coordinator *jobs.Coordinator
	history     History
}

// NewJobHandler creates a new job handler. history may be nil.
func NewJobHandler(coordinator *jobs.Coordinator, history History) *JobHandler {
	return &JobHandler{coordinator: coordinator, history: history}
}

// CurrentJobBody reports the active or unacknowledged job.
type CurrentJobBody struct {
	Active bool       `json:"active" doc:"False when the coordinator is idle"`
	Job    models.Job `json:"job"`
}

// CurrentJobOutput is the output for the current job endpoint.
type CurrentJobOutput struct {
	Body CurrentJobBody
}

// EmptyInput is used by endpoints without parameters.
type EmptyInput struct{}

// ListJobsInput filters the history listing.
type ListJobsInput struct {
	Pagination
	Status string `query:"status" doc:"Filter by terminal status: success, error or canceled"`
	Effect string `query:"effect" doc:"Filter by effect name"`
}

// ListJobsBody is the response body for listing jobs.
type ListJobsBody struct {
	Jobs       []*models.JobRecord `json:"jobs"`
	Pagination PaginationMeta      `json:"pagination"`
}

// ListJobsOutput is the output for listing jobs.
type ListJobsOutput struct {
	Body ListJobsBody
}

// JobIDInput selects a job by ID.
type JobIDInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// JobRecordOutput is the output for a single history record.
type JobRecordOutput struct {
	Body *models.JobRecord
}

// JobLogBody holds log lines.
type JobLogBody struct {
	Lines []string `json:"lines"`
}

// JobLogOutput is the output for the job log endpoint.
type JobLogOutput struct {
	Body JobLogBody
}

// Register registers the job routes with the API.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getCurrentJob",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs/current",
		Summary:     "Get current job",
		Description: "Returns the running job, or the last finished job until it is acknowledged",
		Tags:        []string{"Jobs"},
	}, h.Current)

	huma.Register(api, huma.Operation{
		OperationID:   "cancelCurrentJob",
		Method:        http.MethodPost,
		Path:          "/api/v1/jobs/current/cancel",
		Summary:       "Cancel current job",
		Tags:          []string{"Jobs"},
		DefaultStatus: http.StatusAccepted,
	}, h.Cancel)

	huma.Register(api, huma.Operation{
		OperationID:   "acknowledgeCurrentJob",
		Method:        http.MethodPost,
		Path:          "/api/v1/jobs/current/ack",
		Summary:       "Acknowledge finished job",
		Description:   "Returns the coordinator to idle after a job finished",
		Tags:          []string{"Jobs"},
		DefaultStatus: http.StatusNoContent,
	}, h.Acknowledge)

	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs",
		Summary:     "List jobs",
		Description: "Returns finished jobs, newest first",
		Tags:        []string{"Jobs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs/{id}",
		Summary:     "Get job",
		Tags:        []string{"Jobs"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "getJobLog",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs/{id}/log",
		Summary:     "Get job log",
		Description: "Returns the live log of the current job or the archived log of a finished one",
		Tags:        []string{"Jobs"},
	}, h.Log)
}

// Current returns the current job.
func (h *JobHandler) Current(_ context.Context, _ *EmptyInput) (*CurrentJobOutput, error) {
	job, ok := h.coordinator.Current()
	return &CurrentJobOutput{Body: CurrentJobBody{Active: ok, Job: job}}, nil
}

// Cancel requests cancellation of the running job.
func (h *JobHandler) Cancel(_ context.Context, _ *EmptyInput) (*struct{}, error) {
	if !h.coordinator.Cancel() {
		return nil, huma.Error404NotFound("no running job")
	}
	return nil, nil
}

// Acknowledge returns a finished job to idle.
func (h *JobHandler) Acknowledge(_ context.Context, _ *EmptyInput) (*struct{}, error) {
	if err := h.coordinator.Acknowledge(); err != nil {
		return nil, problem("failed to acknowledge job", err)
	}
	return nil, nil
}

// List returns job history.
func (h *JobHandler) List(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	if h.history == nil {
		return &ListJobsOutput{Body: ListJobsBody{Jobs: []*models.JobRecord{}, Pagination: newPaginationMeta(input.Pagination, 0)}}, nil
	}
	records, total, err := h.history.List(ctx, repository.HistoryFilter{
		Status: models.JobStatus(input.Status),
		Effect: input.Effect,
		Offset: input.Offset(),
		Limit:  input.Limit,
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list jobs", err)
	}
	if records == nil {
		records = []*models.JobRecord{}
	}
	return &ListJobsOutput{Body: ListJobsBody{Jobs: records, Pagination: newPaginationMeta(input.Pagination, total)}}, nil
}

// Get returns a finished job.
func (h *JobHandler) Get(ctx context.Context, input *JobIDInput) (*JobRecordOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid job ID", err)
	}
	if job, ok := h.coordinator.Current(); ok && job.ID == id {
		return &JobRecordOutput{Body: models.NewJobRecord(job)}, nil
	}
	if h.history == nil {
		return nil, huma.Error404NotFound("job not found")
	}
	rec, err := h.history.Get(ctx, id)
	if err != nil {
		return nil, problem("failed to get job", err)
	}
	return &JobRecordOutput{Body: rec}, nil
}

// Log returns a job's log lines.
func (h *JobHandler) Log(ctx context.Context, input *JobIDInput) (*JobLogOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid job ID", err)
	}
	if job, ok := h.coordinator.Current(); ok && job.ID == id {
		return &JobLogOutput{Body: JobLogBody{Lines: nonNil(job.LogTail)}}, nil
	}
	if h.history == nil {
		return nil, huma.Error404NotFound("job not found")
	}
	lines, err := h.history.Log(ctx, id)
	if err != nil {
		return nil, problem("failed to read job log", err)
	}
	return &JobLogOutput{Body: JobLogBody{Lines: nonNil(lines)}}, nil
}

func nonNil(lines []string) []string {
	if lines == nil {
		return []string{}
	}
	return lines
}
