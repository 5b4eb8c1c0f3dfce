package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/moshr/internal/models"
)

// Exporter starts export jobs. *export.Service satisfies it.
type Exporter interface {
	Start(ctx context.Context, req models.ExportRequest) (models.Job, error)
}

// ExportHandler handles export requests.
type ExportHandler struct {
	exporter Exporter
}

// NewExportHandler creates a new export handler.
func NewExportHandler(exporter Exporter) *ExportHandler {
	return &ExportHandler{exporter: exporter}
}

// StartExportInput is the input for starting an export.
type StartExportInput struct {
	Body models.ExportRequest
}

// JobOutput wraps a single job.
type JobOutput struct {
	Body models.Job
}

// Register registers the export routes with the API.
func (h *ExportHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "startExport",
		Method:        http.MethodPost,
		Path:          "/api/v1/exports",
		Summary:       "Start export",
		Description:   "Validates the request and starts a render job. Only one job runs at a time.",
		Tags:          []string{"Exports"},
		DefaultStatus: http.StatusAccepted,
	}, h.Start)
}

// Start validates and starts an export.
func (h *ExportHandler) Start(ctx context.Context, input *StartExportInput) (*JobOutput, error) {
	job, err := h.exporter.Start(ctx, input.Body)
	if err != nil {
		return nil, problem("failed to start export", err)
	}
	return &JobOutput{Body: job}, nil
}
