// Package handlers provides the HTTP API handlers for moshr.
package handlers

import (
	"errors"
	"maps"
	"slices"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/moshr/internal/datamosh"
	"github.com/jmylchreest/moshr/internal/effects"
	"github.com/jmylchreest/moshr/internal/jobs"
	"github.com/jmylchreest/moshr/internal/native"
	"github.com/jmylchreest/moshr/internal/preview"
	"github.com/jmylchreest/moshr/internal/service"
	"github.com/jmylchreest/moshr/internal/validation"
)

// Pagination contains pagination parameters for list requests.
type Pagination struct {
	Page  int `query:"page" default:"1" minimum:"1" doc:"Page number (1-indexed)"`
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Items per page"`
}

// Offset returns the zero-based row offset of the page.
func (p Pagination) Offset() int {
	return (max(p.Page, 1) - 1) * p.Limit
}

// PaginationMeta contains pagination metadata in responses.
type PaginationMeta struct {
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	TotalItems  int64 `json:"total_items"`
	TotalPages  int64 `json:"total_pages"`
}

func newPaginationMeta(p Pagination, total int64) PaginationMeta {
	pages := int64(0)
	if p.Limit > 0 {
		pages = (total + int64(p.Limit) - 1) / int64(p.Limit)
	}
	return PaginationMeta{CurrentPage: p.Page, PageSize: p.Limit, TotalItems: total, TotalPages: pages}
}

// problem maps a domain error onto an HTTP problem response.
func problem(msg string, err error) error {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		details := make([]error, 0, len(verr.Fields))
		for _, field := range slices.Sorted(maps.Keys(verr.Fields)) {
			details = append(details, &huma.ErrorDetail{Location: "body." + field, Message: verr.Fields[field]})
		}
		return huma.Error422UnprocessableEntity(verr.Err.Error(), details...)
	case errors.Is(err, jobs.ErrJobRunning), errors.Is(err, preview.ErrStaleRequest):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, jobs.ErrNoJob), errors.Is(err, service.ErrHistoryNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, native.ErrFrameSizeMismatch),
		errors.Is(err, effects.ErrUnknownEffect),
		errors.Is(err, effects.ErrUnknownParam),
		errors.Is(err, effects.ErrParamRange),
		errors.Is(err, preview.ErrNotPreviewable):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, native.ErrWorkerNotFound), errors.Is(err, datamosh.ErrNoWorker):
		return huma.Error503ServiceUnavailable(err.Error())
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}
