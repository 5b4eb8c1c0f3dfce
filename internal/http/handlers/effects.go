package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/moshr/internal/effects"
)

// EffectsHandler serves the effect catalogue.
type EffectsHandler struct{}

// NewEffectsHandler creates a new effects handler.
func NewEffectsHandler() *EffectsHandler {
	return &EffectsHandler{}
}

// ListEffectsOutput is the output for listing effects.
type ListEffectsOutput struct {
	Body struct {
		Effects []effects.Effect `json:"effects"`
	}
}

// Register registers the effects routes with the API.
func (h *EffectsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listEffects",
		Method:      http.MethodGet,
		Path:        "/api/v1/effects",
		Summary:     "List effects",
		Description: "Returns every effect with its backend and tunable parameters",
		Tags:        []string{"Effects"},
	}, h.List)
}

// List returns the catalogue.
func (h *EffectsHandler) List(_ context.Context, _ *EmptyInput) (*ListEffectsOutput, error) {
	out := &ListEffectsOutput{}
	out.Body.Effects = effects.All()
	return out, nil
}
