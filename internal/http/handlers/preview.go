package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/moshr/internal/native"
	"github.com/jmylchreest/moshr/internal/preview"
	"github.com/jmylchreest/moshr/internal/workerd/pixfx"
)

// maxFrameBytes bounds an uploaded frame (8K RGBA).
const maxFrameBytes = pixfx.MaxPixels * 4

// PreviewRenderer renders preview frames. *preview.Slots satisfies it.
type PreviewRenderer interface {
	Render(ctx context.Context, req preview.Request) (preview.Result, error)
}

// PreviewHandler handles live preview uploads.
type PreviewHandler struct {
	renderer PreviewRenderer
}

// NewPreviewHandler creates a preview handler. renderer may be nil when
// no native worker is running, in which case previews return 503.
func NewPreviewHandler(renderer PreviewRenderer) *PreviewHandler {
	return &PreviewHandler{renderer: renderer}
}

// RenderPreviewInput carries one raw RGBA frame.
type RenderPreviewInput struct {
	Slot      string `path:"slot" doc:"Preview slot; newer requests supersede older ones in the same slot"`
	Width     int    `query:"width" minimum:"1" maximum:"8192" required:"true" doc:"Frame width in pixels"`
	Height    int    `query:"height" minimum:"1" maximum:"8192" required:"true" doc:"Frame height in pixels"`
	Effect    string `query:"effect" required:"true" doc:"Previewable effect name"`
	Params    string `query:"params" doc:"JSON object of effect parameters"`
	RequestID uint64 `query:"request_id" doc:"Monotonic request id; 0 assigns the next one"`
	RawBody   []byte `contentType:"application/octet-stream"`
}

// PreviewOutput is the output for a rendered preview.
type PreviewOutput struct {
	Body preview.Result
}

// Register registers the preview routes with the API.
func (h *PreviewHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:  "renderPreview",
		Method:       http.MethodPost,
		Path:         "/api/v1/previews/{slot}",
		Summary:      "Render preview frame",
		Description:  "Uploads a width*height*4 RGBA frame to the native worker and returns the rendered PNG path",
		Tags:         []string{"Previews"},
		MaxBodyBytes: maxFrameBytes,
	}, h.Render)
}

// Render uploads and renders one frame.
func (h *PreviewHandler) Render(ctx context.Context, input *RenderPreviewInput) (*PreviewOutput, error) {
	if h.renderer == nil {
		return nil, huma.Error503ServiceUnavailable("native worker is not running")
	}

	var params map[string]float64
	if input.Params != "" {
		if err := json.Unmarshal([]byte(input.Params), &params); err != nil {
			return nil, huma.Error422UnprocessableEntity("params must be a JSON object of numbers", err)
		}
	}

	res, err := h.renderer.Render(ctx, preview.Request{
		Slot:      input.Slot,
		RequestID: input.RequestID,
		Frame:     native.Frame{Width: input.Width, Height: input.Height, Pix: input.RawBody},
		Effect:    input.Effect,
		Params:    params,
	})
	if err != nil {
		return nil, problem("failed to render preview", err)
	}
	return &PreviewOutput{Body: res}, nil
}
