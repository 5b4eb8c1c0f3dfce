// Package validation rejects export requests before any process is spawned.
package validation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jmylchreest/moshr/internal/codec"
	"github.com/jmylchreest/moshr/internal/effects"
	"github.com/jmylchreest/moshr/internal/models"
)

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrOutputEqualsInput    = errors.New("output path must differ from input path")
	ErrUnsupportedContainer = errors.New("unsupported output container")
	ErrMissingDestination   = errors.New("destination folder does not exist")
	ErrIncompatibleCodec    = errors.New("codec cannot be muxed into container")
	ErrInputNotFound        = errors.New("input file not found")
)

// Error is a validation failure. Fields maps JSON field names to messages.
type Error struct {
	Err    error
	Fields map[string]string
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return e.Err.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, msg := range e.Fields {
		parts = append(parts, msg)
	}
	slices.Sort(parts)
	return e.Err.Error() + ": " + strings.Join(parts, "; ")
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fieldError(err error, field, format string, args ...any) *Error {
	return &Error{Err: err, Fields: map[string]string{field: fmt.Sprintf(format, args...)}}
}

var messages = map[string]string{
	"required": "The field '%s' is required.",
	"min":      "The field '%s' must be at least %s.",
	"max":      "The field '%s' must be at most %s.",
	"gte":      "The field '%s' must be greater than or equal to %s.",
	"lte":      "The field '%s' must be less than or equal to %s.",
	"oneof":    "The field '%s' must be one of [%s].",
}

// Validator checks requests.
type Validator struct {
	v *validator.Validate
}

// New creates a validator that reports JSON field names.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

// Struct runs the struct tag rules on s.
func (v *Validator) Struct(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &Error{Err: fmt.Errorf("%w: %v", ErrInvalidRequest, err)}
	}
	out := &Error{Err: ErrInvalidRequest, Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Fields[fieldPath(fe)] = message(fe)
	}
	return out
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func message(fe validator.FieldError) string {
	field := fieldPath(fe)
	if msg, ok := messages[fe.Tag()]; ok {
		if strings.Count(msg, "%s") == 2 {
			return fmt.Sprintf(msg, field, fe.Param())
		}
		return fmt.Sprintf(msg, field)
	}
	return fmt.Sprintf("The field '%s' is invalid: %s", field, fe.Tag())
}

// Export validates req and returns the resolved effect parameters.
func (v *Validator) Export(req models.ExportRequest) (effects.Effect, map[string]float64, error) {
	if err := v.Struct(req); err != nil {
		return effects.Effect{}, nil, err
	}

	effect, err := effects.Lookup(req.Effect)
	if err != nil {
		return effects.Effect{}, nil, &Error{Err: ErrInvalidRequest, Fields: map[string]string{"effect": err.Error()}}
	}
	params, err := effect.Resolve(req.Params)
	if err != nil {
		return effects.Effect{}, nil, &Error{Err: ErrInvalidRequest, Fields: map[string]string{"params": err.Error()}}
	}

	if err := v.Paths(req.InputPath, req.OutputPath); err != nil {
		return effects.Effect{}, nil, err
	}
	if err := Encoding(req.Encode, req.Container()); err != nil {
		return effects.Effect{}, nil, err
	}
	if t := req.Trim; t != nil && t.End > 0 && t.End <= t.Start {
		return effects.Effect{}, nil, fieldError(ErrInvalidRequest, "trim", "trim end %.3f must be after start %.3f", t.End, t.Start)
	}
	return effect, params, nil
}

// Paths checks the input exists, the output differs from it, has a
// supported container and lands in an existing folder.
func (v *Validator) Paths(input, output string) error {
	if SamePath(input, output) {
		return fieldError(ErrOutputEqualsInput, "output_path", "output %q is the input file", output)
	}
	if info, err := os.Stat(input); err != nil || info.IsDir() {
		return fieldError(ErrInputNotFound, "input_path", "input %q is not a readable file", input)
	}
	ext := filepath.Ext(output)
	if _, ok := codec.ParseContainer(ext); !ok {
		return fieldError(ErrUnsupportedContainer, "output_path", "%q is not one of %v", ext, codec.Containers())
	}
	dir := filepath.Dir(output)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fieldError(ErrMissingDestination, "output_path", "folder %q does not exist", dir)
	}
	return nil
}

// Encoding checks the encoder and audio codec can be muxed into container.
func Encoding(s models.EncodeSettings, container string) error {
	c, ok := codec.ParseContainer(container)
	if !ok {
		return fieldError(ErrUnsupportedContainer, "output_path", "%q is not one of %v", container, codec.Containers())
	}

	video, ok := codec.ParseVideo(s.Encoder)
	if !ok {
		return fieldError(ErrInvalidRequest, "encode.encoder", "unknown encoder %q", s.Encoder)
	}
	if !video.SupportsContainer(c) {
		return fieldError(ErrIncompatibleCodec, "encode.encoder", "%s (%s) cannot be written to %s", s.Encoder, video, c)
	}
	if s.CQ != nil && !codec.IsHardwareEncoder(s.Encoder) {
		return fieldError(ErrInvalidRequest, "encode.cq", "cq applies to hardware encoders only, use crf with %s", s.Encoder)
	}

	if s.AudioCodec != "" && s.AudioCodec != "copy" {
		audio, ok := codec.ParseAudio(s.AudioCodec)
		if !ok {
			return fieldError(ErrInvalidRequest, "encode.audio_codec", "unknown audio codec %q", s.AudioCodec)
		}
		if !audio.SupportsContainer(c) {
			return fieldError(ErrIncompatibleCodec, "encode.audio_codec", "%s cannot be written to %s", audio, c)
		}
	}
	return nil
}

// SamePath reports whether a and b name the same file after cleaning.
// Comparison ignores case on case-insensitive platforms.
func SamePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		absA, absB = filepath.Clean(a), filepath.Clean(b)
	}
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		return strings.EqualFold(absA, absB)
	}
	return absA == absB
}
