// Package native talks to the moshr-workerd native worker: it spawns the
// process, wraps its gRPC API, bridges its events onto jobs and uploads
// preview frames in bounded chunks.
package native

import "errors"

var (
	// ErrWorkerNotFound indicates the moshr-workerd binary is not available.
	ErrWorkerNotFound = errors.New("moshr-workerd binary not found")
	// ErrStartupTimeout indicates the worker did not answer health checks in time.
	ErrStartupTimeout = errors.New("moshr-workerd did not become ready in time")
	// ErrFrameSizeMismatch indicates a frame buffer is not width*height*4 bytes.
	ErrFrameSizeMismatch = errors.New("frame buffer size does not match width*height*4")
	// ErrUploadAborted indicates the caller abandoned a preview upload.
	ErrUploadAborted = errors.New("preview upload aborted")
)
