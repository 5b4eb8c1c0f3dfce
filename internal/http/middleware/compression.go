package middleware

import (
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Compressor returns chi's compressor with brotli registered ahead of
// gzip and deflate.
func Compressor(level int) func(http.Handler) http.Handler {
	c := chimiddleware.NewCompressor(level,
		"application/json",
		"application/problem+json",
		"application/yaml",
		"text/html",
		"text/plain",
		"text/css",
		"text/javascript",
	)
	c.SetEncoder("br", func(w io.Writer, level int) io.Writer {
		return brotli.NewWriterLevel(w, level)
	})
	return c.Handler
}

// SkipCompressionForSSE bypasses compression for event streams, which
// must be flushed per event.
func SkipCompressionForSSE(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.Contains(r.Header.Get("Accept"), "text/event-stream") ||
				strings.HasSuffix(r.URL.Path, "/events") {
				next.ServeHTTP(w, r)
				return
			}
			compressedHandler.ServeHTTP(w, r)
		})
	}
}
