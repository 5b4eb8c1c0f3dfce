package http_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/moshr/internal/config"
	moshrhttp "github.com/jmylchreest/moshr/internal/http"
	"github.com/jmylchreest/moshr/internal/http/handlers"
)

func newServer() *moshrhttp.Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := moshrhttp.NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 7878}, logger, "1.2.3")
	srv.Mount(handlers.NewEffectsHandler())
	return srv
}

func TestServer_ServesMountedHandlers(t *testing.T) {
	srv := newServer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/effects", nil)
	req.Header.Set("Accept-Encoding", "br")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "br", rec.Header().Get("Content-Encoding"))

	var body struct {
		Effects []json.RawMessage `json:"effects"`
	}
	require.NoError(t, json.NewDecoder(brotli.NewReader(rec.Body)).Decode(&body))
	assert.Len(t, body.Effects, 9)
}

func TestServer_OpenAPIDocument(t *testing.T) {
	srv := newServer()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var doc struct {
		Info struct {
			Title   string `json:"title"`
			Version string `json:"version"`
		} `json:"info"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&doc))
	assert.Equal(t, "moshr API", doc.Info.Title)
	assert.Equal(t, "1.2.3", doc.Info.Version)
}
