package fartiles

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseTilePath(t *testing.T) {
	_, _, _, _, ok := parseTilePath("/city/13/6983/3174")
	assert.False(t, ok)

	name, z, x, y, ok := parseTilePath("/city/13/6983/3174.pbf")
	assert.True(t, ok)
	assert.Equal(t, "city", name)
	assert.Equal(t, uint8(13), z)
	assert.Equal(t, uint32(6983), x)
	assert.Equal(t, uint32(3174), y)

	name, _, _, _, ok = parseTilePath("/my-city.v2/0/0/0.pbf")
	assert.True(t, ok)
	assert.Equal(t, "my-city.v2", name)

	_, _, _, _, ok = parseTilePath("/city/999/0/0.pbf")
	assert.False(t, ok)
	_, _, _, _, ok = parseTilePath("/city/13/6983/3174.mvt")
	assert.False(t, ok)
}

func newCityServer(t *testing.T) (*Server, string) {
	t.Helper()
	_, output := buildCityArchive(t, t.TempDir(), BuildOptions{Name: "city"})

	server := NewServer(zap.NewNop())
	t.Cleanup(func() { server.Close() })
	require.NoError(t, server.OpenArchive(context.Background(), "city", output))
	return server, output
}

func get(handler http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	return rec
}

func TestServerTile(t *testing.T) {
	server, _ := newCityServer(t)
	handler := server.Middleware(http.NotFoundHandler())

	rec := get(handler, "/city/13/6983/3174.pbf")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-protobuf", rec.Header().Get("Content-Type"))
	assert.Equal(t, DefaultCacheControl, rec.Header().Get("Cache-Control"))

	layers, err := DecodeLayers(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "buildings", layers[0].Name)
	assert.Len(t, layers[0].Features, 2)

	rec = get(handler, "/city/13/7000/3200.pbf")
	assert.Equal(t, http.StatusOK, rec.Code)
	layers, err = DecodeLayers(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, layers[0].Features, 1)
}

func TestServerAbsentTile(t *testing.T) {
	server, _ := newCityServer(t)
	handler := server.Middleware(http.NotFoundHandler())

	rec := get(handler, "/city/13/0/0.pbf")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.Bytes())

	rec = get(handler, "/city/5/0/0.pbf")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServerUnknownArchive(t *testing.T) {
	server, _ := newCityServer(t)
	handler := server.Middleware(http.NotFoundHandler())

	rec := get(handler, "/elsewhere/13/0/0.pbf")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = get(handler, "/elsewhere/metadata.json")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerPassThrough(t *testing.T) {
	server, _ := newCityServer(t)

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusTeapot)
	})
	handler := server.Middleware(next)

	rec := get(handler, "/healthz")
	assert.True(t, nextCalled)
	assert.Equal(t, http.StatusTeapot, rec.Code)

	// a tile-shaped path for a registered archive is never passed on
	nextCalled = false
	get(handler, "/city/13/0/0.pbf")
	assert.False(t, nextCalled)
}

func TestServerMetadata(t *testing.T) {
	server, _ := newCityServer(t)
	handler := server.Middleware(http.NotFoundHandler())

	rec := get(handler, "/city/metadata.json")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	meta, err := ParseMetadata(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "city", meta.Name)
}

func TestServerSummary(t *testing.T) {
	server, output := newCityServer(t)
	handler := server.Middleware(http.NotFoundHandler())

	sidecar, err := os.ReadFile(SummaryPath(output))
	require.NoError(t, err)

	rec := get(handler, "/city/summary.json")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, sidecar, rec.Body.Bytes())
}

func TestServerSummaryMissingSidecar(t *testing.T) {
	_, output := buildCityArchive(t, t.TempDir(), BuildOptions{})
	require.NoError(t, os.Remove(SummaryPath(output)))

	server := NewServer(zap.NewNop())
	defer server.Close()
	require.NoError(t, server.OpenArchive(context.Background(), "city", output))

	handler := server.Middleware(http.NotFoundHandler())
	rec := get(handler, "/city/summary.json")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// tiles still serve without the sidecar
	rec = get(handler, "/city/13/6983/3174.pbf")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerOpenArchiveBadPath(t *testing.T) {
	server := NewServer(zap.NewNop())
	defer server.Close()
	err := server.OpenArchive(context.Background(), "nope", t.TempDir()+"/missing.pmtiles")
	assert.Error(t, err)
}
