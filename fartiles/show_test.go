package fartiles

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShow(t *testing.T) {
	ctx := context.Background()
	_, output := buildCityArchive(t, t.TempDir(), BuildOptions{Name: "city", Description: "test build"})

	var buf bytes.Buffer
	require.NoError(t, Show(ctx, &buf, output))

	text := buf.String()
	assert.Contains(t, text, "tile type: Vector Protobuf (MVT)")
	assert.Contains(t, text, "tile compression: gzip")
	assert.Contains(t, text, "min zoom: 13")
	assert.Contains(t, text, "addressed tiles count: 2")
	assert.Contains(t, text, "name: city")
	assert.Contains(t, text, "layer buildings (zoom 13-13):")
	assert.Contains(t, text, "far: Number")
}

func TestShowTileSample(t *testing.T) {
	ctx := context.Background()
	_, output := buildCityArchive(t, t.TempDir(), BuildOptions{})

	var buf bytes.Buffer
	require.NoError(t, ShowTile(ctx, &buf, output, 13, 6983, 3174, false, 20))
	assert.Contains(t, buf.String(), "layer buildings: 2 features, extent 4096")
	assert.Contains(t, buf.String(), "type=Polygon")
}

func TestShowTileRaw(t *testing.T) {
	ctx := context.Background()
	_, output := buildCityArchive(t, t.TempDir(), BuildOptions{})

	var buf bytes.Buffer
	require.NoError(t, ShowTile(ctx, &buf, output, 13, 6983, 3174, true, 0))

	layers, err := DecodeLayers(buf.Bytes())
	require.NoError(t, err)
	assert.Len(t, layers[0].Features, 2)
}

func TestShowTileAbsent(t *testing.T) {
	ctx := context.Background()
	_, output := buildCityArchive(t, t.TempDir(), BuildOptions{})

	var buf bytes.Buffer
	err := ShowTile(ctx, &buf, output, 13, 0, 0, false, 20)
	assert.Error(t, err)
}
