package fartiles

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

func writeTestMBTiles(t *testing.T, path string, tiles map[[3]uint32][]byte) {
	t.Helper()
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite|sqlite.OpenCreate)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, sqlitex.ExecScript(conn, `
CREATE TABLE metadata (name text, value text);
CREATE TABLE tiles (zoom_level integer, tile_column integer, tile_row integer, tile_data blob);
INSERT INTO metadata VALUES ('name', 'city');
INSERT INTO metadata VALUES ('format', 'pbf');
INSERT INTO metadata VALUES ('bounds', '126.8,37.4,127.7,37.6');
INSERT INTO metadata VALUES ('minzoom', '13');
INSERT INTO metadata VALUES ('maxzoom', '13');
`))

	for coord, data := range tiles {
		z, x, y := coord[0], coord[1], coord[2]
		tmsRow := (uint32(1) << z) - 1 - y
		err := sqlitex.Execute(conn,
			"INSERT INTO tiles VALUES (?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{int64(z), int64(x), int64(tmsRow), data}})
		require.NoError(t, err)
	}
}

func TestConvertMBTiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	opts := DefaultIndexOptions()
	opts.MinZoom = 13
	opts.MaxZoom = 13
	ix, err := NewIndex(cityFeatures(), opts)
	require.NoError(t, err)

	tileA, err := EncodeLayer(ix.Tile(13, 6983, 3174))
	require.NoError(t, err)
	tileB, err := EncodeLayer(ix.Tile(13, 7000, 3200))
	require.NoError(t, err)

	input := filepath.Join(dir, "city.mbtiles")
	writeTestMBTiles(t, input, map[[3]uint32][]byte{
		{13, 6983, 3174}: tileA,
		{13, 7000, 3200}: tileB,
	})

	output := filepath.Join(dir, "city.pmtiles")
	require.NoError(t, Convert(zap.NewNop(), input, output, false))

	reader, err := OpenReader(ctx, output)
	require.NoError(t, err)
	defer reader.Close()

	header, err := reader.GetHeader(ctx)
	require.NoError(t, err)
	assert.Equal(t, Mvt, header.TileType)
	assert.Equal(t, uint8(13), header.MinZoom)
	assert.Equal(t, uint8(13), header.MaxZoom)
	assert.Equal(t, uint64(2), header.AddressedTilesCount)

	got, found, err := reader.GetTile(ctx, 13, 6983, 3174)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, tileA, got)

	got, found, err = reader.GetTile(ctx, 13, 7000, 3200)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, tileB, got)

	meta, err := reader.GetMetadata(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(meta), `"name":"city"`)
}

func TestConvertRejectsRasterFormat(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "raster.mbtiles")

	conn, err := sqlite.OpenConn(input, sqlite.OpenReadWrite|sqlite.OpenCreate)
	require.NoError(t, err)
	require.NoError(t, sqlitex.ExecScript(conn, `
CREATE TABLE metadata (name text, value text);
CREATE TABLE tiles (zoom_level integer, tile_column integer, tile_row integer, tile_data blob);
INSERT INTO metadata VALUES ('format', 'png');
INSERT INTO tiles VALUES (0, 0, 0, x'00');
`))
	require.NoError(t, conn.Close())

	err = Convert(zap.NewNop(), input, filepath.Join(dir, "out.pmtiles"), false)
	assert.Error(t, err)
}

func TestConvertMissingInput(t *testing.T) {
	dir := t.TempDir()
	err := Convert(zap.NewNop(), filepath.Join(dir, "missing.mbtiles"), filepath.Join(dir, "out.pmtiles"), false)
	assert.Error(t, err)
}
