package fartiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLonLatToTileZoomZero(t *testing.T) {
	x, y := LonLatToTile(-122.4194, 37.7749, 0)
	assert.Equal(t, uint32(0), x)
	assert.Equal(t, uint32(0), y)
}

func TestLonLatToTileKnownValues(t *testing.T) {
	// Greenwich at z1 falls in the north-east quadrant
	x, y := LonLatToTile(0.1, 51.5, 1)
	assert.Equal(t, uint32(1), x)
	assert.Equal(t, uint32(0), y)

	// San Francisco, z12
	x, y = LonLatToTile(-122.4194, 37.7749, 12)
	assert.Equal(t, uint32(655), x)
	assert.Equal(t, uint32(1583), y)
}

func TestLonLatToTileContainment(t *testing.T) {
	coords := [][2]float64{
		{-122.4194, 37.7749},
		{139.6917, 35.6895},
		{0.0001, 0.0001},
		{-0.0001, -0.0001},
		{126.9, 37.48},
	}
	for _, c := range coords {
		for zoom := uint8(0); zoom <= 14; zoom++ {
			x, y := LonLatToTile(c[0], c[1], zoom)
			minLon, minLat, maxLon, maxLat := TileToBounds(zoom, x, y)
			assert.LessOrEqual(t, minLon, c[0], "zoom %d", zoom)
			assert.Less(t, c[0], maxLon, "zoom %d", zoom)
			assert.LessOrEqual(t, minLat, c[1], "zoom %d", zoom)
			assert.Less(t, c[1], maxLat, "zoom %d", zoom)
		}
	}
}

func TestLonLatToTileClamping(t *testing.T) {
	// poles clamp to the first and last rows instead of overflowing
	_, y := LonLatToTile(0, 90, 4)
	assert.Equal(t, uint32(0), y)
	_, y = LonLatToTile(0, -90, 4)
	assert.Equal(t, uint32(15), y)

	// the antimeridian edge clamps to the last column
	x, _ := LonLatToTile(180, 0, 4)
	assert.Equal(t, uint32(15), x)
	x, _ = LonLatToTile(-180, 0, 4)
	assert.Equal(t, uint32(0), x)
}

func TestTileToBoundsAdjacency(t *testing.T) {
	// adjacent tiles share an edge exactly
	_, _, maxLon, _ := TileToBounds(5, 10, 12)
	minLon, _, _, _ := TileToBounds(5, 11, 12)
	assert.Equal(t, maxLon, minLon)

	_, minLat, _, _ := TileToBounds(5, 10, 12)
	_, _, _, maxLat := TileToBounds(5, 10, 13)
	assert.Equal(t, minLat, maxLat)
}

func TestBoundsToTileRange(t *testing.T) {
	// a point bound covers exactly one tile
	r := BoundsToTileRange(-122.4194, 37.7749, -122.4194, 37.7749, 12)
	assert.Equal(t, r.MinX, r.MaxX)
	assert.Equal(t, r.MinY, r.MaxY)
	assert.Equal(t, uint32(655), r.MinX)
	assert.Equal(t, uint32(1583), r.MinY)

	// a box spanning a tile seam covers both sides, north edge first
	minLon, minLat, maxLon, maxLat := TileToBounds(12, 655, 1583)
	r = BoundsToTileRange(minLon-0.001, minLat+0.0001, maxLon-0.001, maxLat-0.0001, 12)
	assert.Equal(t, uint32(654), r.MinX)
	assert.Equal(t, uint32(655), r.MaxX)
	assert.Equal(t, uint32(1583), r.MinY)
	assert.Equal(t, uint32(1583), r.MaxY)

	// whole world at z0 is the single root tile
	r = BoundsToTileRange(-180, -85, 180, 85, 0)
	assert.Equal(t, TileRange{0, 0, 0, 0}, r)
}
