package fartiles

import (
	"math"
)

// maxMercatorLat is the latitude at which the Web Mercator projection
// diverges; latitudes beyond it are clamped before projection.
const maxMercatorLat = 85.0511287798066

// LonLatToTile returns the slippy-map tile containing the given
// longitude/latitude at a zoom level. The result is always a valid
// index in [0, 2^zoom - 1].
func LonLatToTile(lon float64, lat float64, zoom uint8) (uint32, uint32) {
	if lat > maxMercatorLat {
		lat = maxMercatorLat
	}
	if lat < -maxMercatorLat {
		lat = -maxMercatorLat
	}

	n := math.Exp2(float64(zoom))
	x := (lon + 180.0) / 360.0 * n
	latRad := lat * math.Pi / 180.0
	y := (1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n

	return clampTileIndex(x, zoom), clampTileIndex(y, zoom)
}

func clampTileIndex(f float64, zoom uint8) uint32 {
	max := uint64(1)<<zoom - 1
	if f < 0 {
		return 0
	}
	i := uint64(math.Floor(f))
	if i > max {
		i = max
	}
	return uint32(i)
}

// TileToBounds returns the geographic bounding box (minLon, minLat,
// maxLon, maxLat) of a tile.
func TileToBounds(z uint8, x uint32, y uint32) (float64, float64, float64, float64) {
	n := math.Exp2(float64(z))
	minLon := float64(x)/n*360.0 - 180.0
	maxLon := float64(x+1)/n*360.0 - 180.0
	maxLat := tileYToLat(float64(y), n)
	minLat := tileYToLat(float64(y+1), n)
	return minLon, minLat, maxLon, maxLat
}

func tileYToLat(y float64, n float64) float64 {
	rad := math.Atan(math.Sinh(math.Pi * (1.0 - 2.0*y/n)))
	return rad * 180.0 / math.Pi
}

// TileRange is an inclusive rectangle of tile indices at one zoom level.
type TileRange struct {
	MinX uint32
	MaxX uint32
	MinY uint32
	MaxY uint32
}

// BoundsToTileRange projects the two opposite corners of a geographic
// bounding box and returns the inclusive tile-index rectangle covering
// it at the given zoom. The box is assumed not to cross the
// antimeridian.
func BoundsToTileRange(minLon, minLat, maxLon, maxLat float64, zoom uint8) TileRange {
	// tile y grows southward, so the box's north edge maps to MinY
	minX, maxY := LonLatToTile(minLon, minLat, zoom)
	maxX, minY := LonLatToTile(maxLon, maxLat, zoom)
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	if minY > maxY {
		minY, maxY = maxY, minY
	}
	return TileRange{MinX: minX, MaxX: maxX, MinY: minY, MaxY: maxY}
}
