package fartiles

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/simplify"
	"github.com/tidwall/rtree"
)

// IndexOptions parameterize tiling. The zero value is not usable; start
// from DefaultIndexOptions.
type IndexOptions struct {
	// Layer is the name of the single layer written to every tile.
	Layer string
	// MinZoom and MaxZoom bound the produced pyramid, inclusive.
	MinZoom uint8
	MaxZoom uint8
	// Extent is the integer coordinate space of one tile edge.
	Extent uint32
	// Buffer pads each tile's clip bound, in extent units, so features
	// on tile boundaries land in both adjacent tiles and seams don't
	// show. The same buffer is applied at every zoom.
	Buffer uint32
	// Tolerance is the Douglas-Peucker tolerance in extent units. A
	// fixed tile-space tolerance is geographically coarser at every
	// lower zoom, halving the retained detail per level.
	Tolerance float64
	// PromoteID names the property carried as each feature's stable
	// identifier.
	PromoteID string
}

// DefaultIndexOptions returns the documented defaults for building
// footprint layers.
func DefaultIndexOptions() IndexOptions {
	return IndexOptions{
		Layer:     "buildings",
		MinZoom:   12,
		MaxZoom:   13,
		Extent:    4096,
		Buffer:    32,
		Tolerance: 1.0,
		PromoteID: "parcel_id",
	}
}

// Index is an in-memory spatial index over a feature collection. It is
// built once, up front, and then answers per-tile retrieval for any
// (z,x,y) without rescanning the input. Read-only after construction
// and safe for concurrent Tile calls.
type Index struct {
	opts   IndexOptions
	tree   rtree.RTreeG[*geojson.Feature]
	bound  orb.Bound
	count  int
	fields map[string]string
}

// NewIndex builds the spatial index over every feature in fc. Features
// with geometry types other than points, lines and polygons are
// rejected.
func NewIndex(fc *geojson.FeatureCollection, opts IndexOptions) (*Index, error) {
	if opts.Layer == "" {
		return nil, fmt.Errorf("layer name must not be empty")
	}
	if opts.MinZoom > opts.MaxZoom {
		return nil, fmt.Errorf("minzoom %d greater than maxzoom %d", opts.MinZoom, opts.MaxZoom)
	}
	if opts.Extent == 0 {
		return nil, fmt.Errorf("extent must be positive")
	}

	PromoteID(fc, opts.PromoteID)

	ix := &Index{
		opts:   opts,
		fields: DetectFields(fc, DefaultFieldSampleSize),
	}

	first := true
	for i, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		switch f.Geometry.(type) {
		case orb.Point, orb.MultiPoint, orb.LineString, orb.MultiLineString, orb.Polygon, orb.MultiPolygon:
		default:
			return nil, fmt.Errorf("feature %d: unsupported geometry type %s", i, f.Geometry.GeoJSONType())
		}

		b := f.Geometry.Bound()
		ix.tree.Insert([2]float64{b.Min[0], b.Min[1]}, [2]float64{b.Max[0], b.Max[1]}, f)
		ix.count++
		if first {
			ix.bound = b
			first = false
		} else {
			ix.bound = ix.bound.Union(b)
		}
	}

	return ix, nil
}

// Options returns the options the index was built with.
func (ix *Index) Options() IndexOptions { return ix.opts }

// Bound is the geographic bound of all indexed features.
func (ix *Index) Bound() orb.Bound { return ix.bound }

// FeatureCount is the number of indexed features.
func (ix *Index) FeatureCount() int { return ix.count }

// Fields is the sampled property dictionary for layer metadata.
func (ix *Index) Fields() map[string]string { return ix.fields }

// Tile returns the layer for one tile: every indexed feature
// intersecting the buffered tile bound, projected to tile coordinates,
// clipped to the buffered extent and simplified. Returns nil when no
// feature survives; it never fails for an out-of-data coordinate.
func (ix *Index) Tile(z uint8, x uint32, y uint32) *mvt.Layer {
	tile := maptile.New(x, y, maptile.Zoom(z))
	pad := float64(ix.opts.Buffer) / float64(ix.opts.Extent)
	searchBound := tile.Bound(pad)

	var features []*geojson.Feature
	ix.tree.Search(
		[2]float64{searchBound.Min[0], searchBound.Min[1]},
		[2]float64{searchBound.Max[0], searchBound.Max[1]},
		func(_, _ [2]float64, f *geojson.Feature) bool {
			// projection mutates geometry, so each tile works on a clone
			clone := geojson.NewFeature(orb.Clone(f.Geometry))
			clone.ID = f.ID
			clone.Properties = f.Properties
			features = append(features, clone)
			return true
		},
	)
	if len(features) == 0 {
		return nil
	}

	layer := &mvt.Layer{
		Name:     ix.opts.Layer,
		Version:  2,
		Extent:   ix.opts.Extent,
		Features: features,
	}

	buffer := float64(ix.opts.Buffer)
	clipBound := orb.Bound{
		Min: orb.Point{-buffer, -buffer},
		Max: orb.Point{float64(ix.opts.Extent) + buffer, float64(ix.opts.Extent) + buffer},
	}

	layer.ProjectToTile(tile)
	layer.Clip(clipBound)
	layer.Simplify(simplify.DouglasPeucker(ix.opts.Tolerance))
	layer.RemoveEmpty(1.0, 1.0)

	if len(layer.Features) == 0 {
		return nil
	}
	return layer
}
