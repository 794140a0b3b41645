package fartiles

import (
	"fmt"
	"os"

	"github.com/paulmach/orb/geojson"
	"github.com/tidwall/gjson"
)

// LoadFeatureCollection reads a GeoJSON FeatureCollection from disk.
// The top-level type is checked with a cheap scan first so malformed
// input fails before a full parse is attempted.
func LoadFeatureCollection(path string) (*geojson.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ParseFeatureCollection(data)
}

// ParseFeatureCollection parses GeoJSON bytes into a FeatureCollection.
func ParseFeatureCollection(data []byte) (*geojson.FeatureCollection, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("input is not valid JSON")
	}
	if t := gjson.GetBytes(data, "type").String(); t != "FeatureCollection" {
		return nil, fmt.Errorf("input type is %q, expected FeatureCollection", t)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing feature collection: %w", err)
	}
	return fc, nil
}

// PromoteID copies the named property onto each feature's ID so the
// client can address features across zoom levels. Features missing the
// property keep a nil ID; they are still encoded but cannot carry
// per-feature interactive state.
func PromoteID(fc *geojson.FeatureCollection, field string) {
	if field == "" {
		return
	}
	for _, f := range fc.Features {
		if v, ok := f.Properties[field]; ok && v != nil {
			f.ID = v
		}
	}
}
