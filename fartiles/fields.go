package fartiles

import (
	"github.com/paulmach/orb/geojson"
)

// DefaultFieldSampleSize bounds how many features are inspected when
// inferring the per-layer field dictionary.
const DefaultFieldSampleSize = 1000

// DetectFields infers the property dictionary for the layer metadata by
// sampling up to sampleSize features and recording each property's type
// from its first non-null sampled value. Types follow the mbtiles
// vector_layers convention: String, Number, Boolean.
func DetectFields(fc *geojson.FeatureCollection, sampleSize int) map[string]string {
	if sampleSize <= 0 {
		sampleSize = DefaultFieldSampleSize
	}

	fields := make(map[string]string)
	for i, f := range fc.Features {
		if i >= sampleSize {
			break
		}
		for name, value := range f.Properties {
			if _, seen := fields[name]; seen {
				continue
			}
			switch value.(type) {
			case nil:
				// keep looking at later features
			case bool:
				fields[name] = "Boolean"
			case float64, float32, int, int64, uint64:
				fields[name] = "Number"
			default:
				fields[name] = "String"
			}
		}
	}
	return fields
}
