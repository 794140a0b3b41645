package fartiles

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
)

func featureWithProps(props geojson.Properties) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{0, 0})
	f.Properties = props
	return f
}

func TestDetectFields(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(featureWithProps(geojson.Properties{
		"far":       2.5,
		"parcel_id": "a-1",
		"exempt":    true,
	}))

	fields := DetectFields(fc, 0)
	assert.Equal(t, map[string]string{
		"far":       "Number",
		"parcel_id": "String",
		"exempt":    "Boolean",
	}, fields)
}

func TestDetectFieldsSkipsNull(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(featureWithProps(geojson.Properties{"far": nil}))
	fc.Append(featureWithProps(geojson.Properties{"far": 3.0}))

	fields := DetectFields(fc, 0)
	assert.Equal(t, map[string]string{"far": "Number"}, fields)
}

func TestDetectFieldsFirstValueWins(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(featureWithProps(geojson.Properties{"far": 3.0}))
	fc.Append(featureWithProps(geojson.Properties{"far": "three"}))

	fields := DetectFields(fc, 0)
	assert.Equal(t, map[string]string{"far": "Number"}, fields)
}

func TestDetectFieldsSampleSize(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(featureWithProps(geojson.Properties{"a": 1.0}))
	fc.Append(featureWithProps(geojson.Properties{"b": "late"}))

	fields := DetectFields(fc, 1)
	assert.Equal(t, map[string]string{"a": "Number"}, fields)
}
