package fartiles

import (
	"testing"

	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
)

func testLayer(t *testing.T) *geojson.FeatureCollection {
	t.Helper()
	fc := geojson.NewFeatureCollection()
	fc.Append(polygonInTile(13, 6983, 3174, 0.4, 0.4, 0.6, 0.6,
		geojson.Properties{"parcel_id": "p-1", "far": 2.5, "exempt": false}))
	fc.Append(polygonInTile(13, 6983, 3174, 0.1, 0.1, 0.3, 0.3,
		geojson.Properties{"parcel_id": "p-2", "far": 0.8}))
	return fc
}

func TestEncodeLayerRoundtrip(t *testing.T) {
	ix, err := NewIndex(testLayer(t), DefaultIndexOptions())
	assert.NoError(t, err)

	layer := ix.Tile(13, 6983, 3174)
	assert.NotNil(t, layer)

	data, err := EncodeLayer(layer)
	assert.NoError(t, err)
	assert.NotEmpty(t, data)

	layers, err := DecodeLayers(data)
	assert.NoError(t, err)
	assert.Len(t, layers, 1)
	assert.Equal(t, "buildings", layers[0].Name)
	assert.Equal(t, uint32(4096), layers[0].Extent)
	assert.Len(t, layers[0].Features, 2)

	fars := map[float64]bool{}
	for _, f := range layers[0].Features {
		fars[f.Properties["far"].(float64)] = true
	}
	assert.True(t, fars[2.5])
	assert.True(t, fars[0.8])
}

func TestEncodeLayerDeterministic(t *testing.T) {
	ix, err := NewIndex(testLayer(t), DefaultIndexOptions())
	assert.NoError(t, err)

	a, err := EncodeLayer(ix.Tile(13, 6983, 3174))
	assert.NoError(t, err)
	b, err := EncodeLayer(ix.Tile(13, 6983, 3174))
	assert.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeLayersGarbage(t *testing.T) {
	_, err := DecodeLayers([]byte{0xff, 0xff, 0xff, 0xff})
	assert.Error(t, err)
}
