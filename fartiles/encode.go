package fartiles

import (
	"fmt"

	"github.com/paulmach/orb/encoding/mvt"
)

// EncodeLayer serializes one tile's layer into an uncompressed Mapbox
// Vector Tile payload. Property keys and values are deduplicated into
// the layer dictionary and keys are emitted in sorted order, so the
// same layer content always encodes to the same bytes.
func EncodeLayer(layer *mvt.Layer) ([]byte, error) {
	data, err := mvt.Marshal(mvt.Layers{layer})
	if err != nil {
		return nil, fmt.Errorf("encoding layer %s: %w", layer.Name, err)
	}
	return data, nil
}

// DecodeLayers parses an uncompressed tile payload back into layers.
// Used by inspection tooling, not by the serving path.
func DecodeLayers(data []byte) (mvt.Layers, error) {
	layers, err := mvt.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decoding tile: %w", err)
	}
	return layers, nil
}
