package fartiles

import (
	"encoding/json"
	"fmt"
)

// VectorLayer describes one layer in the archive metadata, in the
// mbtiles vector_layers convention.
type VectorLayer struct {
	ID      string            `json:"id"`
	MinZoom uint8             `json:"minzoom"`
	MaxZoom uint8             `json:"maxzoom"`
	Fields  map[string]string `json:"fields"`
}

// Metadata is the archive's JSON metadata block. It is self-contained:
// everything a client needs to style and query the archive without
// touching tile data.
type Metadata struct {
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	MinZoom      uint8         `json:"minzoom"`
	MaxZoom      uint8         `json:"maxzoom"`
	Bounds       [4]float64    `json:"bounds"`
	VectorLayers []VectorLayer `json:"vector_layers"`
}

// ParseMetadata decodes a decompressed metadata block. A parse failure
// is reported as a value, not panicked past the caller, so diagnostic
// tooling can print "no metadata found: <reason>".
func ParseMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("no metadata found: %w", err)
	}
	return &m, nil
}
