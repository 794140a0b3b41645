package fartiles

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// tileVersion marks the sidecar schema; bump when the summary shape
// changes incompatibly.
const tileVersion = 1

// Summary is the out-of-band sidecar written next to an archive:
// denormalized facts computed during the build so serve-time consumers
// never re-derive them from the binary. It is a cache keyed to one
// build; regenerating the archive regenerates the sidecar.
type Summary struct {
	Tiles           int               `json:"tiles"`
	TileCoords      [][3]uint32       `json:"tileCoords"`
	Output          string            `json:"output"`
	Size            int64             `json:"size"`
	Layer           string            `json:"layer"`
	Bounds          [4]float64        `json:"bounds"`
	MinZoom         uint8             `json:"minzoom"`
	MaxZoom         uint8             `json:"maxzoom"`
	SummaryZoom     uint8             `json:"summaryzoom"`
	Fields          map[string]string `json:"fields"`
	GeojsonFeatures int               `json:"geojsonFeatures"`
	TileVersion     int               `json:"tileVersion"`
}

// SummaryPath returns the sidecar path for an archive path: same base
// name with a .json extension.
func SummaryPath(archivePath string) string {
	ext := filepath.Ext(archivePath)
	return strings.TrimSuffix(archivePath, ext) + ".json"
}

// readSummarySidecar loads the sidecar bytes for a local archive path.
func readSummarySidecar(archivePath string) ([]byte, error) {
	if strings.HasPrefix(archivePath, "http") {
		return nil, fmt.Errorf("summary sidecars are only read from local paths")
	}
	data, err := os.ReadFile(SummaryPath(archivePath))
	if err != nil {
		return nil, err
	}
	return data, nil
}

// WriteSummary writes the sidecar next to the archive.
func WriteSummary(archivePath string, s *Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	path := SummaryPath(archivePath)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing summary %s: %w", path, err)
	}
	return nil
}
