package fartiles

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
)

// Show prints a human-readable dump of an archive's header and
// metadata. Read-only; never touches tile data.
func Show(ctx context.Context, out io.Writer, path string) error {
	reader, err := OpenReader(ctx, path)
	if err != nil {
		return err
	}
	defer reader.Close()

	header, err := reader.GetHeader(ctx)
	if err != nil {
		return err
	}

	var size string
	if info, err := os.Stat(path); err == nil {
		size = humanize.Bytes(uint64(info.Size()))
	} else {
		size = "unknown"
	}

	tileType := "unknown"
	if header.TileType == Mvt {
		tileType = "Vector Protobuf (MVT)"
	}
	compression := "unknown"
	switch header.TileCompression {
	case NoCompression:
		compression = "none"
	case Gzip:
		compression = "gzip"
	case Brotli:
		compression = "brotli"
	case Zstd:
		compression = "zstd"
	}

	minLon, minLat, maxLon, maxLat := header.Bounds()
	fmt.Fprintf(out, "total size: %s\n", size)
	fmt.Fprintf(out, "tile type: %s\n", tileType)
	fmt.Fprintf(out, "tile compression: %s\n", compression)
	fmt.Fprintf(out, "bounds: %f,%f %f,%f\n", minLon, minLat, maxLon, maxLat)
	fmt.Fprintf(out, "min zoom: %d\n", header.MinZoom)
	fmt.Fprintf(out, "max zoom: %d\n", header.MaxZoom)
	fmt.Fprintf(out, "addressed tiles count: %d\n", header.AddressedTilesCount)
	fmt.Fprintf(out, "tile entries count: %d\n", header.TileEntriesCount)
	fmt.Fprintf(out, "tile contents count: %d\n", header.TileContentsCount)
	fmt.Fprintf(out, "clustered: %t\n", header.Clustered)

	metadata, err := reader.GetMetadataParsed(ctx)
	if err != nil {
		fmt.Fprintf(out, "%v\n", err)
		return nil
	}
	fmt.Fprintf(out, "name: %s\n", metadata.Name)
	fmt.Fprintf(out, "description: %s\n", metadata.Description)
	for _, layer := range metadata.VectorLayers {
		fmt.Fprintf(out, "layer %s (zoom %d-%d):\n", layer.ID, layer.MinZoom, layer.MaxZoom)
		for name, typ := range layer.Fields {
			fmt.Fprintf(out, "  %s: %s\n", name, typ)
		}
	}
	return nil
}

// ShowTile prints a feature sample for one tile, or writes the raw
// decompressed payload to out when raw is set.
func ShowTile(ctx context.Context, out io.Writer, path string, z uint8, x uint32, y uint32, raw bool, sampleSize int) error {
	reader, err := OpenReader(ctx, path)
	if err != nil {
		return err
	}
	defer reader.Close()

	data, found, err := reader.GetTile(ctx, z, x, y)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("tile %d/%d/%d not found in archive", z, x, y)
	}

	if raw {
		_, err = out.Write(data)
		return err
	}

	layers, err := DecodeLayers(data)
	if err != nil {
		return err
	}
	for _, layer := range layers {
		fmt.Fprintf(out, "layer %s: %d features, extent %d\n", layer.Name, len(layer.Features), layer.Extent)
		for i, f := range layer.Features {
			if sampleSize > 0 && i >= sampleSize {
				fmt.Fprintf(out, "  ... %d more\n", len(layer.Features)-i)
				break
			}
			fmt.Fprintf(out, "  id=%v type=%s properties=%v\n", f.ID, f.Geometry.GeoJSONType(), f.Properties)
		}
	}
	return nil
}
