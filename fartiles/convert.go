package fartiles

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
)

// Convert imports an MBTiles database (for example tippecanoe output)
// into the archive format. Two passes over the tiles table: one to
// assemble the sorted TileID set, one to copy the payloads through the
// deduplicating resolver in clustered order.
func Convert(logger *zap.Logger, input string, output string, progress bool) error {
	conn, err := sqlite.OpenConn(input, sqlite.OpenReadOnly)
	if err != nil {
		return fmt.Errorf("opening %s: %w", input, err)
	}
	defer conn.Close()

	header, metadataJSON, err := mbtilesMetadata(conn)
	if err != nil {
		return err
	}

	var totalTiles int64
	{
		stmt, _, err := conn.PrepareTransient("SELECT count(*) FROM tiles")
		if err != nil {
			return fmt.Errorf("counting tiles: %w", err)
		}
		defer stmt.Finalize()
		row, err := stmt.Step()
		if err != nil || !row {
			return fmt.Errorf("counting tiles: %w", err)
		}
		totalTiles = stmt.ColumnInt64(0)
	}
	if totalTiles == 0 {
		return fmt.Errorf("no tiles in %s", input)
	}

	logger.Info("assembling tile id set", zap.Int64("tiles", totalTiles))
	tileset := roaring64.New()
	{
		stmt, _, err := conn.PrepareTransient("SELECT zoom_level, tile_column, tile_row FROM tiles")
		if err != nil {
			return fmt.Errorf("scanning tiles: %w", err)
		}
		defer stmt.Finalize()

		var bar *progressbar.ProgressBar
		if progress {
			bar = progressbar.Default(totalTiles)
		}
		for {
			row, err := stmt.Step()
			if err != nil {
				return fmt.Errorf("scanning tiles: %w", err)
			}
			if !row {
				break
			}
			z := uint8(stmt.ColumnInt64(0))
			x := uint32(stmt.ColumnInt64(1))
			flippedY := uint32(stmt.ColumnInt64(2))
			y := (uint32(1) << z) - 1 - flippedY // mbtiles rows are TMS
			tileset.Add(ZxyToID(z, x, y))
			if bar != nil {
				bar.Add(1)
			}
		}
	}

	tmpTiles, err := os.CreateTemp(filepath.Dir(output), "fartiles-data-*")
	if err != nil {
		return fmt.Errorf("creating temp tile data file: %w", err)
	}
	defer os.Remove(tmpTiles.Name())
	defer tmpTiles.Close()

	logger.Info("copying tiles", zap.Uint64("tiles", tileset.GetCardinality()))
	res := newResolver(Gzip)
	{
		var bar *progressbar.ProgressBar
		if progress {
			bar = progressbar.Default(int64(tileset.GetCardinality()))
		}
		stmt := conn.Prep("SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?")

		var rawTile bytes.Buffer
		it := tileset.Iterator()
		for it.HasNext() {
			id := it.Next()
			z, x, y := IDToZxy(id)
			flippedY := (uint32(1) << z) - 1 - y

			stmt.BindInt64(1, int64(z))
			stmt.BindInt64(2, int64(x))
			stmt.BindInt64(3, int64(flippedY))

			hasRow, err := stmt.Step()
			if err != nil {
				return fmt.Errorf("reading tile %d/%d/%d: %w", z, x, y, err)
			}
			if !hasRow {
				return fmt.Errorf("missing row for tile %d/%d/%d", z, x, y)
			}

			rawTile.Reset()
			rawTile.ReadFrom(stmt.ColumnReader(0))
			if rawTile.Len() > 0 {
				if isNew, stored := res.addTile(id, append([]byte(nil), rawTile.Bytes()...)); isNew {
					if _, err := tmpTiles.Write(stored); err != nil {
						return fmt.Errorf("writing tile data: %w", err)
					}
				}
			}

			stmt.ClearBindings()
			stmt.Reset()
			if bar != nil {
				bar.Add(1)
			}
		}
	}

	if res.addressedTiles == 0 {
		return fmt.Errorf("no non-empty tiles in %s", input)
	}

	header.SpecVersion = 3
	header.Clustered = true
	header.InternalCompression = Gzip
	header.TileCompression = Gzip
	header.AddressedTilesCount = res.addressedTiles
	header.TileEntriesCount = uint64(len(res.entries))
	header.TileContentsCount = uint64(len(res.offsetMap))

	rootBytes, leavesBytes, _ := optimizeDirectories(res.entries, 16384-HeaderLen)
	metadataBytes := compressGzip(metadataJSON)

	header.RootOffset = HeaderLen
	header.RootLength = uint64(len(rootBytes))
	header.MetadataOffset = header.RootOffset + header.RootLength
	header.MetadataLength = uint64(len(metadataBytes))
	header.LeafDirectoryOffset = header.MetadataOffset + header.MetadataLength
	header.LeafDirectoryLength = uint64(len(leavesBytes))
	header.TileDataOffset = header.LeafDirectoryOffset + header.LeafDirectoryLength
	header.TileDataLength = res.offset

	tmpOut := output + ".tmp"
	size, err := assembleArchive(tmpOut, header, rootBytes, metadataBytes, leavesBytes, tmpTiles)
	if err != nil {
		os.Remove(tmpOut)
		return err
	}
	if err := os.Rename(tmpOut, output); err != nil {
		os.Remove(tmpOut)
		return fmt.Errorf("publishing archive: %w", err)
	}

	logger.Info("converted archive",
		zap.String("output", output),
		zap.Int64("bytes", size),
		zap.Uint64("tiles", res.addressedTiles))
	return nil
}

// mbtilesMetadata maps the mbtiles metadata table onto a header and a
// metadata JSON block.
func mbtilesMetadata(conn *sqlite.Conn) (Header, []byte, error) {
	var header Header
	jsonResult := make(map[string]interface{})

	stmt, _, err := conn.PrepareTransient("SELECT name, value FROM metadata")
	if err != nil {
		return header, nil, fmt.Errorf("reading metadata table: %w", err)
	}
	defer stmt.Finalize()

	for {
		row, err := stmt.Step()
		if err != nil {
			return header, nil, fmt.Errorf("reading metadata table: %w", err)
		}
		if !row {
			break
		}
		key := stmt.ColumnText(0)
		value := stmt.ColumnText(1)

		switch key {
		case "format":
			if value != "pbf" {
				return header, nil, fmt.Errorf("unsupported tile format %q, only pbf vector tiles", value)
			}
			header.TileType = Mvt
		case "bounds":
			parts := strings.Split(value, ",")
			if len(parts) != 4 {
				return header, nil, fmt.Errorf("malformed bounds %q", value)
			}
			coords := make([]float64, 4)
			for i, p := range parts {
				f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
				if err != nil {
					return header, nil, fmt.Errorf("malformed bounds %q: %w", value, err)
				}
				coords[i] = f
			}
			header.MinLonE7 = int32(coords[0] * 10000000)
			header.MinLatE7 = int32(coords[1] * 10000000)
			header.MaxLonE7 = int32(coords[2] * 10000000)
			header.MaxLatE7 = int32(coords[3] * 10000000)
		case "minzoom":
			i, err := strconv.ParseInt(value, 10, 8)
			if err != nil {
				return header, nil, fmt.Errorf("malformed minzoom %q: %w", value, err)
			}
			header.MinZoom = uint8(i)
		case "maxzoom":
			i, err := strconv.ParseInt(value, 10, 8)
			if err != nil {
				return header, nil, fmt.Errorf("malformed maxzoom %q: %w", value, err)
			}
			header.MaxZoom = uint8(i)
		case "json":
			var embedded map[string]interface{}
			if err := json.Unmarshal([]byte(value), &embedded); err == nil {
				for k, v := range embedded {
					jsonResult[k] = v
				}
			}
		default:
			jsonResult[key] = value
		}
	}
	header.CenterZoom = header.MinZoom
	header.CenterLonE7 = (header.MinLonE7 + header.MaxLonE7) / 2
	header.CenterLatE7 = (header.MinLatE7 + header.MaxLatE7) / 2

	metadataJSON, err := json.Marshal(jsonResult)
	if err != nil {
		return header, nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return header, metadataJSON, nil
}
