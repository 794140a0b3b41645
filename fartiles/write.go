package fartiles

import (
	"encoding/json"
	"fmt"
	"hash"
	"hash/fnv"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// BuildOptions parameterize a one-shot archive build.
type BuildOptions struct {
	// Name and Description are copied into the metadata block.
	Name        string
	Description string
	// Compression is the tile payload codec; Gzip when unset. Only
	// NoCompression and Gzip are supported on write.
	Compression Compression
	// SummaryZoom is the zoom whose tile coordinates are listed in the
	// sidecar; defaults to the index's max zoom.
	SummaryZoom uint8
	// Progress draws progress bars on the two build passes.
	Progress bool
}

// resolver accumulates directory entries for tile payloads, collapsing
// byte-identical payloads to one content block and runs of consecutive
// identical tiles to one run-length entry. Must be fed in strictly
// increasing TileID order.
type resolver struct {
	entries        []Entry
	offset         uint64
	offsetMap      map[string]offsetLen
	addressedTiles uint64
	compression    Compression
	hashfunc       hash.Hash
}

type offsetLen struct {
	offset uint64
	length uint32
}

func isGzipped(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

func newResolver(compression Compression) *resolver {
	return &resolver{
		offsetMap:   make(map[string]offsetLen),
		compression: compression,
		hashfunc:    fnv.New128a(),
	}
}

// addTile records one tile payload and reports whether its compressed
// bytes are new and must be appended to the tile data region.
func (r *resolver) addTile(tileID uint64, data []byte) (bool, []byte) {
	r.addressedTiles++
	r.hashfunc.Reset()
	r.hashfunc.Write(data)
	sum := string(r.hashfunc.Sum(nil))

	if found, ok := r.offsetMap[sum]; ok {
		last := r.entries[len(r.entries)-1]
		if tileID == last.TileID+uint64(last.RunLength) && last.Offset == found.offset {
			if last.RunLength == math.MaxUint32 {
				panic("maximum 32-bit run length exceeded")
			}
			r.entries[len(r.entries)-1].RunLength++
		} else {
			r.entries = append(r.entries, Entry{tileID, found.offset, found.length, 1})
		}
		return false, nil
	}

	stored := data
	if r.compression == Gzip && !isGzipped(data) {
		stored = compressGzip(data)
	}

	r.offsetMap[sum] = offsetLen{r.offset, uint32(len(stored))}
	r.entries = append(r.entries, Entry{tileID, r.offset, uint32(len(stored)), 1})
	r.offset += uint64(len(stored))
	return true, stored
}

// Build materializes a complete archive from an index: every non-empty
// tile of every zoom in the index's range, a directory addressing them,
// the metadata block and a fixed header, then the summary sidecar. The
// archive is assembled at a temporary path and renamed into place, so a
// failed build never leaves a partial file that looks valid.
func Build(logger *zap.Logger, ix *Index, output string, opts BuildOptions) (*Summary, error) {
	if opts.Compression == UnknownCompression {
		opts.Compression = Gzip
	}
	if opts.Compression != Gzip && opts.Compression != NoCompression {
		return nil, fmt.Errorf("unsupported tile compression codec %d", opts.Compression)
	}
	ixOpts := ix.Options()
	if opts.SummaryZoom == 0 {
		opts.SummaryZoom = ixOpts.MaxZoom
	}
	if ix.FeatureCount() == 0 {
		return nil, fmt.Errorf("no features to tile")
	}

	bound := ix.Bound()

	// Pass 1: assemble the candidate TileID set. The bitmap iterates in
	// increasing TileID order, which both sorts the directory and keeps
	// the tile data clustered.
	candidates := roaring64.New()
	for z := ixOpts.MinZoom; z <= ixOpts.MaxZoom; z++ {
		r := BoundsToTileRange(bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1], z)
		for x := r.MinX; x <= r.MaxX; x++ {
			for y := r.MinY; y <= r.MaxY; y++ {
				candidates.Add(ZxyToID(z, x, y))
			}
		}
	}
	logger.Info("assembled candidate tile set",
		zap.Uint64("candidates", candidates.GetCardinality()),
		zap.Uint8("minzoom", ixOpts.MinZoom),
		zap.Uint8("maxzoom", ixOpts.MaxZoom))

	tmpTiles, err := os.CreateTemp(filepath.Dir(output), "fartiles-data-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp tile data file: %w", err)
	}
	defer os.Remove(tmpTiles.Name())
	defer tmpTiles.Close()

	// Pass 2: materialize, encode and dedupe the non-empty tiles.
	res := newResolver(opts.Compression)
	var bar *progressbar.ProgressBar
	if opts.Progress {
		bar = progressbar.Default(int64(candidates.GetCardinality()))
	}
	var summaryCoords [][3]uint32

	it := candidates.Iterator()
	for it.HasNext() {
		id := it.Next()
		z, x, y := IDToZxy(id)

		layer := ix.Tile(z, x, y)
		if bar != nil {
			bar.Add(1)
		}
		if layer == nil {
			continue
		}

		data, err := EncodeLayer(layer)
		if err != nil {
			return nil, err
		}
		if isNew, stored := res.addTile(id, data); isNew {
			if _, err := tmpTiles.Write(stored); err != nil {
				return nil, fmt.Errorf("writing tile data: %w", err)
			}
		}
		if z == opts.SummaryZoom {
			summaryCoords = append(summaryCoords, [3]uint32{uint32(z), x, y})
		}
	}

	if res.addressedTiles == 0 {
		return nil, fmt.Errorf("no tiles produced between zoom %d and %d: input empty or out of range", ixOpts.MinZoom, ixOpts.MaxZoom)
	}

	logger.Info("tile pass complete",
		zap.Uint64("addressedTiles", res.addressedTiles),
		zap.Int("tileEntries", len(res.entries)),
		zap.Int("tileContents", len(res.offsetMap)))

	metadata := Metadata{
		Name:        opts.Name,
		Description: opts.Description,
		MinZoom:     ixOpts.MinZoom,
		MaxZoom:     ixOpts.MaxZoom,
		Bounds:      [4]float64{bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1]},
		VectorLayers: []VectorLayer{{
			ID:      ixOpts.Layer,
			MinZoom: ixOpts.MinZoom,
			MaxZoom: ixOpts.MaxZoom,
			Fields:  ix.Fields(),
		}},
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	metadataBytes := compressGzip(metadataJSON)

	rootBytes, leavesBytes, numLeaves := optimizeDirectories(res.entries, 16384-HeaderLen)
	if numLeaves > 0 {
		logger.Info("directory spilled to leaves",
			zap.Int("rootBytes", len(rootBytes)),
			zap.Int("leavesBytes", len(leavesBytes)),
			zap.Int("numLeaves", numLeaves))
	}

	header := Header{
		SpecVersion:         3,
		Clustered:           true,
		InternalCompression: Gzip,
		TileCompression:     opts.Compression,
		TileType:            Mvt,
		MinZoom:             ixOpts.MinZoom,
		MaxZoom:             ixOpts.MaxZoom,
		CenterZoom:          ixOpts.MinZoom,
		AddressedTilesCount: res.addressedTiles,
		TileEntriesCount:    uint64(len(res.entries)),
		TileContentsCount:   uint64(len(res.offsetMap)),
	}
	header.MinLonE7 = int32(bound.Min[0] * 10000000)
	header.MinLatE7 = int32(bound.Min[1] * 10000000)
	header.MaxLonE7 = int32(bound.Max[0] * 10000000)
	header.MaxLatE7 = int32(bound.Max[1] * 10000000)
	header.CenterLonE7 = int32((bound.Min[0] + bound.Max[0]) / 2 * 10000000)
	header.CenterLatE7 = int32((bound.Min[1] + bound.Max[1]) / 2 * 10000000)

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
		return nil, err
	}
	if err := os.Rename(tmpOut, output); err != nil {
		os.Remove(tmpOut)
		return nil, fmt.Errorf("publishing archive: %w", err)
	}

	summary := &Summary{
		Tiles:           int(res.addressedTiles),
		TileCoords:      summaryCoords,
		Output:          output,
		Size:            size,
		Layer:           ixOpts.Layer,
		Bounds:          metadata.Bounds,
		MinZoom:         ixOpts.MinZoom,
		MaxZoom:         ixOpts.MaxZoom,
		SummaryZoom:     opts.SummaryZoom,
		Fields:          ix.Fields(),
		GeojsonFeatures: ix.FeatureCount(),
		TileVersion:     tileVersion,
	}
	if err := WriteSummary(output, summary); err != nil {
		return nil, err
	}

	logger.Info("archive written",
		zap.String("output", output),
		zap.Int64("bytes", size),
		zap.Uint64("tiles", res.addressedTiles))
	return summary, nil
}

func assembleArchive(path string, header Header, rootBytes, metadataBytes, leavesBytes []byte, tileData *os.File) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating archive: %w", err)
	}
	defer out.Close()

	for _, block := range [][]byte{serializeHeader(header), rootBytes, metadataBytes, leavesBytes} {
		if _, err := out.Write(block); err != nil {
			return 0, fmt.Errorf("writing archive: %w", err)
		}
	}
	if _, err := tileData.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewinding tile data: %w", err)
	}
	if _, err := io.Copy(out, tileData); err != nil {
		return 0, fmt.Errorf("writing tile data: %w", err)
	}
	info, err := out.Stat()
	if err != nil {
		return 0, fmt.Errorf("sizing archive: %w", err)
	}
	return info.Size(), nil
}
