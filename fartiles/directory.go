package fartiles

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// Compression identifies the codec applied to tile payloads and to the
// archive's internal structures (directories, metadata).
type Compression uint8

const (
	UnknownCompression Compression = 0
	NoCompression      Compression = 1
	Gzip               Compression = 2
	Brotli             Compression = 3
	Zstd               Compression = 4
)

// TileType is the format of individual tile payloads.
type TileType uint8

const (
	UnknownTileType TileType = 0
	// Mvt is a Mapbox Vector Tile payload; the only type this tool writes.
	Mvt TileType = 1
)

// HeaderLen is the fixed size of the binary header at offset 0.
const HeaderLen = 127

// headerMagic makes archives readable by stock PMTiles v3 clients.
const headerMagic = "PMTiles"

// Header is the fixed-size archive header. All offsets are absolute
// file offsets except Entry.Offset values, which are relative to
// TileDataOffset.
type Header struct {
	SpecVersion         uint8
	RootOffset          uint64
	RootLength          uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafDirectoryOffset uint64
	LeafDirectoryLength uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	AddressedTilesCount uint64
	TileEntriesCount    uint64
	TileContentsCount   uint64
	Clustered           bool
	InternalCompression Compression
	TileCompression     Compression
	TileType            TileType
	MinZoom             uint8
	MaxZoom             uint8
	MinLonE7            int32
	MinLatE7            int32
	MaxLonE7            int32
	MaxLatE7            int32
	CenterZoom          uint8
	CenterLonE7         int32
	CenterLatE7         int32
}

// Bounds returns the header's geographic bounds in degrees.
func (h Header) Bounds() (minLon, minLat, maxLon, maxLat float64) {
	const e7 = 10000000.0
	return float64(h.MinLonE7) / e7, float64(h.MinLatE7) / e7,
		float64(h.MaxLonE7) / e7, float64(h.MaxLatE7) / e7
}

// Entry maps one TileID (or a run of consecutive TileIDs sharing the
// same payload) to a byte range inside the tile data region.
type Entry struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

func serializeEntries(entries []Entry) []byte {
	var b bytes.Buffer
	tmp := make([]byte, binary.MaxVarintLen64)
	w, _ := gzip.NewWriterLevel(&b, gzip.BestCompression)

	n := binary.PutUvarint(tmp, uint64(len(entries)))
	w.Write(tmp[:n])

	lastID := uint64(0)
	for _, entry := range entries {
		n = binary.PutUvarint(tmp, entry.TileID-lastID)
		w.Write(tmp[:n])
		lastID = entry.TileID
	}

	for _, entry := range entries {
		n = binary.PutUvarint(tmp, uint64(entry.RunLength))
		w.Write(tmp[:n])
	}

	for _, entry := range entries {
		n = binary.PutUvarint(tmp, uint64(entry.Length))
		w.Write(tmp[:n])
	}

	for i, entry := range entries {
		if i > 0 && entry.Offset == entries[i-1].Offset+uint64(entries[i-1].Length) {
			n = binary.PutUvarint(tmp, 0)
		} else {
			n = binary.PutUvarint(tmp, entry.Offset+1) // add 1 to not conflict with 0
		}
		w.Write(tmp[:n])
	}

	w.Close()
	return b.Bytes()
}

func deserializeEntries(data []byte) ([]Entry, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("directory: %w", err)
	}
	defer gz.Close()
	r := bufio.NewReader(gz)

	numEntries, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("directory entry count: %w", err)
	}

	entries := make([]Entry, numEntries)

	lastID := uint64(0)
	for i := range entries {
		delta, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("directory tile id: %w", err)
		}
		lastID += delta
		entries[i].TileID = lastID
	}

	for i := range entries {
		runLength, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("directory run length: %w", err)
		}
		entries[i].RunLength = uint32(runLength)
	}

	for i := range entries {
		length, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("directory length: %w", err)
		}
		entries[i].Length = uint32(length)
	}

	for i := range entries {
		offset, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("directory offset: %w", err)
		}
		if i > 0 && offset == 0 {
			entries[i].Offset = entries[i-1].Offset + uint64(entries[i-1].Length)
		} else {
			entries[i].Offset = offset - 1
		}
	}

	return entries, nil
}

// findTile binary-searches a directory for a TileID. A returned entry
// with RunLength == 0 points at a leaf directory rather than a tile.
func findTile(entries []Entry, tileID uint64) (Entry, bool) {
	m := 0
	n := len(entries) - 1
	for m <= n {
		k := (n + m) >> 1
		cmp := int64(tileID) - int64(entries[k].TileID)
		if cmp > 0 {
			m = k + 1
		} else if cmp < 0 {
			n = k - 1
		} else {
			return entries[k], true
		}
	}

	// at this point, m > n
	if n >= 0 {
		if entries[n].RunLength == 0 {
			return entries[n], true
		}
		if tileID-entries[n].TileID < uint64(entries[n].RunLength) {
			return entries[n], true
		}
	}
	return Entry{}, false
}

func serializeHeader(header Header) []byte {
	b := make([]byte, HeaderLen)
	copy(b[0:7], headerMagic)

	b[7] = 3
	binary.LittleEndian.PutUint64(b[8:8+8], header.RootOffset)
	binary.LittleEndian.PutUint64(b[16:16+8], header.RootLength)
	binary.LittleEndian.PutUint64(b[24:24+8], header.MetadataOffset)
	binary.LittleEndian.PutUint64(b[32:32+8], header.MetadataLength)
	binary.LittleEndian.PutUint64(b[40:40+8], header.LeafDirectoryOffset)
	binary.LittleEndian.PutUint64(b[48:48+8], header.LeafDirectoryLength)
	binary.LittleEndian.PutUint64(b[56:56+8], header.TileDataOffset)
	binary.LittleEndian.PutUint64(b[64:64+8], header.TileDataLength)
	binary.LittleEndian.PutUint64(b[72:72+8], header.AddressedTilesCount)
	binary.LittleEndian.PutUint64(b[80:80+8], header.TileEntriesCount)
	binary.LittleEndian.PutUint64(b[88:88+8], header.TileContentsCount)
	if header.Clustered {
		b[96] = 0x1
	}
	b[97] = uint8(header.InternalCompression)
	b[98] = uint8(header.TileCompression)
	b[99] = uint8(header.TileType)
	b[100] = header.MinZoom
	b[101] = header.MaxZoom
	binary.LittleEndian.PutUint32(b[102:102+4], uint32(header.MinLonE7))
	binary.LittleEndian.PutUint32(b[106:106+4], uint32(header.MinLatE7))
	binary.LittleEndian.PutUint32(b[110:110+4], uint32(header.MaxLonE7))
	binary.LittleEndian.PutUint32(b[114:114+4], uint32(header.MaxLatE7))
	b[118] = header.CenterZoom
	binary.LittleEndian.PutUint32(b[119:119+4], uint32(header.CenterLonE7))
	binary.LittleEndian.PutUint32(b[123:123+4], uint32(header.CenterLatE7))
	return b
}

func deserializeHeader(d []byte) (Header, error) {
	h := Header{}
	if len(d) < HeaderLen {
		return h, fmt.Errorf("header too short: %d bytes", len(d))
	}
	if string(d[0:7]) != headerMagic {
		return h, fmt.Errorf("magic number not detected: not a tile archive")
	}

	specVersion := d[7]
	if specVersion > 3 {
		return h, fmt.Errorf("archive is spec version %d, this program supports up to version 3", specVersion)
	}

	h.SpecVersion = specVersion
	h.RootOffset = binary.LittleEndian.Uint64(d[8 : 8+8])
	h.RootLength = binary.LittleEndian.Uint64(d[16 : 16+8])
	h.MetadataOffset = binary.LittleEndian.Uint64(d[24 : 24+8])
	h.MetadataLength = binary.LittleEndian.Uint64(d[32 : 32+8])
	h.LeafDirectoryOffset = binary.LittleEndian.Uint64(d[40 : 40+8])
	h.LeafDirectoryLength = binary.LittleEndian.Uint64(d[48 : 48+8])
	h.TileDataOffset = binary.LittleEndian.Uint64(d[56 : 56+8])
	h.TileDataLength = binary.LittleEndian.Uint64(d[64 : 64+8])
	h.AddressedTilesCount = binary.LittleEndian.Uint64(d[72 : 72+8])
	h.TileEntriesCount = binary.LittleEndian.Uint64(d[80 : 80+8])
	h.TileContentsCount = binary.LittleEndian.Uint64(d[88 : 88+8])
	h.Clustered = d[96] == 0x1
	h.InternalCompression = Compression(d[97])
	h.TileCompression = Compression(d[98])
	h.TileType = TileType(d[99])
	h.MinZoom = d[100]
	h.MaxZoom = d[101]
	h.MinLonE7 = int32(binary.LittleEndian.Uint32(d[102 : 102+4]))
	h.MinLatE7 = int32(binary.LittleEndian.Uint32(d[106 : 106+4]))
	h.MaxLonE7 = int32(binary.LittleEndian.Uint32(d[110 : 110+4]))
	h.MaxLatE7 = int32(binary.LittleEndian.Uint32(d[114 : 114+4]))
	h.CenterZoom = d[118]
	h.CenterLonE7 = int32(binary.LittleEndian.Uint32(d[119 : 119+4]))
	h.CenterLatE7 = int32(binary.LittleEndian.Uint32(d[123 : 123+4]))

	return h, nil
}

// decompress applies the codec recorded in the header to a fetched
// block.
func decompress(data []byte, codec Compression) ([]byte, error) {
	switch codec {
	case NoCompression:
		return data, nil
	case Gzip:
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		out, err := io.ReadAll(gz)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression codec %d", codec)
	}
}

func compressGzip(data []byte) []byte {
	var b bytes.Buffer
	w, _ := gzip.NewWriterLevel(&b, gzip.BestCompression)
	w.Write(data)
	w.Close()
	return b.Bytes()
}

func buildRootsLeaves(entries []Entry, leafSize int) ([]byte, []byte, int) {
	rootEntries := make([]Entry, 0)
	leavesBytes := make([]byte, 0)
	numLeaves := 0

	for idx := 0; idx < len(entries); idx += leafSize {
		numLeaves++
		end := idx + leafSize
		if end > len(entries) {
			end = len(entries)
		}
		serialized := serializeEntries(entries[idx:end])

		rootEntries = append(rootEntries, Entry{entries[idx].TileID, uint64(len(leavesBytes)), uint32(len(serialized)), 0})
		leavesBytes = append(leavesBytes, serialized...)
	}

	rootBytes := serializeEntries(rootEntries)
	return rootBytes, leavesBytes, numLeaves
}

// optimizeDirectories serializes entries into a root directory no
// larger than targetRootLen, spilling into leaf directories when the
// entry list is too big to fit.
func optimizeDirectories(entries []Entry, targetRootLen int) ([]byte, []byte, int) {
	if len(entries) < 16384 {
		testRootBytes := serializeEntries(entries)
		if len(testRootBytes) <= targetRootLen {
			return testRootBytes, nil, 0
		}
	}

	// iterative: grow the leaf directory size until the root fits
	leafSize := float32(len(entries)) / 3500
	if leafSize < 4096 {
		leafSize = 4096
	}

	for {
		rootBytes, leavesBytes, numLeaves := buildRootsLeaves(entries, int(leafSize))
		if len(rootBytes) <= targetRootLen {
			return rootBytes, leavesBytes, numLeaves
		}
		leafSize *= 1.2
	}
}
