package fartiles

import (
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Reader resolves tile and metadata lookups against one opened archive
// without ever reading the whole file. The header, metadata block and
// directories are fetched lazily, at most once each: concurrent callers
// for the same block share a single in-flight fetch. A Reader is safe
// for concurrent use; create one per archive and close it exactly once.
type Reader struct {
	bucket    Bucket
	key       string
	closeOnce sync.Once
	closeErr  error

	group singleflight.Group

	mu       sync.RWMutex
	header   *Header
	metadata []byte
	dirs     map[string][]Entry
}

// NewReader wraps an already-open byte source. key addresses the
// archive within the bucket.
func NewReader(bucket Bucket, key string) *Reader {
	return &Reader{
		bucket: bucket,
		key:    key,
		dirs:   make(map[string][]Entry),
	}
}

// OpenReader opens an archive from a local path or a bucket URL.
func OpenReader(ctx context.Context, path string) (*Reader, error) {
	bucketURL, key, err := NormalizeBucketKey("", "", path)
	if err != nil {
		return nil, err
	}
	bucket, err := OpenBucket(ctx, bucketURL, "")
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return NewReader(bucket, key), nil
}

// Close releases the underlying byte source. Safe to call more than
// once; only the first call closes.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.bucket.Close()
	})
	return r.closeErr
}

func (r *Reader) fetch(ctx context.Context, offset uint64, length uint64) ([]byte, error) {
	body, err := r.bucket.NewRangeReader(ctx, r.key, int64(offset), int64(length))
	if err != nil {
		return nil, fmt.Errorf("fetching %s %d+%d: %w", r.key, offset, length, err)
	}
	defer body.Close()
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading %s %d+%d: %w", r.key, offset, length, err)
	}
	return b, nil
}

// GetHeader reads and parses the fixed-size header; cached for the life
// of the reader.
func (r *Reader) GetHeader(ctx context.Context) (Header, error) {
	r.mu.RLock()
	if r.header != nil {
		h := *r.header
		r.mu.RUnlock()
		return h, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do("header", func() (interface{}, error) {
		b, err := r.fetch(ctx, 0, HeaderLen)
		if err != nil {
			return Header{}, err
		}
		header, err := deserializeHeader(b)
		if err != nil {
			return Header{}, err
		}
		r.mu.Lock()
		r.header = &header
		r.mu.Unlock()
		return header, nil
	})
	if err != nil {
		return Header{}, err
	}
	return v.(Header), nil
}

// GetMetadata fetches and decompresses exactly the metadata block
// recorded in the header; cached after the first call. The returned
// bytes are the stored JSON, unparsed.
func (r *Reader) GetMetadata(ctx context.Context) ([]byte, error) {
	r.mu.RLock()
	if r.metadata != nil {
		m := r.metadata
		r.mu.RUnlock()
		return m, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do("metadata", func() (interface{}, error) {
		header, err := r.GetHeader(ctx)
		if err != nil {
			return nil, err
		}
		b, err := r.fetch(ctx, header.MetadataOffset, header.MetadataLength)
		if err != nil {
			return nil, err
		}
		metadata, err := decompress(b, header.InternalCompression)
		if err != nil {
			return nil, fmt.Errorf("metadata block: %w", err)
		}
		r.mu.Lock()
		r.metadata = metadata
		r.mu.Unlock()
		return metadata, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// GetMetadataParsed decodes the metadata block. Parse failures surface
// as an error value with a nil result.
func (r *Reader) GetMetadataParsed(ctx context.Context) (*Metadata, error) {
	raw, err := r.GetMetadata(ctx)
	if err != nil {
		return nil, err
	}
	return ParseMetadata(raw)
}

// directory fetches and caches one directory block. Directories are
// always gzip-framed by the entry codec regardless of the header's
// internal compression.
func (r *Reader) directory(ctx context.Context, offset uint64, length uint64) ([]Entry, error) {
	dirKey := fmt.Sprintf("dir:%d:%d", offset, length)

	r.mu.RLock()
	if entries, ok := r.dirs[dirKey]; ok {
		r.mu.RUnlock()
		return entries, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do(dirKey, func() (interface{}, error) {
		b, err := r.fetch(ctx, offset, length)
		if err != nil {
			return nil, err
		}
		entries, err := deserializeEntries(b)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.dirs[dirKey] = entries
		r.mu.Unlock()
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Entry), nil
}

// GetTile resolves one tile to its decompressed payload bytes. The
// second return is false when the archive simply has no entry for the
// coordinate, which is the normal case over a sparse dataset and not an
// error.
func (r *Reader) GetTile(ctx context.Context, z uint8, x uint32, y uint32) ([]byte, bool, error) {
	header, err := r.GetHeader(ctx)
	if err != nil {
		return nil, false, err
	}
	if z < header.MinZoom || z > header.MaxZoom {
		return nil, false, nil
	}

	tileID := ZxyToID(z, x, y)
	dirOffset, dirLength := header.RootOffset, header.RootLength

	for depth := 0; depth <= 3; depth++ {
		entries, err := r.directory(ctx, dirOffset, dirLength)
		if err != nil {
			return nil, false, err
		}
		entry, ok := findTile(entries, tileID)
		if !ok {
			return nil, false, nil
		}
		if entry.RunLength == 0 {
			// leaf directory pointer
			dirOffset = header.LeafDirectoryOffset + entry.Offset
			dirLength = uint64(entry.Length)
			continue
		}

		b, err := r.fetch(ctx, header.TileDataOffset+entry.Offset, uint64(entry.Length))
		if err != nil {
			return nil, false, err
		}
		data, err := decompress(b, header.TileCompression)
		if err != nil {
			return nil, false, fmt.Errorf("tile %d/%d/%d: %w", z, x, y, err)
		}
		return data, true, nil
	}

	return nil, false, fmt.Errorf("directory depth limit exceeded resolving %d/%d/%d", z, x, y)
}
