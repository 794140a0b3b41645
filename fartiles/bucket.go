package fartiles

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"gocloud.dev/blob"
)

// Bucket is a random byte-range source for archives: a local
// directory, a plain HTTP server, or a gocloud blob store. Reader logic
// is identical across all of them.
type Bucket interface {
	Close() error
	NewRangeReader(ctx context.Context, key string, offset int64, length int64) (io.ReadCloser, error)
	NewRangeReaderEtag(ctx context.Context, key string, offset int64, length int64, etag string) (io.ReadCloser, string, error)
}

// RefreshRequiredError indicates the archive changed underneath an
// etag-conditioned read.
type RefreshRequiredError struct {
	StatusCode int
}

func (m *RefreshRequiredError) Error() string {
	return fmt.Sprintf("etag mismatch indicates file has changed: %d", m.StatusCode)
}

// memBucket serves ranges from in-memory blobs; used by tests and by
// tooling operating on already-loaded archives.
type memBucket struct {
	items map[string][]byte
}

// NewMemBucket returns a Bucket serving the given keyed blobs.
func NewMemBucket(items map[string][]byte) Bucket {
	return memBucket{items: items}
}

func (m memBucket) Close() error { return nil }

func (m memBucket) NewRangeReader(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	body, _, err := m.NewRangeReaderEtag(ctx, key, offset, length, "")
	return body, err
}

func (m memBucket) NewRangeReaderEtag(_ context.Context, key string, offset, length int64, etag string) (io.ReadCloser, string, error) {
	bs, ok := m.items[key]
	if !ok {
		return nil, "", fmt.Errorf("not found: %s", key)
	}
	resultEtag := generateEtag(bs)
	if etag != "" && resultEtag != etag {
		return nil, "", &RefreshRequiredError{http.StatusPreconditionFailed}
	}
	if offset >= int64(len(bs)) {
		return nil, "", &RefreshRequiredError{http.StatusRequestedRangeNotSatisfiable}
	}
	end := offset + length
	if end > int64(len(bs)) {
		end = int64(len(bs))
	}
	return io.NopCloser(bytes.NewReader(bs[offset:end])), resultEtag, nil
}

// FileBucket serves ranges out of archives in a local directory.
type FileBucket struct {
	path string
}

// NewFileBucket returns a Bucket over the given directory.
func NewFileBucket(path string) *FileBucket {
	return &FileBucket{path: path}
}

func uintToBytes(n uint64) []byte {
	bs := make([]byte, 8)
	binary.LittleEndian.PutUint64(bs, n)
	return bs
}

func hasherToEtag(hasher *xxhash.Digest) string {
	sum := uintToBytes(hasher.Sum64())
	return fmt.Sprintf(`"%s"`, hex.EncodeToString(sum))
}

func generateEtag(data []byte) string {
	hasher := xxhash.New()
	hasher.Write(data)
	return hasherToEtag(hasher)
}

func generateEtagFromInts(ns ...int64) string {
	hasher := xxhash.New()
	for _, n := range ns {
		hasher.Write(uintToBytes(uint64(n)))
	}
	return hasherToEtag(hasher)
}

func (b FileBucket) NewRangeReader(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	body, _, err := b.NewRangeReaderEtag(ctx, key, offset, length, "")
	return body, err
}

func (b FileBucket) NewRangeReaderEtag(_ context.Context, key string, offset, length int64, etag string) (io.ReadCloser, string, error) {
	name := filepath.Join(b.path, key)
	file, err := os.Open(name)
	if err != nil {
		return nil, "", err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return nil, "", err
	}
	newEtag := generateEtagFromInts(info.ModTime().UnixNano(), info.Size())
	if etag != "" && etag != newEtag {
		return nil, "", &RefreshRequiredError{http.StatusPreconditionFailed}
	}

	result := make([]byte, length)
	read, err := file.ReadAt(result, offset)
	if err == io.EOF {
		return io.NopCloser(bytes.NewReader(result[0:read])), newEtag, nil
	}
	if err != nil {
		return nil, "", err
	}
	if read != int(length) {
		return nil, "", fmt.Errorf("expected to read %d bytes but read %d", length, read)
	}
	return io.NopCloser(bytes.NewReader(result)), newEtag, nil
}

func (b FileBucket) Close() error { return nil }

// HTTPClient lets tests swap the default client for a mock.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPBucket serves ranges with plain HTTP Range requests.
type HTTPBucket struct {
	baseURL string
	client  HTTPClient
}

func (b HTTPBucket) NewRangeReader(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	body, _, err := b.NewRangeReaderEtag(ctx, key, offset, length, "")
	return body, err
}

func (b HTTPBucket) NewRangeReaderEtag(ctx context.Context, key string, offset, length int64, etag string) (io.ReadCloser, string, error) {
	reqURL := b.baseURL + "/" + key

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	if etag != "" {
		req.Header.Set("If-Match", etag)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		if resp.StatusCode == http.StatusPreconditionFailed || resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
			return nil, "", &RefreshRequiredError{resp.StatusCode}
		}
		return nil, "", fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("ETag"), nil
}

func (b HTTPBucket) Close() error { return nil }

// BucketAdapter wraps a gocloud blob bucket. Archives are immutable
// once published, so the adapter does not wire provider-specific
// conditional reads; the etag it reports is always empty.
type BucketAdapter struct {
	Bucket *blob.Bucket
}

func (ba BucketAdapter) NewRangeReader(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	body, _, err := ba.NewRangeReaderEtag(ctx, key, offset, length, "")
	return body, err
}

func (ba BucketAdapter) NewRangeReaderEtag(ctx context.Context, key string, offset, length int64, _ string) (io.ReadCloser, string, error) {
	reader, err := ba.Bucket.NewRangeReader(ctx, key, offset, length, nil)
	if err != nil {
		return nil, "", err
	}
	return reader, "", nil
}

func (ba BucketAdapter) Close() error {
	return ba.Bucket.Close()
}

// NormalizeBucketKey splits a possibly-bare path into a bucket URL and
// a key within it.
func NormalizeBucketKey(bucket string, prefix string, key string) (string, string, error) {
	if bucket == "" {
		if strings.HasPrefix(key, "http") {
			u, err := url.Parse(key)
			if err != nil {
				return "", "", err
			}
			dir, file := path.Split(u.Path)
			dir = strings.TrimSuffix(dir, "/")
			return u.Scheme + "://" + u.Host + dir, file, nil
		}
		fileprotocol := "file://"
		if string(os.PathSeparator) != "/" {
			fileprotocol += "/"
		}
		if prefix != "" {
			abs, err := filepath.Abs(prefix)
			if err != nil {
				return "", "", err
			}
			return fileprotocol + filepath.ToSlash(abs), key, nil
		}
		abs, err := filepath.Abs(key)
		if err != nil {
			return "", "", err
		}
		return fileprotocol + filepath.ToSlash(filepath.Dir(abs)), filepath.Base(abs), nil
	}
	return bucket, key, nil
}

// OpenBucket opens a byte source for a bucket URL: http(s):// uses
// plain range requests, file:// a local directory, anything else the
// gocloud driver registry.
func OpenBucket(ctx context.Context, bucketURL string, bucketPrefix string) (Bucket, error) {
	if strings.HasPrefix(bucketURL, "http") {
		return HTTPBucket{bucketURL, http.DefaultClient}, nil
	}
	if strings.HasPrefix(bucketURL, "file") {
		fileprotocol := "file://"
		if string(os.PathSeparator) != "/" {
			fileprotocol += "/"
		}
		path := strings.Replace(bucketURL, fileprotocol, "", 1)
		return NewFileBucket(filepath.FromSlash(path)), nil
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	if bucketPrefix != "" && bucketPrefix != "/" && bucketPrefix != "." {
		bucket = blob.PrefixedBucket(bucket, path.Clean(bucketPrefix)+string(os.PathSeparator))
	}
	return BucketAdapter{bucket}, nil
}
