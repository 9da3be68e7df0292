// Package fetch downloads release archives and unpacks them into the
// working directory.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// mirrors
	_ "gocloud.dev/blob/gcsblob"  // gs:// mirrors
	_ "gocloud.dev/blob/s3blob"   // s3:// mirrors
)

var (
	// ErrArchiveTooLarge is returned when an archive or one of its members
	// exceeds the configured limit.
	ErrArchiveTooLarge = errors.New("archive exceeds size limit")

	// ErrUnsafePath is returned for members that would extract outside the
	// target directory.
	ErrUnsafePath = errors.New("archive member escapes target directory")

	// ErrEmptyArchive is returned for zero-byte downloads.
	ErrEmptyArchive = errors.New("archive is empty")
)

// Config configures the fetcher.
type Config struct {
	BaseURL         string        // http(s)://, file://, s3:// or gs://
	MaxArchiveBytes int64         // 0 disables the limit
	MaxMemberBytes  int64         // 0 disables the limit
	Timeout         time.Duration // 0 waits indefinitely
}

// Result describes a downloaded and extracted archive.
type Result struct {
	RemoteName  string
	ArchivePath string
	Bytes       int64
	Checksum    string // sha256:<hex>
	Members     []string
}

// Fetcher retrieves archives from the base URL.
type Fetcher struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
}

// New creates a fetcher.
func New(cfg Config) *Fetcher {
	return &Fetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    slog.With("component", "fetch"),
	}
}

// Fetch downloads remoteName into localDir and extracts every member next to
// it. Any failure is logged with its cause and reported as false; the caller
// must skip the dataset.
func (f *Fetcher) Fetch(ctx context.Context, remoteName, localDir string) (*Result, bool) {
	res, err := f.FetchArchive(ctx, remoteName, localDir)
	if err != nil {
		f.log.Error(fmt.Sprintf("%s error: %v", remoteName, err), "archive", remoteName, "error", err)
		return nil, false
	}
	return res, true
}

// FetchArchive is Fetch with the underlying error returned.
func (f *Fetcher) FetchArchive(ctx context.Context, remoteName, localDir string) (*Result, error) {
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", localDir, err)
	}

	archivePath := filepath.Join(localDir, filepath.Base(remoteName))
	size, sum, err := f.download(ctx, remoteName, archivePath)
	if err != nil {
		return nil, err
	}
	f.log.Info(remoteName+" retrieved", "archive", remoteName, "bytes", size, "checksum", sum)

	members, err := Extract(archivePath, localDir, f.cfg.MaxMemberBytes)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", remoteName, err)
	}
	f.log.Info(remoteName+" extracted", "archive", remoteName, "members", len(members))

	return &Result{
		RemoteName:  remoteName,
		ArchivePath: archivePath,
		Bytes:       size,
		Checksum:    sum,
		Members:     members,
	}, nil
}

// download writes the remote archive to path via a temp file and rename.
func (f *Fetcher) download(ctx context.Context, remoteName, path string) (int64, string, error) {
	body, err := f.open(ctx, remoteName)
	if err != nil {
		return 0, "", err
	}
	defer body.Close()

	tempPath := path + ".tmp"
	out, err := os.Create(tempPath)
	if err != nil {
		return 0, "", fmt.Errorf("create %s: %w", tempPath, err)
	}

	h := sha256.New()
	n, err := copyLimited(io.MultiWriter(out, h), body, f.cfg.MaxArchiveBytes)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = ErrEmptyArchive
	}
	if err != nil {
		os.Remove(tempPath)
		return 0, "", fmt.Errorf("download %s: %w", remoteName, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return 0, "", fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}
	return n, checksum(h), nil
}

// open returns a reader for remoteName under the base URL.
func (f *Fetcher) open(ctx context.Context, remoteName string) (io.ReadCloser, error) {
	u, err := url.Parse(f.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		return f.openHTTP(ctx, joinURL(f.cfg.BaseURL, remoteName))
	default:
		return openBlob(ctx, f.cfg.BaseURL, remoteName)
	}
}

func (f *Fetcher) openHTTP(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: HTTP %d", rawURL, resp.StatusCode)
	}
	if limit := f.cfg.MaxArchiveBytes; limit > 0 && resp.ContentLength > limit {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d bytes", ErrArchiveTooLarge, resp.ContentLength)
	}
	return resp.Body, nil
}

// blobReader closes the bucket along with the object reader.
type blobReader struct {
	*blob.Reader
	bucket *blob.Bucket
}

func (r blobReader) Close() error {
	err := r.Reader.Close()
	if cerr := r.bucket.Close(); err == nil {
		err = cerr
	}
	return err
}

func openBlob(ctx context.Context, bucketURL, key string) (io.ReadCloser, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}

	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		bucket.Close()
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return blobReader{Reader: r, bucket: bucket}, nil
}

// Extract unpacks every member of the zip at archivePath into dir and
// returns the written paths.
func Extract(archivePath, dir string, maxMemberBytes int64) ([]string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	var written []string
	for _, zf := range zr.File {
		target := filepath.Join(root, zf.Name)
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return nil, fmt.Errorf("%w: %s", ErrUnsafePath, zf.Name)
		}

		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return nil, fmt.Errorf("create directory %s: %w", target, err)
			}
			continue
		}

		if maxMemberBytes > 0 && zf.UncompressedSize64 > uint64(maxMemberBytes) {
			return nil, fmt.Errorf("%w: member %s is %d bytes", ErrArchiveTooLarge, zf.Name, zf.UncompressedSize64)
		}
		if err := extractMember(zf, target, maxMemberBytes); err != nil {
			return nil, err
		}
		written = append(written, target)
	}
	return written, nil
}

func extractMember(zf *zip.File, target string, limit int64) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", target, err)
	}

	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("open member %s: %w", zf.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}

	_, err = copyLimited(out, rc, limit)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write member %s: %w", zf.Name, err)
	}
	return nil
}

// copyLimited copies src to dst and fails once more than limit bytes arrive.
// A limit of 0 copies everything.
func copyLimited(dst io.Writer, src io.Reader, limit int64) (int64, error) {
	if limit <= 0 {
		return io.Copy(dst, src)
	}
	n, err := io.Copy(dst, io.LimitReader(src, limit+1))
	if err != nil {
		return n, err
	}
	if n > limit {
		return n, fmt.Errorf("%w: more than %d bytes", ErrArchiveTooLarge, limit)
	}
	return n, nil
}

func joinURL(base, name string) string {
	if strings.HasSuffix(base, "/") {
		return base + name
	}
	return base + "/" + name
}

func checksum(h hash.Hash) string {
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
