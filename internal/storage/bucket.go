package storage

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
	_ "gocloud.dev/blob/s3blob"  // S3 driver
)

// BucketStore writes snapshots to a gocloud blob bucket.
type BucketStore struct {
	bucket *blob.Bucket
	scheme string
	name   string
	prefix string
}

// NewGCSStore creates a new GCS store.
func NewGCSStore(ctx context.Context, bucketName, prefix string) (*BucketStore, error) {
	bucket, err := blob.OpenBucket(ctx, fmt.Sprintf("gs://%s", bucketName))
	if err != nil {
		return nil, fmt.Errorf("open GCS bucket %s: %w", bucketName, err)
	}
	return NewBucketStore(bucket, "gs", bucketName, prefix), nil
}

// NewS3Store creates a new S3-compatible store.
// Works with AWS S3, Backblaze B2, Cloudflare R2, and MinIO.
func NewS3Store(ctx context.Context, bucketName, prefix, endpoint, region string) (*BucketStore, error) {
	bucket, err := blob.OpenBucket(ctx, s3URL(bucketName, endpoint, region))
	if err != nil {
		return nil, fmt.Errorf("open S3 bucket %s: %w", bucketName, err)
	}
	return NewBucketStore(bucket, "s3", bucketName, prefix), nil
}

// NewBucketStore wraps an open bucket. The store owns the bucket.
func NewBucketStore(bucket *blob.Bucket, scheme, name, prefix string) *BucketStore {
	return &BucketStore{
		bucket: bucket,
		scheme: scheme,
		name:   name,
		prefix: prefix,
	}
}

func s3URL(bucketName, endpoint, region string) string {
	bucketURL := fmt.Sprintf("s3://%s", bucketName)

	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("s3ForcePathStyle", "true")
	}
	if len(params) > 0 {
		bucketURL = bucketURL + "?" + params.Encode()
	}
	return bucketURL
}

// WriteParquet writes parquet bytes to the bucket.
func (s *BucketStore) WriteParquet(ctx context.Context, ref SnapshotRef, data []byte) error {
	return s.publish(ctx, ref.Path(s.prefix), data)
}

// WriteManifest writes the run manifest to the bucket.
func (s *BucketStore) WriteManifest(ctx context.Context, manifest *Manifest) error {
	data, err := manifest.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return s.publish(ctx, ManifestPath(s.prefix, manifest.RunID), data)
}

// publish writes to a temp key and copies it into place, so readers never
// see a partial object.
func (s *BucketStore) publish(ctx context.Context, key string, data []byte) error {
	tempKey := key + ".tmp." + uuid.New().String()

	if err := s.write(ctx, tempKey, data); err != nil {
		return err
	}
	defer s.bucket.Delete(ctx, tempKey)

	if err := s.bucket.Copy(ctx, key, tempKey, nil); err != nil {
		return fmt.Errorf("copy %s to %s: %w", tempKey, key, err)
	}
	return nil
}

func (s *BucketStore) write(ctx context.Context, key string, data []byte) error {
	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write data to %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}
	return nil
}

// URI returns the canonical URI for the given key.
func (s *BucketStore) URI(key string) string {
	return fmt.Sprintf("%s://%s/%s", s.scheme, s.name, key)
}

// Close releases the bucket connection.
func (s *BucketStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}
