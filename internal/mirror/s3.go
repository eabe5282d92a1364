// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pdiddy/enlitens-kb/internal/ledger"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// DefaultS3Bucket is used when no bucket is configured.
const DefaultS3Bucket = "enlitens-kb"

// objectStore is the subset of the MinIO client the archive uses.
type objectStore interface {
	PutObject(ctx context.Context, bucket, name string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3 archives each entry as entries/{document_id}.json in a bucket.
type S3 struct {
	store  objectStore
	bucket string
}

// NewS3 connects to an S3-compatible endpoint and creates the bucket if
// it does not exist.
func NewS3(ctx context.Context, cfg types.MirrorConfig) (*S3, error) {
	if cfg.S3Endpoint == "" {
		return nil, errors.New("s3 endpoint is empty")
	}
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client: %w", err)
	}
	bucket := cfg.S3Bucket
	if bucket == "" {
		bucket = DefaultS3Bucket
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", bucket, err)
		}
	}
	return &S3{store: client, bucket: bucket}, nil
}

// Name implements Mirror.
func (s *S3) Name() string { return "s3" }

// ObjectKey returns the archive key for documentID.
func ObjectKey(documentID string) string { return "entries/" + documentID + ".json" }

// Upsert writes the canonical entry JSON, replacing any earlier object.
func (s *S3) Upsert(ctx context.Context, entry *types.KnowledgeEntry) error {
	body, err := ledger.Canonical(entry)
	if err != nil {
		return err
	}
	_, err = s.store.PutObject(ctx, s.bucket, ObjectKey(entry.DocumentID), bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", entry.DocumentID, err)
	}
	return nil
}

// Close implements Mirror.
func (s *S3) Close() error { return nil }
