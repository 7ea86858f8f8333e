// Package s3store provides an S3/MinIO implementation of artifact.Store.
package s3store

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/reliefnet/beacon/internal/artifact"
)

// Config holds S3 connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Store persists audio artifacts in an S3-compatible bucket.
type Store struct {
	client *minio.Client
	bucket string
	region string
}

// New creates a MinIO client from the Config.
func New(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

// EnsureBucket makes sure the artifact bucket exists before use.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Stat returns artifact metadata without reading the object.
func (s *Store) Stat(ctx context.Context, ref string) (*artifact.Info, error) {
	stat, err := s.client.StatObject(ctx, s.bucket, ref, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, artifact.ErrNotFound
		}
		return nil, fmt.Errorf("stat artifact %s: %w", ref, err)
	}
	return &artifact.Info{Ref: ref, Size: stat.Size, ContentType: stat.ContentType}, nil
}

// Open returns a reader over the artifact bytes plus its metadata.
func (s *Store) Open(ctx context.Context, ref string) (io.ReadCloser, *artifact.Info, error) {
	info, err := s.Stat(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("get artifact %s: %w", ref, err)
	}
	return obj, info, nil
}

// Put uploads an artifact.
func (s *Store) Put(ctx context.Context, ref string, r io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, ref, r, size, opts); err != nil {
		return fmt.Errorf("put artifact %s: %w", ref, err)
	}
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == 404
}
