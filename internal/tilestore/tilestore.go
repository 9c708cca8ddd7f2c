// Package tilestore uploads rendered tiles and terrain payloads to
// object storage: an S3 backend built on the same aws-sdk-go-v2 client
// plumbing a download path would use, generalized from GetObject to
// PutObject, and a generic gocloud.dev blob backend for local disk, GCS,
// or any other driver behind the same interface.
package tilestore

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/dankermu/digital-earth/internal/apperr"
)

// Backend selects which object-storage driver a Store uses.
type Backend string

const (
	BackendS3   Backend = "s3"
	BackendBlob Backend = "blob"
)

// Config configures a Store.
type Config struct {
	Backend Backend
	// S3Bucket/S3Prefix/S3Region configure BackendS3.
	S3Bucket string
	S3Prefix string
	S3Region string
	// BlobURL is a gocloud.dev bucket URL (e.g. "file:///data/tiles",
	// "gs://bucket") for BackendBlob.
	BlobURL string
}

// Store uploads a single object's bytes under key.
type Store interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64) error
	io.Closer
}

// New builds a Store for cfg.Backend.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendS3:
		return newS3Store(ctx, cfg)
	case BackendBlob:
		return newBlobStore(ctx, cfg)
	default:
		return nil, apperr.New(apperr.InvalidArgument, "unknown tilestore backend: "+string(cfg.Backend))
	}
}

type s3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

func newS3Store(ctx context.Context, cfg Config) (*s3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, apperr.New(apperr.InvalidArgument, "s3 backend requires S3Bucket")
	}
	region := cfg.S3Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageErr, "failed to load AWS config", err)
	}
	return &s3Store{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.S3Bucket,
		prefix: strings.Trim(cfg.S3Prefix, "/"),
	}, nil
}

func (s *s3Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func (s *s3Store) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	// s3.PutObject requires a seekable-or-known-length body; buffering
	// keeps the interface simple for the tile/terrain payload sizes this
	// package handles (single tiles and mesh payloads, not bulk archives).
	buf, err := io.ReadAll(r)
	if err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to read upload payload", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(buf),
	})
	if err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to upload object to S3", err)
	}
	return nil
}

func (s *s3Store) Close() error { return nil }

type blobStore struct {
	bucket *blob.Bucket
}

func newBlobStore(ctx context.Context, cfg Config) (*blobStore, error) {
	if cfg.BlobURL == "" {
		return nil, apperr.New(apperr.InvalidArgument, "blob backend requires BlobURL")
	}
	if _, err := url.Parse(cfg.BlobURL); err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, "invalid blob URL", err)
	}
	bucket, err := blob.OpenBucket(ctx, cfg.BlobURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageErr, "failed to open blob bucket", err)
	}
	return &blobStore{bucket: bucket}, nil
}

func (b *blobStore) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to read upload payload", err)
	}
	if err := b.bucket.WriteAll(ctx, key, data, nil); err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to upload object to blob bucket", err)
	}
	return nil
}

func (b *blobStore) Close() error { return b.bucket.Close() }
