package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioOptions configures a MinioSink.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	// Prefix is prepended to every object key.
	Prefix string
	Secure bool
}

// objectPutter is the slice of *minio.Client the sink uses.
type objectPutter interface {
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinioSink uploads images to an S3-compatible bucket.
type MinioSink struct {
	client objectPutter
	mc     *minio.Client
	opts   MinioOptions
}

func NewMinioSink(opts MinioOptions) (*MinioSink, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, errors.New("store: minio endpoint and bucket are required")
	}
	mc, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	return &MinioSink{client: mc, mc: mc, opts: opts}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *MinioSink) EnsureBucket(ctx context.Context) error {
	if s.mc == nil {
		return nil
	}
	ok, err := s.mc.BucketExists(ctx, s.opts.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.opts.Bucket, err)
	}
	if ok {
		return nil
	}
	if err := s.mc.MakeBucket(ctx, s.opts.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.opts.Bucket, err)
	}
	return nil
}

func (s *MinioSink) Put(ctx context.Context, name string, data []byte) (string, error) {
	key := path.Join(s.opts.Prefix, name)
	_, err := s.client.PutObject(ctx, s.opts.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: "image/jpeg"})
	if err != nil {
		return "", fmt.Errorf("upload %s to minio: %w", key, err)
	}
	return s.objectURL(key), nil
}

func (s *MinioSink) objectURL(key string) string {
	scheme := "http"
	if s.opts.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.opts.Endpoint, s.opts.Bucket, key)
}
