package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var _ Uploader = (*MinioUploader)(nil)

// MinioUploader writes export bundles to an S3-compatible bucket.
type MinioUploader struct {
	client *minio.Client
	bucket string
}

func NewMinioUploader(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioUploader, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &MinioUploader{client: client, bucket: bucket}, nil
}

func (u *MinioUploader) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := u.client.PutObject(ctx, u.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (u *MinioUploader) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	signed, err := u.client.PresignedGetObject(ctx, u.bucket, key, ttl, nil)
	if err != nil {
		return "", err
	}
	return signed.String(), nil
}
