package contract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config holds S3-compatible storage settings for exported contracts
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

// ObjectPutter is the subset of the minio client used for exports
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ExportStore archives exported contract PDFs
type ExportStore struct {
	client ObjectPutter
	bucket string
}

// NewExportStore connects to S3-compatible storage and makes sure the
// bucket exists.
func NewExportStore(ctx context.Context, cfg S3Config) (*ExportStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return NewExportStoreWithClient(client, cfg.Bucket), nil
}

// NewExportStoreWithClient wraps an existing client
func NewExportStoreWithClient(client ObjectPutter, bucket string) *ExportStore {
	return &ExportStore{client: client, bucket: bucket}
}

// ObjectKey is the storage key of an agreement's exported contract
func ObjectKey(agreementID, filename string) string {
	return path.Join("contracts", agreementID, filename)
}

// Put uploads a rendered PDF and returns its object key
func (s *ExportStore) Put(ctx context.Context, agreementID, filename string, pdf []byte) (string, error) {
	key := ObjectKey(agreementID, filename)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(pdf), int64(len(pdf)), minio.PutObjectOptions{
		ContentType:        "application/pdf",
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", filename),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload contract %s: %w", key, err)
	}
	return key, nil
}
