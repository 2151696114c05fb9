package filestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

const objectStoreService = "object-store"

// MinioConfig configures the bucket backend.
type MinioConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	Bucket        string
	PresignExpiry time.Duration
}

// MinioStore keeps files in an S3-compatible bucket and resolves them to
// presigned URLs.
type MinioStore struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewMinioStore connects and makes sure the bucket exists
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, expiry: expiry}, nil
}

func (s *MinioStore) Save(ctx context.Context, name string, data []byte) (string, error) {
	key, err := cleanKey(name)
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimetype.Detect(data).String(),
	})
	if err != nil {
		return "", domain.NewExternalServiceError(objectStoreService, fmt.Errorf("put %s: %w", key, err))
	}
	return key, nil
}

func (s *MinioStore) Resolve(ctx context.Context, location string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, location, s.expiry, url.Values{})
	if err != nil {
		return "", domain.NewExternalServiceError(objectStoreService, fmt.Errorf("presign %s: %w", location, err))
	}
	return u.String(), nil
}

func (s *MinioStore) Size(ctx context.Context, location string) (int64, error) {
	info, err := s.client.StatObject(ctx, s.bucket, location, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return 0, domain.ErrNotFound
		}
		return 0, domain.NewExternalServiceError(objectStoreService, fmt.Errorf("stat %s: %w", location, err))
	}
	return info.Size, nil
}

func (s *MinioStore) Read(ctx context.Context, location string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, location, minio.GetObjectOptions{})
	if err != nil {
		return nil, domain.NewExternalServiceError(objectStoreService, fmt.Errorf("get %s: %w", location, err))
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, domain.ErrNotFound
		}
		return nil, domain.NewExternalServiceError(objectStoreService, fmt.Errorf("read %s: %w", location, err))
	}
	return data, nil
}

var _ domain.FileStore = (*MinioStore)(nil)
