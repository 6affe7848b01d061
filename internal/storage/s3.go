package storage

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Storage implements Storage interface for AWS S3 and S3-compatible services.
type S3Storage struct {
	cfg      S3Config
	client   *s3.Client
	uploader *manager.Uploader
}

// S3Config holds S3-specific configuration.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	Endpoint        string // Optional custom endpoint
	Prefix          string // Optional prefix for all keys
}

// Provider implements Target.
func (c S3Config) Provider() string { return "s3" }

// Location implements Target.
func (c S3Config) Location() string { return path.Join(c.Bucket, c.Prefix) }

// Open implements Target.
func (c S3Config) Open(ctx context.Context) (Storage, error) {
	return NewS3Storage(c), nil
}

// NewS3Storage creates a new S3 storage provider. The client is created by Initialize.
func NewS3Storage(cfg S3Config) *S3Storage {
	return &S3Storage{cfg: cfg}
}

// Initialize implements Storage.Initialize.
func (s *S3Storage) Initialize(ctx context.Context) error {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(s.cfg.Region),
	}
	if s.cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.cfg.AccessKeyID, s.cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return fmt.Errorf("%w: failed to load AWS config: %w", ErrInit, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Path style for custom endpoints (MinIO and friends)
		if s.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.cfg.Bucket)}); err != nil {
		return fmt.Errorf("%w: bucket %s is not accessible: %w", ErrInit, s.cfg.Bucket, err)
	}

	s.client = client
	s.uploader = manager.NewUploader(client)
	return nil
}

// Upload implements Storage.Upload.
func (s *S3Storage) Upload(ctx context.Context, name string, reader io.Reader) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(s.getFullKey(name)),
		Body:        reader,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to upload to S3: %w", ErrUpload, err)
	}

	return nil
}

// Delete implements Storage.Delete. S3 answers deletes of missing keys with success.
func (s *S3Storage) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.getFullKey(name)),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to delete %s from S3: %w", ErrDelete, name, err)
	}

	return nil
}

// ListObjects implements Storage.ListObjects. S3 has no creation time; objects
// are written once, so LastModified is used in its place.
func (s *S3Storage) ListObjects(ctx context.Context) ([]Object, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
	}
	if s.cfg.Prefix != "" {
		input.Prefix = aws.String(s.getFullKey(""))
	}

	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to list S3 objects: %w", ErrList, err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil || obj.LastModified == nil {
				continue
			}
			objects = append(objects, Object{
				Name:      s.stripPrefix(*obj.Key),
				CreatedAt: obj.LastModified.UTC(),
			})
		}
	}

	return objects, nil
}

func (s *S3Storage) getFullKey(key string) string {
	return joinKey(s.cfg.Prefix, key)
}

func (s *S3Storage) stripPrefix(key string) string {
	return stripKeyPrefix(s.cfg.Prefix, key)
}
