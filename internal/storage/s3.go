package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"github.com/local/masterdoc/internal/config"
	"github.com/local/masterdoc/internal/ledger"
)

// S3Client wraps the AWS S3 client for content downloads and master archives.
type S3Client struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewS3Client builds a client from the S3 section of the configuration.
// Static keys are used when both are set; otherwise the default AWS chain.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*S3Client, error) {
	var opts []func(*awscfg.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awscfg.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Client{
		client:   cli,
		uploader: manager.NewUploader(cli),
		bucket:   cfg.Bucket,
	}, nil
}

// Bucket returns the configured default bucket.
func (s *S3Client) Bucket() string { return s.bucket }

// Download fetches an object. An empty bucket means the default bucket.
func (s *S3Client) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	if bucket == "" {
		bucket = s.bucket
	}
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *s3types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, ledger.Wrap(ledger.ErrNotFound, "s3", fmt.Sprintf("s3://%s/%s", bucket, key), err)
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object: %w", err)
	}
	log.Debug().Str("bucket", bucket).Str("key", key).Int("size", len(data)).Msg("downloaded object from S3")
	return data, nil
}

// UploadFile streams a local file to key in the default bucket using the
// multipart uploader and returns its s3:// URL.
func (s *S3Client) UploadFile(ctx context.Context, key, path, contentType string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	}); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	url := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	log.Info().Str("bucket", s.bucket).Str("key", key).Msg("uploaded file to S3")
	return url, nil
}

// HeadBucket checks the default bucket is reachable with the current credentials.
func (s *S3Client) HeadBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

// ParseURL splits s3://bucket/key.
func ParseURL(s3url string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(s3url, "s3://")
	if !ok {
		return "", "", fmt.Errorf("invalid s3 url: %s", s3url)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 url: %s", s3url)
	}
	return bucket, key, nil
}
