package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/savethedate/payments/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.storage",
	fx.Provide(NewFromConfig),
)

var ErrStorageDisabled = errors.New("storage_disabled")

// Uploader stores generated report files.
type Uploader interface {
	Enabled() bool
	Upload(ctx context.Context, name string, body io.Reader, contentType string) (string, error)
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Uploader struct {
	client putObjectAPI
	bucket string
	prefix string
	region string
}

func NewS3Uploader(client putObjectAPI, bucket, prefix, region string) *S3Uploader {
	return &S3Uploader{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		region: region,
	}
}

func (u *S3Uploader) Enabled() bool { return true }

// Upload writes body under prefix/name and returns the object URL.
func (u *S3Uploader) Upload(ctx context.Context, name string, body io.Reader, contentType string) (string, error) {
	key := name
	if u.prefix != "" {
		key = path.Join(u.prefix, name)
	}
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", u.bucket, key, err)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, key), nil
}

type NoOpUploader struct{}

func (NoOpUploader) Enabled() bool { return false }

func (NoOpUploader) Upload(ctx context.Context, name string, body io.Reader, contentType string) (string, error) {
	return "", ErrStorageDisabled
}

func NewFromConfig(cfg config.Config, log *zap.Logger) (Uploader, error) {
	bucket := strings.TrimSpace(cfg.Reports.S3Bucket)
	if bucket == "" {
		log.Named("providers.storage").Info("reports bucket not set, report upload disabled")
		return NoOpUploader{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Reports.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3Uploader(s3.NewFromConfig(awsCfg), bucket, cfg.Reports.S3Prefix, cfg.Reports.AWSRegion), nil
}
