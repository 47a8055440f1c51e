package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/assetworks/asset-processing-service/internal/job"
)

// S3Config holds the configuration for the S3 chunk archive.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// S3Archiver uploads audio chunks to an S3 bucket under a per-job prefix.
type S3Archiver struct {
	client *s3.Client
	bucket string
	region string
}

// NewS3Archiver creates a new S3Archiver from the given configuration.
// Credentials fall back to the default AWS provider chain when not set.
func NewS3Archiver(cfg S3Config) (*S3Archiver, error) {
	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)

	return &S3Archiver{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
	}, nil
}

// ArchiveChunk uploads one chunk to s3://<bucket>/<jobID>/<chunkName>.
func (a *S3Archiver) ArchiveChunk(ctx context.Context, jobID string, chunk job.AudioChunk) (string, error) {
	key := path.Join(jobID, chunk.FileName)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(chunk.Data),
	})
	if err != nil {
		return "", fmt.Errorf("storage: upload chunk %s: %w", key, err)
	}

	url := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", a.bucket, a.region, key)
	return url, nil
}

// Verify interface implementation at compile time.
var _ ChunkArchiver = (*S3Archiver)(nil)
