package blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the S3-compatible bucket media is externalized to.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string // non-empty for S3-compatible stores (MinIO, R2)
	PublicURLBase string // e.g. "https://media.example.com"; defaults to a bucket-virtual-host URL
	UsePathStyle bool
}

// S3Store implements Store against an S3-compatible bucket, using the
// upload manager so large documents stream instead of buffering.
type S3Store struct {
	uploader *manager.Uploader
	bucket   string
	urlBase  string
}

// NewS3Store builds an S3Store from cfg, loading AWS credentials the
// standard SDK way (env vars, shared config, IAM role).
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("blob: bucket is required")
	}

	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if ep := strings.TrimSpace(cfg.Endpoint); ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	urlBase := strings.TrimSuffix(cfg.PublicURLBase, "/")
	if urlBase == "" {
		urlBase = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}

	return &S3Store{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		urlBase:  urlBase,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, projectID, key string, data io.Reader, contentType string) (string, error) {
	objectKey := path.Join(projectID, key)
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
		Body:   data,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("blob: put object %s: %w", objectKey, err)
	}
	return s.urlBase + "/" + objectKey, nil
}
