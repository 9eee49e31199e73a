package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gocloud.dev/blob"
	"gocloud.dev/blob/s3blob"

	"romdl/internal/config"
)

// S3Options configures the client used for s3:// locations. Empty fields
// fall back to the default AWS configuration chain.
type S3Options struct {
	Region          string
	Endpoint        string // for S3-compatible servers such as MinIO
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3OptionsFromConfig maps the storage config section to S3Options.
func S3OptionsFromConfig(cfg config.StorageConfig) S3Options {
	return S3Options{
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		UsePathStyle:    cfg.S3UsePathStyle,
	}
}

func openS3Bucket(ctx context.Context, bucket string, opts S3Options) (*blob.Bucket, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 location requires a bucket name")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return s3blob.OpenBucket(ctx, client, bucket, nil)
}
