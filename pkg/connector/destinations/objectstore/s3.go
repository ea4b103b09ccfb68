package objectstore

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
)

type s3Uploader struct {
	bucket   string
	uploader *manager.Uploader
}

// ConnectS3 loads the default AWS configuration for the region setting.
// An endpoint setting points the client at an S3-compatible store with
// path-style addressing.
func ConnectS3(ctx context.Context, settings config.Settings) (Uploader, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region := settings.String("region", ""); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "load aws configuration")
	}
	endpoint := settings.String("endpoint", "")
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &s3Uploader{
		bucket:   settings.String("bucket", ""),
		uploader: manager.NewUploader(client),
	}, nil
}

func (u *s3Uploader) Upload(ctx context.Context, key, contentType string, body io.Reader) error {
	_, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	return err
}

func (u *s3Uploader) Close() error { return nil }
