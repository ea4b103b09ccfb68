package objectstore

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
)

type gcsUploader struct {
	bucket *storage.BucketHandle
	client *storage.Client
}

// ConnectGCS creates a storage client from credentials_file, or from
// application default credentials.
func ConnectGCS(ctx context.Context, settings config.Settings) (Uploader, error) {
	var opts []option.ClientOption
	if file := settings.String("credentials_file", ""); file != "" {
		opts = append(opts, option.WithCredentialsFile(file))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "create gcs client")
	}
	return &gcsUploader{bucket: client.Bucket(settings.String("bucket", "")), client: client}, nil
}

func (u *gcsUploader) Upload(ctx context.Context, key, contentType string, body io.Reader) error {
	w := u.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (u *gcsUploader) Close() error { return u.client.Close() }
