package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSProvider uploads archives to a Google Cloud Storage bucket
type GCSProvider struct {
	client *storage.Client
	bucket string
}

// NewGCSProvider creates a storage client from cfg
func NewGCSProvider(ctx context.Context, cfg GCSConfig) (*GCSProvider, error) {
	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSProvider{client: client, bucket: cfg.Bucket}, nil
}

func (p *GCSProvider) Name() ProviderType { return ProviderGCS }

// Upload streams localPath to gs://bucket/key
func (p *GCSProvider) Upload(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := p.client.Bucket(p.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to write %s to GCS: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to upload %s to GCS: %w", key, err)
	}
	return fmt.Sprintf("gs://%s/%s", p.bucket, key), nil
}

// Close releases the client
func (p *GCSProvider) Close() error {
	return p.client.Close()
}
