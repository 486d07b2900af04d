package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalProvider copies archives into a directory
type LocalProvider struct {
	basePath string
}

// NewLocalProvider creates the target directory if needed
func NewLocalProvider(cfg LocalConfig) (*LocalProvider, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("local storage path is required")
	}
	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", cfg.Path, err)
	}
	return &LocalProvider{basePath: cfg.Path}, nil
}

func (p *LocalProvider) Name() ProviderType { return ProviderLocal }

// Upload copies localPath to basePath/key through a temporary file
func (p *LocalProvider) Upload(ctx context.Context, localPath, key string) (string, error) {
	dest := filepath.Join(p.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", dest, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: src}); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to copy %s: %w", localPath, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", err
	}
	return dest, nil
}

// ctxReader stops a copy once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
