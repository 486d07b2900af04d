// Package storage copies finished backup archives to an off-host location.
package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Provider uploads one local file under key and returns where it landed
type Provider interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
	Name() ProviderType
}

// ObjectKey joins prefix and the base name of localPath with forward slashes
func ObjectKey(prefix, localPath string) string {
	name := filepath.Base(localPath)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// NewProvider builds the provider selected by cfg
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case ProviderLocal:
		return NewLocalProvider(cfg.Local)
	case ProviderS3:
		return NewS3Provider(cfg.S3)
	case ProviderGCS:
		return NewGCSProvider(ctx, cfg.GCS)
	case ProviderAzure:
		return NewAzureProvider(cfg.Azure)
	case "":
		return nil, fmt.Errorf("no storage provider configured")
	}
	return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
}

// SupportedProviders lists the accepted provider names
func SupportedProviders() []ProviderType {
	return []ProviderType{ProviderLocal, ProviderS3, ProviderGCS, ProviderAzure}
}
