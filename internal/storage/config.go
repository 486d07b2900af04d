package storage

import (
	"errors"
	"fmt"
	"strings"
)

// ProviderType names an upload target
type ProviderType string

const (
	ProviderLocal ProviderType = "local"
	ProviderS3    ProviderType = "s3"
	ProviderGCS   ProviderType = "gcs"
	ProviderAzure ProviderType = "azure"
)

// Config selects and configures the upload target. An empty Provider
// disables uploading.
type Config struct {
	Provider ProviderType `mapstructure:"provider" yaml:"provider"`
	Prefix   string       `mapstructure:"prefix" yaml:"prefix"`
	Local    LocalConfig  `mapstructure:"local" yaml:"local"`
	S3       S3Config     `mapstructure:"s3" yaml:"s3"`
	GCS      GCSConfig    `mapstructure:"gcs" yaml:"gcs"`
	Azure    AzureConfig  `mapstructure:"azure" yaml:"azure"`
}

// LocalConfig copies archives into another directory, e.g. a mounted share
type LocalConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// S3Config holds S3 (or S3-compatible) settings. Empty keys fall back to the
// AWS default credential chain.
type S3Config struct {
	Bucket         string `mapstructure:"bucket" yaml:"bucket"`
	Region         string `mapstructure:"region" yaml:"region"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey      string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey      string `mapstructure:"secret_key" yaml:"secret_key"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// GCSConfig holds Google Cloud Storage settings. Without a credentials file
// application default credentials are used.
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
}

// AzureConfig holds Azure Blob Storage settings
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"account_key"`
	ContainerName string `mapstructure:"container" yaml:"container"`
}

// Enabled reports whether an upload target is configured
func (c Config) Enabled() bool {
	return c.Provider != ""
}

// Validate checks the settings of the selected provider
func (c *Config) Validate() error {
	c.Provider = ProviderType(strings.ToLower(string(c.Provider)))

	var errs []error
	switch c.Provider {
	case "":
		return nil
	case ProviderLocal:
		if c.Local.Path == "" {
			errs = append(errs, errors.New("storage.local.path is required"))
		}
	case ProviderS3:
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required"))
		}
		if c.S3.Region == "" {
			errs = append(errs, errors.New("storage.s3.region is required"))
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			errs = append(errs, errors.New("storage.s3.access_key and secret_key must be set together"))
		}
	case ProviderGCS:
		if c.GCS.Bucket == "" {
			errs = append(errs, errors.New("storage.gcs.bucket is required"))
		}
	case ProviderAzure:
		if c.Azure.AccountName == "" {
			errs = append(errs, errors.New("storage.azure.account_name is required"))
		}
		if c.Azure.AccountKey == "" {
			errs = append(errs, errors.New("storage.azure.account_key is required"))
		}
		if c.Azure.ContainerName == "" {
			errs = append(errs, errors.New("storage.azure.container is required"))
		}
	default:
		return fmt.Errorf("unsupported storage provider: %s", c.Provider)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid %s storage configuration: %w", c.Provider, errors.Join(errs...))
	}
	return nil
}
