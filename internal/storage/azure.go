package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureProvider uploads archives to an Azure Blob Storage container
type AzureProvider struct {
	container azblob.ContainerURL
	name      string
}

// NewAzureProvider creates a container client with shared key credentials
func NewAzureProvider(cfg AzureConfig) (*AzureProvider, error) {
	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credentials: %w", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName))
	if err != nil {
		return nil, fmt.Errorf("failed to parse Azure service URL: %w", err)
	}

	return &AzureProvider{
		container: azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(cfg.ContainerName),
		name:      cfg.ContainerName,
	}, nil
}

func (p *AzureProvider) Name() ProviderType { return ProviderAzure }

// Upload sends localPath as a block blob named key
func (p *AzureProvider) Upload(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	blob := p.container.NewBlockBlobURL(key)
	_, err = azblob.UploadFileToBlockBlob(ctx, f, blob, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 16,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/octet-stream",
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to Azure: %w", key, err)
	}
	return fmt.Sprintf("azure://%s/%s", p.name, key), nil
}
