// Package storage publishes pre-rendered documents. The pre-render worker
// writes finished pages here so a static host or CDN origin can serve them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"go.uber.org/zap"
)

// DocumentStore persists rendered documents under logical page paths
type DocumentStore interface {
	// PutDocument stores a rendered document and returns its served URL
	PutDocument(ctx context.Context, pagePath string, document []byte, metadata map[string]string) (string, error)

	// GetDocument retrieves a previously stored document by page path
	GetDocument(ctx context.Context, pagePath string) ([]byte, error)
}

// AzureBlobStore implements DocumentStore on Azure Blob Storage using shared
// keys, so local Azurite instances over plain HTTP work for development.
type AzureBlobStore struct {
	client        *azblob.Client
	serviceURL    string
	containerName string
	logger        *zap.Logger
	containerInit atomic.Bool
}

// NewAzureBlobStore creates a document store from a standard connection string
func NewAzureBlobStore(connectionString, containerName string, logger *zap.Logger) (*AzureBlobStore, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if connectionString == "" {
		return nil, errors.New("connection string is required")
	}
	if containerName == "" {
		return nil, errors.New("container name is required")
	}

	params := parseConnectionString(connectionString)
	accountName := params["AccountName"]
	accountKey := params["AccountKey"]
	serviceURL := params["BlobEndpoint"]
	if accountName == "" || accountKey == "" {
		return nil, errors.New("account name and key are required in the connection string")
	}
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", accountName)
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}

	var clientOpts *azblob.ClientOptions
	if strings.HasPrefix(strings.ToLower(serviceURL), "http://") {
		clientOpts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				InsecureAllowCredentialWithHTTP: true,
			},
		}
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &AzureBlobStore{
		client:        client,
		serviceURL:    strings.TrimRight(serviceURL, "/"),
		containerName: containerName,
		logger:        logger,
	}, nil
}

// PutDocument uploads a rendered document under pagePath
func (s *AzureBlobStore) PutDocument(ctx context.Context, pagePath string, document []byte, metadata map[string]string) (string, error) {
	if err := s.ensureContainer(ctx); err != nil {
		return "", err
	}

	metadataPtr := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		metadataPtr[k] = to.Ptr(v)
	}

	blobPath := normalizePagePath(pagePath)
	containerClient := s.client.ServiceClient().NewContainerClient(s.containerName)
	blobClient := containerClient.NewBlockBlobClient(blobPath)

	_, err := blobClient.UploadBuffer(ctx, document, &azblob.UploadBufferOptions{
		Metadata: metadataPtr,
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr("text/html; charset=utf-8"),
		},
	})
	if err != nil {
		s.logger.Error("Failed to upload document",
			zap.String("page_path", blobPath),
			zap.Int("size", len(document)),
			zap.Error(err))
		return "", fmt.Errorf("document upload failed: %w", err)
	}

	s.logger.Info("Uploaded rendered document",
		zap.String("page_path", blobPath),
		zap.Int("size_bytes", len(document)))

	return blobClient.URL(), nil
}

// GetDocument downloads the document stored under pagePath
func (s *AzureBlobStore) GetDocument(ctx context.Context, pagePath string) ([]byte, error) {
	blobPath := normalizePagePath(pagePath)
	containerClient := s.client.ServiceClient().NewContainerClient(s.containerName)
	blobClient := containerClient.NewBlobClient(blobPath)

	resp, err := blobClient.DownloadStream(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download document: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return data, nil
}

// ensureContainer creates the container on first use. Worker goroutines share
// the store, so the init flag is atomic; concurrent first calls may both issue
// the create, which the already-exists handling absorbs.
func (s *AzureBlobStore) ensureContainer(ctx context.Context) error {
	if s.containerInit.Load() {
		return nil
	}

	_, err := s.client.CreateContainer(ctx, s.containerName, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == "ContainerAlreadyExists" {
			s.containerInit.Store(true)
			return nil
		}
		if strings.Contains(strings.ToLower(err.Error()), "containeralreadyexists") {
			s.containerInit.Store(true)
			return nil
		}
		return fmt.Errorf("failed to ensure container: %w", err)
	}

	s.containerInit.Store(true)
	return nil
}

// normalizePagePath maps a page path like "/docs/intro" onto the blob key
// "docs/intro/index.html"; a trailing file name is kept as-is.
func normalizePagePath(pagePath string) string {
	p := strings.Trim(strings.TrimSpace(pagePath), "/")
	if p == "" {
		return "index.html"
	}
	last := p[strings.LastIndex(p, "/")+1:]
	if strings.Contains(last, ".") {
		return p
	}
	return p + "/index.html"
}

func parseConnectionString(connectionString string) map[string]string {
	parts := strings.Split(connectionString, ";")
	params := make(map[string]string, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.Index(part, "=")
		if idx <= 0 {
			continue
		}
		params[part[:idx]] = part[idx+1:]
	}
	return params
}
