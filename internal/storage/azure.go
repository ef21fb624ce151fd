package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/ppiankov/proofpack/internal/model"
	"github.com/ppiankov/proofpack/internal/util"
)

const (
	archiveContentType = "application/zip"
	uploadConcurrency  = 4
	uploadTimeout      = 10 * time.Minute
)

// AzureStore puts bundles at the root of one blob container
type AzureStore struct {
	client    *azblob.Client
	container string
	logger    *slog.Logger
}

// NewAzureStore connects with the account connection string and makes sure
// the container exists
func NewAzureStore(ctx context.Context, cfg model.StorageConfig, logger *slog.Logger) (*AzureStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectionString == "" {
		return nil, errors.New("storage connection string is required")
	}
	if cfg.Container == "" {
		return nil, errors.New("storage container is required")
	}

	opts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Transport: util.NewHTTPClient(cfg.HTTPProxy, cfg.HTTPSProxy, uploadTimeout),
		},
	}

	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, opts)
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}

	s := &AzureStore{client: client, container: cfg.Container, logger: logger}
	if err := s.ensureContainer(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *AzureStore) ensureContainer(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if err == nil || bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil
	}
	return fmt.Errorf("create container %s: %w", s.container, err)
}

// Put uploads path as key and confirms the stored length. A blob whose
// length differs or cannot be read back is deleted so that a retry starts
// clean.
func (s *AzureStore) Put(ctx context.Context, key, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat archive: %w", err)
	}

	_, err = s.client.UploadFile(ctx, s.container, key, f, &azblob.UploadFileOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr(archiveContentType)},
		Concurrency: uploadConcurrency,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	blobClient := s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(key)

	props, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		s.discard(ctx, key)
		return "", fmt.Errorf("read properties of %s: %w", key, err)
	}
	if props.ContentLength == nil || *props.ContentLength != info.Size() {
		var remote int64 = -1
		if props.ContentLength != nil {
			remote = *props.ContentLength
		}
		s.discard(ctx, key)
		return "", fmt.Errorf("%w: %s is %d bytes remotely, %d locally", ErrVerify, key, remote, info.Size())
	}

	return blobClient.URL(), nil
}

// discard removes an unconfirmed blob, best effort
func (s *AzureStore) discard(ctx context.Context, key string) {
	if _, err := s.client.DeleteBlob(context.WithoutCancel(ctx), s.container, key, nil); err != nil {
		s.logger.Warn("failed to delete unconfirmed blob", "key", key, "error", err)
	}
}
