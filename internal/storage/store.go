// Package storage moves finished bundles to durable object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ppiankov/proofpack/internal/model"
)

// ErrVerify is returned when the stored object does not match the local file
var ErrVerify = errors.New("remote object verification failed")

// ObjectStore uploads a local file under key and returns its durable URL.
// Implementations must be safe for concurrent use.
type ObjectStore interface {
	Put(ctx context.Context, key, path string) (string, error)
}

// New selects the store named by cfg.Provider
func New(ctx context.Context, cfg model.StorageConfig, logger *slog.Logger) (ObjectStore, error) {
	switch cfg.Provider {
	case "azure", "":
		return NewAzureStore(ctx, cfg, logger)
	case "dir":
		return NewDirStore(cfg.Dir)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s (use azure or dir)", cfg.Provider)
	}
}
