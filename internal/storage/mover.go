package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ppiankov/proofpack/internal/model"
)

// RemoteMover uploads a bundle and then removes its local copies
type RemoteMover struct {
	store  ObjectStore
	logger *slog.Logger
}

// NewMover creates a mover over store
func NewMover(store ObjectStore, logger *slog.Logger) *RemoteMover {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteMover{store: store, logger: logger}
}

// Move uploads b and returns the durable URL. Local files are removed only
// after a successful upload; cleanup failures are logged and never turn a
// success into an error.
func (m *RemoteMover) Move(ctx context.Context, b model.Bundle) (string, error) {
	remoteURL, err := m.store.Put(ctx, b.Key, b.Path)
	if err != nil {
		return "", fmt.Errorf("move %s: %w", b.Key, err)
	}

	if err := os.Remove(b.Path); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("failed to remove archive", "entity_id", b.EntityID, "path", b.Path, "error", err)
	}
	if b.Dir != "" {
		if err := os.RemoveAll(b.Dir); err != nil {
			m.logger.Warn("failed to remove entity directory", "entity_id", b.EntityID, "dir", b.Dir, "error", err)
		}
	}

	m.logger.Debug("bundle moved", "entity_id", b.EntityID, "url", remoteURL, "size", b.Size)
	return remoteURL, nil
}
