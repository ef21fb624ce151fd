// Package bundle packs an entity directory into a single deterministic
// archive ready for upload.
package bundle

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/proofpack/internal/model"
)

const (
	ManifestName  = "manifest.json"
	SignatureName = "manifest.json.asc"
)

// zipEpoch is the earliest time a zip header can hold. Every entry carries
// it so that identical directories produce identical archives.
var zipEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Manifest lists the artifacts of one entity with their digests
type Manifest struct {
	EntityID string         `json:"entity_id"`
	Files    []ManifestFile `json:"files"`
}

// ManifestFile is one manifest entry
type ManifestFile struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Bundler writes manifests and archives
type Bundler struct {
	signer *Signer
	logger *slog.Logger
}

// New creates a bundler. signer may be nil.
func New(signer *Signer, logger *slog.Logger) *Bundler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bundler{signer: signer, logger: logger}
}

// Pack archives dir into <parent>/<entityID>.zip. The manifest (and its
// signature when a signer is configured) is written into dir first and
// included in the archive.
func (b *Bundler) Pack(ctx context.Context, dir, entityID string) (model.Bundle, error) {
	dir = filepath.Clean(dir)

	names, err := artifactNames(dir)
	if err != nil {
		return model.Bundle{}, err
	}

	manifest, err := buildManifest(ctx, dir, entityID, names)
	if err != nil {
		return model.Bundle{}, err
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return model.Bundle{}, fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestName), data, 0o644); err != nil {
		return model.Bundle{}, fmt.Errorf("write manifest: %w", err)
	}
	names = append(names, ManifestName)

	if b.signer != nil {
		var sig bytes.Buffer
		if err := b.signer.Sign(&sig, bytes.NewReader(data)); err != nil {
			return model.Bundle{}, fmt.Errorf("sign manifest: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, SignatureName), sig.Bytes(), 0o644); err != nil {
			return model.Bundle{}, fmt.Errorf("write signature: %w", err)
		}
		names = append(names, SignatureName)
	}
	sort.Strings(names)

	key := entityID + ".zip"
	path := filepath.Join(filepath.Dir(dir), key)

	if err := writeArchive(ctx, dir, names, path); err != nil {
		return model.Bundle{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return model.Bundle{}, fmt.Errorf("stat archive: %w", err)
	}

	b.logger.Debug("bundle written",
		"entity_id", entityID,
		"path", path,
		"files", len(names),
		"size", info.Size(),
		"signed", b.signer != nil)

	return model.Bundle{
		EntityID: entityID,
		Dir:      dir,
		Path:     path,
		Key:      key,
		Size:     info.Size(),
	}, nil
}

// artifactNames lists the regular files of dir in lexical order. Partial
// writes and earlier manifests are left out.
func artifactNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read entity dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasSuffix(name, ".part") {
			continue
		}
		if name == ManifestName || name == SignatureName {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func buildManifest(ctx context.Context, dir, entityID string, names []string) (*Manifest, error) {
	manifest := &Manifest{EntityID: entityID, Files: make([]ManifestFile, 0, len(names))}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sum, size, err := digest(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		manifest.Files = append(manifest.Files, ManifestFile{Name: name, Size: size, SHA256: sum})
	}

	return manifest, nil
}

func digest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", filepath.Base(path), err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// writeArchive writes names from dir to path via a .part file
func writeArchive(ctx context.Context, dir string, names []string, path string) (err error) {
	tmp := path + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(tmp)
		}
	}()

	zw := zip.NewWriter(out)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addFile(zw, dir, name); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename archive: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, dir, name string) error {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: zipEpoch,
	})
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	return nil
}
