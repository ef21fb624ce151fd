// Package capture turns a ready page into evidence files.
//
// Three strategies are provided. FullPage captures the whole scrollable
// document. FrameIsolate captures only the document of an embedded frame.
// RegionCrop captures the most specific matching region of the page. Each
// strategy is an ordered fallback chain; whenever a fallback step produces
// the file the artifact is marked degraded.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ppiankov/proofpack/internal/browser"
	"github.com/ppiankov/proofpack/internal/model"
)

// Step names recorded on artifacts
const (
	StepFullPage = "full_page"
	StepFrame    = "embedded_frame"
	StepRegion   = "region"
)

// Strategy produces one evidence artifact from a ready page. pathBase is
// the output path without extension.
type Strategy interface {
	Capture(ctx context.Context, page browser.Page, kind model.EvidenceKind, pathBase string) (model.EvidenceArtifact, error)
}

// Set holds the configured strategies sharing one FullPage fallback
type Set struct {
	FullPage *FullPage
	Frame    *FrameIsolate
	Region   *RegionCrop
}

// NewSet builds all strategies from configuration
func NewSet(cfg model.CaptureConfig, logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = slog.Default()
	}

	full := NewFullPage(cfg, logger)
	frame, err := NewFrameIsolate(cfg, full, logger)
	if err != nil {
		return nil, err
	}

	return &Set{
		FullPage: full,
		Frame:    frame,
		Region:   NewRegionCrop(cfg, frame, full, logger),
	}, nil
}

// writeFile writes data next to path and renames it into place, so an
// interrupted capture never leaves a partial artifact
func writeFile(path string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("write %s: empty capture", path)
	}

	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// shoot captures clip (or the full document when nil) into pathBase.png
func shoot(ctx context.Context, page browser.Page, clip *browser.Rect, pathBase string) (string, error) {
	data, err := page.Screenshot(ctx, clip)
	if err != nil {
		return "", err
	}

	path := pathBase + ".png"
	if err := writeFile(path, data); err != nil {
		return "", err
	}
	return path, nil
}
