package capture

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ppiankov/proofpack/internal/browser"
	"github.com/ppiankov/proofpack/internal/model"
)

// FullPage screenshots the whole scrollable document with side navigation
// hidden and scrollable containers expanded
type FullPage struct {
	override browser.OverrideSpec
	emitPDF  bool
	logger   *slog.Logger
}

// NewFullPage creates the full-page strategy
func NewFullPage(cfg model.CaptureConfig, logger *slog.Logger) *FullPage {
	if logger == nil {
		logger = slog.Default()
	}
	return &FullPage{
		override: browser.OverrideSpec{
			HiddenSelectors:  cfg.HiddenSelectors,
			ScrollContainers: cfg.ScrollContainers,
		},
		emitPDF: cfg.EmitPDF,
		logger:  logger,
	}
}

// Capture takes the screenshot (and optional PDF) under a DOM override that
// is released on every exit path
func (f *FullPage) Capture(ctx context.Context, page browser.Page, kind model.EvidenceKind, pathBase string) (model.EvidenceArtifact, error) {
	artifact := model.EvidenceArtifact{
		Kind:     kind,
		Status:   model.StatusCaptured,
		Strategy: StepFullPage,
	}

	ov, err := browser.AcquireOverride(ctx, page, f.override)
	if err != nil {
		// The page is still capturable, only possibly clipped
		f.logger.Warn("layout override failed, capturing as rendered", "kind", kind, "error", err)
		artifact = artifact.Degrade("layout override failed")
	} else {
		defer func() {
			if err := ov.Release(ctx); err != nil {
				f.logger.Warn("layout restore failed", "kind", kind, "error", err)
			}
		}()
	}

	path, err := shoot(ctx, page, nil, pathBase)
	if err != nil {
		return model.Missing(kind, err.Error()), fmt.Errorf("full page capture: %w", err)
	}
	artifact.FilePath = path

	if f.emitPDF {
		if doc, err := f.printPDF(ctx, page, pathBase); err != nil {
			f.logger.Warn("pdf export failed", "kind", kind, "error", err)
			artifact.Note = joinNote(artifact.Note, "pdf export failed")
		} else {
			artifact.DocumentPath = doc
		}
	}

	return artifact, nil
}

func (f *FullPage) printPDF(ctx context.Context, page browser.Page, pathBase string) (string, error) {
	data, err := page.PrintPDF(ctx)
	if err != nil {
		return "", err
	}
	path := pathBase + ".pdf"
	if err := writeFile(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func joinNote(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
