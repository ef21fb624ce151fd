package capture

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ppiankov/proofpack/internal/browser"
	"github.com/ppiankov/proofpack/internal/chain"
	"github.com/ppiankov/proofpack/internal/model"
)

type regionMatch struct {
	Selector string `json:"selector"`
	browser.Rect
}

// RegionCrop clips the first visible region among ordered candidate
// selectors. Without a match it delegates to FrameIsolate when the page
// embeds a frame, and to FullPage (degraded) otherwise.
type RegionCrop struct {
	selectors []string
	frame     *FrameIsolate
	full      *FullPage
	logger    *slog.Logger
}

// NewRegionCrop creates the region strategy
func NewRegionCrop(cfg model.CaptureConfig, frame *FrameIsolate, full *FullPage, logger *slog.Logger) *RegionCrop {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegionCrop{
		selectors: cfg.RegionSelectors,
		frame:     frame,
		full:      full,
		logger:    logger,
	}
}

func (r *RegionCrop) Capture(ctx context.Context, page browser.Page, kind model.EvidenceKind, pathBase string) (model.EvidenceArtifact, error) {
	res, err := chain.Run(ctx,
		chain.Step[model.EvidenceArtifact]{
			Name: StepRegion,
			Run: func(ctx context.Context) (model.EvidenceArtifact, chain.Outcome, error) {
				return r.crop(ctx, page, kind, pathBase)
			},
		},
		chain.Step[model.EvidenceArtifact]{
			Name: StepFrame,
			Run: func(ctx context.Context) (model.EvidenceArtifact, chain.Outcome, error) {
				frames, err := r.frame.frames(ctx, page)
				if err != nil || len(frames) == 0 {
					return model.EvidenceArtifact{}, chain.NotApplicable, nil
				}
				a, err := r.frame.Capture(ctx, page, kind, pathBase)
				if err != nil {
					return a, chain.Failed, err
				}
				return a, chain.Matched, nil
			},
		},
		chain.Step[model.EvidenceArtifact]{
			Name: StepFullPage,
			Run: func(ctx context.Context) (model.EvidenceArtifact, chain.Outcome, error) {
				a, err := r.full.Capture(ctx, page, kind, pathBase)
				if err != nil {
					return a, chain.Failed, err
				}
				return a.Degrade("no region matched"), chain.Matched, nil
			},
		},
	)
	if err != nil {
		return model.Missing(kind, err.Error()), err
	}
	return res.Value, nil
}

func (r *RegionCrop) crop(ctx context.Context, page browser.Page, kind model.EvidenceKind, pathBase string) (model.EvidenceArtifact, chain.Outcome, error) {
	if len(r.selectors) == 0 {
		return model.EvidenceArtifact{}, chain.NotApplicable, nil
	}

	var match *regionMatch
	locate := browser.Script{
		Name:   "region.rect",
		Source: fmt.Sprintf(regionRectJS, browser.JS(r.selectors)),
	}
	if err := page.Evaluate(ctx, locate, &match); err != nil {
		return model.EvidenceArtifact{}, chain.Failed, err
	}
	if match == nil || match.Empty() {
		return model.EvidenceArtifact{}, chain.NotApplicable, nil
	}

	clip := match.Rect
	path, err := shoot(ctx, page, &clip, pathBase)
	if err != nil {
		return model.EvidenceArtifact{}, chain.Failed, err
	}

	r.logger.Debug("captured region", "kind", kind, "selector", match.Selector)

	return model.EvidenceArtifact{
		Kind:     kind,
		Status:   model.StatusCaptured,
		FilePath: path,
		Strategy: StepRegion,
		Note:     match.Selector,
	}, chain.Matched, nil
}

// regionRectJS args: ordered selectors. Returns the first visible match in
// document coordinates, or null.
const regionRectJS = `(() => {
  for (const sel of %s) {
    let els;
    try { els = document.querySelectorAll(sel); } catch (e) { continue; }
    for (const el of els) {
      const s = getComputedStyle(el);
      if (s.display === 'none' || s.visibility === 'hidden') continue;
      const r = el.getBoundingClientRect();
      if (r.width < 1 || r.height < 1) continue;
      return {
        selector: sel,
        x: r.left + window.scrollX,
        y: r.top + window.scrollY,
        width: r.width,
        height: Math.max(r.height, el.scrollHeight)
      };
    }
  }
  return null;
})()`
