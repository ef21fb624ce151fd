package capture

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/ppiankov/proofpack/internal/browser"
	"github.com/ppiankov/proofpack/internal/chain"
	"github.com/ppiankov/proofpack/internal/model"
)

type frameInfo struct {
	Index int    `json:"index"`
	Src   string `json:"src"`
	Ready bool   `json:"ready"`
}

// FrameIsolate captures only the document inside an embedded frame whose
// address matches a pattern. Falls back to FullPage, degraded.
type FrameIsolate struct {
	pattern *regexp.Regexp
	wait    time.Duration
	poll    time.Duration
	full    *FullPage
	logger  *slog.Logger
}

// NewFrameIsolate creates the frame strategy
func NewFrameIsolate(cfg model.CaptureConfig, full *FullPage, logger *slog.Logger) (*FrameIsolate, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var pattern *regexp.Regexp
	if cfg.FramePattern != "" {
		p, err := regexp.Compile(cfg.FramePattern)
		if err != nil {
			return nil, fmt.Errorf("compile frame pattern: %w", err)
		}
		pattern = p
	}

	return &FrameIsolate{
		pattern: pattern,
		wait:    cfg.FrameWait,
		poll:    250 * time.Millisecond,
		full:    full,
		logger:  logger,
	}, nil
}

// Capture locates the frame, expands it and clips its inner document root
func (f *FrameIsolate) Capture(ctx context.Context, page browser.Page, kind model.EvidenceKind, pathBase string) (model.EvidenceArtifact, error) {
	res, err := chain.Run(ctx,
		chain.Step[model.EvidenceArtifact]{
			Name: StepFrame,
			Run: func(ctx context.Context) (model.EvidenceArtifact, chain.Outcome, error) {
				return f.isolate(ctx, page, kind, pathBase)
			},
		},
		chain.Step[model.EvidenceArtifact]{
			Name: StepFullPage,
			Run: func(ctx context.Context) (model.EvidenceArtifact, chain.Outcome, error) {
				a, err := f.full.Capture(ctx, page, kind, pathBase)
				if err != nil {
					return a, chain.Failed, err
				}
				return a.Degrade("embedded frame not found"), chain.Matched, nil
			},
		},
	)
	if err != nil {
		return model.Missing(kind, err.Error()), err
	}
	return res.Value, nil
}

func (f *FrameIsolate) isolate(ctx context.Context, page browser.Page, kind model.EvidenceKind, pathBase string) (model.EvidenceArtifact, chain.Outcome, error) {
	frame, ok, err := f.await(ctx, page)
	if err != nil || !ok {
		return model.EvidenceArtifact{}, chain.NotApplicable, err
	}

	var clip *browser.Rect
	expand := browser.Script{
		Name:   "frame.expand",
		Source: fmt.Sprintf(frameExpandJS, frame.Index),
	}
	if err := page.Evaluate(ctx, expand, &clip); err != nil {
		return model.EvidenceArtifact{}, chain.Failed, err
	}
	if clip == nil || clip.Empty() {
		// Cross-origin or empty documents cannot be isolated
		return model.EvidenceArtifact{}, chain.Failed, fmt.Errorf("frame %s has no measurable document", frame.Src)
	}

	path, err := shoot(ctx, page, clip, pathBase)
	if err != nil {
		return model.EvidenceArtifact{}, chain.Failed, err
	}

	f.logger.Debug("captured embedded frame", "kind", kind, "src", frame.Src)

	return model.EvidenceArtifact{
		Kind:     kind,
		Status:   model.StatusCaptured,
		FilePath: path,
		Strategy: StepFrame,
	}, chain.Matched, nil
}

// await polls for a matching frame whose document finished loading. It
// returns false when none appears within the wait.
func (f *FrameIsolate) await(ctx context.Context, page browser.Page) (frameInfo, bool, error) {
	deadline := time.NewTimer(f.wait)
	defer deadline.Stop()

	ticker := time.NewTicker(f.poll)
	defer ticker.Stop()

	for {
		frames, err := f.frames(ctx, page)
		if err != nil {
			return frameInfo{}, false, err
		}
		for _, fr := range frames {
			if fr.Ready && f.matches(fr.Src) {
				return fr, true, nil
			}
		}

		select {
		case <-ctx.Done():
			return frameInfo{}, false, ctx.Err()
		case <-deadline.C:
			f.logger.Debug("embedded frame wait expired", "wait", f.wait, "frames", len(frames))
			return frameInfo{}, false, nil
		case <-ticker.C:
		}
	}
}

// frames lists every iframe on the page
func (f *FrameIsolate) frames(ctx context.Context, page browser.Page) ([]frameInfo, error) {
	var frames []frameInfo
	if err := page.Evaluate(ctx, browser.Script{Name: "frame.list", Source: frameListJS}, &frames); err != nil {
		return nil, err
	}
	return frames, nil
}

func (f *FrameIsolate) matches(src string) bool {
	return f.pattern == nil || f.pattern.MatchString(src)
}

// frameListJS reports each iframe's address and load state. Same-origin
// frames without a src report their document address.
const frameListJS = `Array.from(document.querySelectorAll('iframe')).map((f, i) => {
  let src = f.getAttribute('src') || '', ready = false;
  try {
    const d = f.contentDocument;
    if (d) {
      ready = d.readyState === 'complete';
      if (!src || src === 'about:blank') src = d.location.href;
    }
  } catch (e) {}
  return { index: i, src: src, ready: ready };
})`

// frameExpandJS args: frame index. Returns the inner root rect in outer
// document coordinates, or null.
const frameExpandJS = `(() => {
  const f = document.querySelectorAll('iframe')[%d];
  if (!f) return null;
  let d;
  try { d = f.contentDocument; } catch (e) { return null; }
  if (!d || !d.documentElement) return null;
  const root = d.documentElement;
  [root, d.body].forEach(el => {
    if (!el) return;
    el.style.setProperty('height', 'auto', 'important');
    el.style.setProperty('overflow', 'visible', 'important');
  });
  const h = Math.max(root.scrollHeight, d.body ? d.body.scrollHeight : 0);
  f.style.setProperty('height', h + 'px', 'important');
  f.style.setProperty('max-height', 'none', 'important');
  const fr = f.getBoundingClientRect();
  const rr = root.getBoundingClientRect();
  return {
    x: fr.left + f.clientLeft + rr.left + window.scrollX,
    y: fr.top + f.clientTop + rr.top + window.scrollY,
    width: Math.min(Math.max(rr.width, root.scrollWidth), f.clientWidth || rr.width),
    height: h
  };
})()`
