package browser

import (
	"context"
	"log/slog"
	"time"

	"github.com/ppiankov/proofpack/internal/model"
)

// Gate waits for a page to reach a stable render state: the loading
// indicator is gone and the network has been quiet for a short window.
type Gate struct {
	loadingSelector string
	timeout         time.Duration
	quiet           time.Duration
	poll            time.Duration
	logger          *slog.Logger
}

// NewGate creates a gate from configuration
func NewGate(cfg model.GateConfig, logger *slog.Logger) *Gate {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Gate{
		loadingSelector: cfg.LoadingSelector,
		timeout:         cfg.Timeout,
		quiet:           cfg.QuietWindow,
		poll:            cfg.PollInterval,
		logger:          logger,
	}
}

// WaitUntilStable blocks until the page is stable or the timeout elapses.
// It returns false on timeout or cancellation and never fails the caller;
// capture proceeds either way.
func (g *Gate) WaitUntilStable(ctx context.Context, page Page) bool {
	start := time.Now()

	deadline := time.NewTimer(g.timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()

	for {
		if g.stable(ctx, page) {
			g.logger.Debug("page stable", "waited", time.Since(start))
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			g.logger.Debug("stable state timeout, continuing", "timeout", g.timeout)
			return false
		case <-ticker.C:
		}
	}
}

func (g *Gate) stable(ctx context.Context, page Page) bool {
	if g.loadingSelector != "" {
		visible, err := page.Visible(ctx, g.loadingSelector)
		if err != nil || visible {
			// Evaluation fails while a document is being replaced
			return false
		}
	}

	activity := page.Activity()
	if activity.Inflight > 0 {
		return false
	}
	return time.Since(activity.LastChange) >= g.quiet
}
