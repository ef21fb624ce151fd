package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ppiankov/proofpack/internal/browser"
	"github.com/ppiankov/proofpack/internal/bundle"
	"github.com/ppiankov/proofpack/internal/cache"
	"github.com/ppiankov/proofpack/internal/capture"
	"github.com/ppiankov/proofpack/internal/model"
	"github.com/ppiankov/proofpack/internal/orchestrator"
	"github.com/ppiankov/proofpack/internal/resolve"
	"github.com/ppiankov/proofpack/internal/storage"
	"github.com/ppiankov/proofpack/internal/util"
	"github.com/ppiankov/proofpack/internal/worker"
)

// UserAgent identifies proofpack to robots.txt
const UserAgent = "proofpack/1.0 (+https://github.com/ppiankov/proofpack)"

// ChromeSessions opens chromedp sessions from the browser configuration
type ChromeSessions struct {
	cfg    model.BrowserConfig
	logger *slog.Logger
}

// NewChromeSessions creates a session factory
func NewChromeSessions(cfg model.BrowserConfig, logger *slog.Logger) *ChromeSessions {
	return &ChromeSessions{cfg: cfg, logger: logger}
}

func (f *ChromeSessions) NewSession(ctx context.Context) (Session, error) {
	s, err := browser.NewSession(ctx, f.cfg, f.logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Build wires the production components from cfg
func Build(ctx context.Context, cfg *model.Config, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var delays worker.DelaySource
	if cfg.RateLimiting.RespectRobots {
		client := util.NewHTTPClient(cfg.Storage.HTTPProxy, cfg.Storage.HTTPSProxy, 10*time.Second)
		delays = util.NewRobotsChecker(UserAgent, client)
	}
	pacer := worker.NewPacer(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize, delays, logger)

	strategies, err := capture.NewSet(cfg.Capture, logger)
	if err != nil {
		return nil, fmt.Errorf("build capture strategies: %w", err)
	}

	orch := orchestrator.New(cfg,
		browser.NewGate(cfg.Gate, logger),
		resolve.New(cfg.Resolver, logger),
		strategies,
		pacer,
		logger)

	components := Components{
		Sessions: NewChromeSessions(cfg.Browser, logger),
		Capturer: orch,
	}

	if !cfg.Output.NoUpload {
		var signer *bundle.Signer
		if cfg.Storage.SigningKeyPath != "" {
			signer, err = bundle.LoadSigner(cfg.Storage.SigningKeyPath, cfg.Storage.SigningKeyPass)
			if err != nil {
				return nil, err
			}
		}
		components.Packer = bundle.New(signer, logger)

		store, err := storage.New(ctx, cfg.Storage, logger)
		if err != nil {
			return nil, fmt.Errorf("open object store: %w", err)
		}
		components.Mover = storage.NewMover(storage.WithRetry(store, cfg.Storage.UploadAttempts, logger), logger)
	}

	if cfg.Ledger.Enabled {
		namespace := "azure:" + cfg.Storage.Container
		if cfg.Storage.Provider == "dir" {
			namespace = "dir:" + cfg.Storage.Dir
		}
		components.Ledger = cache.NewLedger(cache.NewLayeredStore(cfg.Ledger.Dir, cfg.Ledger.TTL), namespace, cfg.Ledger.TTL)
	}

	return New(cfg, components, logger), nil
}
