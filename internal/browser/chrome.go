package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/ppiankov/proofpack/internal/model"
)

// Session is one isolated browser with a single main tab
type Session struct {
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
	main          *chromePage
}

// NewSession starts (or attaches to) a browser. The authenticated state
// comes from the profile directory or from the remote browser itself.
func NewSession(ctx context.Context, cfg model.BrowserConfig, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc

	if cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
		)
		if cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
		}
		if cfg.UserDataDir != "" {
			opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
		}
		if cfg.ProxyServer != "" {
			opts = append(opts, chromedp.ProxyServer(cfg.ProxyServer))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	}

	debugf := func(format string, args ...interface{}) {
		logger.Debug(fmt.Sprintf(format, args...), "component", "chromedp")
	}
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(debugf),
		chromedp.WithErrorf(debugf),
	)

	main := newChromePage(browserCtx, browserCancel, cfg, false)
	if err := chromedp.Run(browserCtx, network.Enable()); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &Session{
		allocCancel:   allocCancel,
		browserCancel: browserCancel,
		main:          main,
	}, nil
}

// Page returns the main tab
func (s *Session) Page() Page {
	return s.main
}

// Close shuts the browser down
func (s *Session) Close() error {
	s.browserCancel()
	s.allocCancel()
	return nil
}

// chromePage implements Page on a chromedp tab context
type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    model.BrowserConfig
	popup  bool

	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	last     time.Time
}

func newChromePage(ctx context.Context, cancel context.CancelFunc, cfg model.BrowserConfig, popup bool) *chromePage {
	p := &chromePage{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		popup:    popup,
		inflight: make(map[network.RequestID]struct{}),
		last:     time.Now(),
	}
	chromedp.ListenTarget(ctx, p.onEvent)
	return p
}

func (p *chromePage) onEvent(ev interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		p.inflight[e.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		delete(p.inflight, e.RequestID)
	case *network.EventLoadingFailed:
		delete(p.inflight, e.RequestID)
	case *cdppage.EventFrameNavigated:
		// Requests of the previous document never report completion
		if e.Frame.ParentID == "" {
			p.inflight = make(map[network.RequestID]struct{})
		}
	default:
		return
	}
	p.last = time.Now()
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx
func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := context.WithTimeout(p.ctx, p.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if resp != nil && resp.Status >= 400 {
		return fmt.Errorf("navigate %s: unexpected status %d", url, resp.Status)
	}
	return nil
}

func (p *chromePage) Location(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, p.cfg.ActionTimeout, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

func (p *chromePage) Content(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, p.cfg.ActionTimeout, chromedp.Evaluate(`document.documentElement.outerHTML`, &html))
	if err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}
	return html, nil
}

func (p *chromePage) Visible(ctx context.Context, selector string) (bool, error) {
	var visible bool
	err := p.run(ctx, p.cfg.ActionTimeout, chromedp.Evaluate(fmt.Sprintf(visibleJS, JS(selector)), &visible))
	return visible, err
}

func (p *chromePage) Click(ctx context.Context, selector string) (Page, error) {
	self := chromedp.FromContext(p.ctx).Target.TargetID

	waitCtx, stopWait := context.WithCancel(p.ctx)
	defer stopWait()
	opened := chromedp.WaitNewTarget(waitCtx, func(info *target.Info) bool {
		return info.Type == "page" && info.OpenerID == self
	})

	if err := p.run(ctx, p.cfg.ActionTimeout, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("click %s: %w", selector, err)
	}

	wait := time.NewTimer(p.cfg.PopupWait)
	defer wait.Stop()

	select {
	case id := <-opened:
		tabCtx, cancel := chromedp.NewContext(p.ctx, chromedp.WithTargetID(id))
		popup := newChromePage(tabCtx, cancel, p.cfg, true)
		if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
			cancel()
			return nil, fmt.Errorf("attach pop-up: %w", err)
		}
		return popup, nil
	case <-wait.C:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *chromePage) Evaluate(ctx context.Context, script Script, res any) error {
	if res == nil {
		var discard any
		res = &discard
	}
	if err := p.run(ctx, p.cfg.ActionTimeout, chromedp.Evaluate(script.Source, res)); err != nil {
		return fmt.Errorf("evaluate %s: %w", script.Name, err)
	}
	return nil
}

func (p *chromePage) Screenshot(ctx context.Context, clip *Rect) ([]byte, error) {
	var buf []byte

	var action chromedp.Action
	if clip == nil {
		action = chromedp.FullScreenshot(&buf, 100)
	} else {
		action = chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			buf, err = cdppage.CaptureScreenshot().
				WithFormat(cdppage.CaptureScreenshotFormatPng).
				WithCaptureBeyondViewport(true).
				WithFromSurface(true).
				WithClip(&cdppage.Viewport{
					X:      clip.X,
					Y:      clip.Y,
					Width:  clip.Width,
					Height: clip.Height,
					Scale:  1,
				}).
				Do(ctx)
			return err
		})
	}

	if err := p.run(ctx, p.cfg.ActionTimeout, action); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

func (p *chromePage) PrintPDF(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, p.cfg.ActionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, _, err = cdppage.PrintToPDF().WithPrintBackground(true).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return buf, nil
}

func (p *chromePage) Activity() Activity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Activity{Inflight: len(p.inflight), LastChange: p.last}
}

func (p *chromePage) Close(ctx context.Context) error {
	if !p.popup {
		return nil
	}
	defer p.cancel()
	if err := p.run(ctx, p.cfg.ActionTimeout, cdppage.Close()); err != nil {
		return fmt.Errorf("close pop-up: %w", err)
	}
	return nil
}

// visibleJS args: selector
const visibleJS = `(() => {
  let els;
  try { els = document.querySelectorAll(%s); } catch (e) { return false; }
  for (const el of els) {
    const s = getComputedStyle(el);
    if (s.display !== 'none' && s.visibility !== 'hidden' && el.getClientRects().length > 0) return true;
  }
  return false;
})()`
