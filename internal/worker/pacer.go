package worker

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DelaySource reports the minimum delay a host asks for between requests
type DelaySource interface {
	CrawlDelay(ctx context.Context, rawURL string) (time.Duration, error)
}

// Pacer spaces out navigations per host with a token bucket. Browser
// sessions running in parallel share one Pacer.
type Pacer struct {
	limiters     map[string]*rate.Limiter
	mu           sync.Mutex
	defaultRate  rate.Limit
	defaultBurst int
	delays       DelaySource
	logger       *slog.Logger
}

// NewPacer creates a pacer allowing requestsPerSecond per host. A
// non-positive rate disables pacing. delays may be nil.
func NewPacer(requestsPerSecond float64, burst int, delays DelaySource, logger *slog.Logger) *Pacer {
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}

	return &Pacer{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  limit,
		defaultBurst: burst,
		delays:       delays,
		logger:       logger,
	}
}

// Wait blocks until a navigation to rawURL is allowed
func (p *Pacer) Wait(ctx context.Context, rawURL string) error {
	host, err := extractHost(rawURL)
	if err != nil {
		return err
	}

	return p.limiter(ctx, host, rawURL).Wait(ctx)
}

// Allow reports whether a navigation is allowed now, consuming a token
func (p *Pacer) Allow(rawURL string) bool {
	host, err := extractHost(rawURL)
	if err != nil {
		return false
	}

	return p.limiter(context.Background(), host, rawURL).Allow()
}

// SetHostDelay enforces at least delay between navigations to host
func (p *Pacer) SetHostDelay(host string, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limiters[host] = p.newLimiter(delay)
}

// limiter returns the bucket for host, creating it on first use. The
// first use of a host consults the delay source without holding the lock.
func (p *Pacer) limiter(ctx context.Context, host, rawURL string) *rate.Limiter {
	p.mu.Lock()
	limiter, exists := p.limiters[host]
	p.mu.Unlock()
	if exists {
		return limiter
	}

	var delay time.Duration
	if p.delays != nil {
		d, err := p.delays.CrawlDelay(ctx, rawURL)
		if err != nil {
			p.logger.Debug("crawl delay unavailable", "host", host, "error", err)
		} else if d > 0 {
			p.logger.Info("honouring crawl delay", "host", host, "delay", d)
			delay = d
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if limiter, exists := p.limiters[host]; exists {
		return limiter
	}
	limiter = p.newLimiter(delay)
	p.limiters[host] = limiter
	return limiter
}

// newLimiter uses the slower of the default rate and the host delay
func (p *Pacer) newLimiter(delay time.Duration) *rate.Limiter {
	if delay > 0 {
		hostRate := rate.Every(delay)
		if hostRate < p.defaultRate {
			return rate.NewLimiter(hostRate, 1)
		}
	}
	return rate.NewLimiter(p.defaultRate, p.defaultBurst)
}

func extractHost(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return parsed.Host, nil
}
