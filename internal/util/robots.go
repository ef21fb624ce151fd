package util

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// RobotsChecker reads robots.txt of the application hosts to honour their
// crawl delay when pacing navigations
type RobotsChecker struct {
	cache      map[string]*robotstxt.RobotsData
	mu         sync.RWMutex
	httpClient *http.Client
	userAgent  string
}

// NewRobotsChecker creates a checker using client for fetches
func NewRobotsChecker(userAgent string, client *http.Client) *RobotsChecker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RobotsChecker{
		cache:      make(map[string]*robotstxt.RobotsData),
		httpClient: client,
		userAgent:  userAgent,
	}
}

// CrawlDelay returns the crawl delay robots.txt asks of our agent for the
// host of rawURL. A missing robots.txt means no delay.
func (r *RobotsChecker) CrawlDelay(ctx context.Context, rawURL string) (time.Duration, error) {
	data, err := r.robots(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	if group := data.FindGroup(r.agent()); group != nil {
		return group.CrawlDelay, nil
	}
	return 0, nil
}

// Allowed reports whether robots.txt permits the path of rawURL. Hosts
// whose robots.txt cannot be read are allowed.
func (r *RobotsChecker) Allowed(ctx context.Context, rawURL string) bool {
	data, err := r.robots(ctx, rawURL)
	if err != nil {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	return data.TestAgent(parsed.Path, r.agent())
}

func (r *RobotsChecker) robots(ctx context.Context, rawURL string) (*robotstxt.RobotsData, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("parse URL: no host in %q", rawURL)
	}

	r.mu.RLock()
	data, exists := r.cache[parsed.Host]
	r.mu.RUnlock()
	if exists {
		return data, nil
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", parsed.Scheme, parsed.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err = robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}

	r.mu.Lock()
	r.cache[parsed.Host] = data
	r.mu.Unlock()

	return data, nil
}

// agent is the product token of the user agent, as robots.txt groups use
func (r *RobotsChecker) agent() string {
	parts := strings.Fields(r.userAgent)
	if len(parts) == 0 {
		return r.userAgent
	}
	return strings.Split(parts[0], "/")[0]
}
