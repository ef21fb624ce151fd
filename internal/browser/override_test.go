package browser_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ppiankov/proofpack/internal/browser"
	"github.com/ppiankov/proofpack/internal/browser/browsertest"
)

func TestOverride_AcquireRelease(t *testing.T) {
	page := browsertest.New("https://app.example.com/", "")

	var acquired, released string
	page.Scripts["override.acquire"] = func(s browser.Script) (any, error) {
		acquired = s.Source
		return 3, nil
	}
	page.Scripts["override.release"] = func(s browser.Script) (any, error) {
		released = s.Source
		return true, nil
	}

	ov, err := browser.AcquireOverride(context.Background(), page, browser.OverrideSpec{
		HiddenSelectors:  []string{"nav.sidebar"},
		ScrollContainers: []string{"main"},
	})
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if ov.Expanded != 3 {
		t.Errorf("expected 3 expanded containers, got %d", ov.Expanded)
	}
	if !strings.Contains(acquired, `["nav.sidebar"]`) || !strings.Contains(acquired, `["main"]`) {
		t.Errorf("selectors not embedded in script: %s", acquired)
	}

	if err := ov.Release(context.Background()); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if err := ov.Release(context.Background()); err != nil {
		t.Fatalf("second release failed: %v", err)
	}
	if page.Count("override.release") != 1 {
		t.Errorf("expected exactly one restore, got %d", page.Count("override.release"))
	}

	// Both scripts must refer to the same token
	token := acquired[strings.Index(acquired, `"`):]
	token = token[:strings.Index(token[1:], `"`)+2]
	if !strings.Contains(released, token) {
		t.Errorf("release script does not reference token %s", token)
	}
}

func TestOverride_ReleaseAfterCancel(t *testing.T) {
	page := browsertest.New("https://app.example.com/", "")

	ctx, cancel := context.WithCancel(context.Background())
	ov, err := browser.AcquireOverride(ctx, page, browser.OverrideSpec{})
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	cancel()

	if err := ov.Release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if page.Count("override.release") != 1 {
		t.Error("restore must run even after cancellation")
	}
}

func TestOverride_AcquireFailureRestores(t *testing.T) {
	page := browsertest.New("https://app.example.com/", "")
	page.Scripts["override.acquire"] = func(s browser.Script) (any, error) {
		return nil, errors.New("script error")
	}

	if _, err := browser.AcquireOverride(context.Background(), page, browser.OverrideSpec{}); err == nil {
		t.Fatal("expected error")
	}
	if page.Count("override.release") != 1 {
		t.Error("expected restore after failed acquire")
	}
}

func TestJS(t *testing.T) {
	if got := browser.JS(`a"b`); got != `"a\"b"` {
		t.Errorf("unexpected literal %s", got)
	}
	if got := browser.JS([]string{"x"}); got != `["x"]` {
		t.Errorf("unexpected literal %s", got)
	}
}
