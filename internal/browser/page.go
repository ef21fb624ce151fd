// Package browser wraps the authenticated browsing session used for capture.
package browser

import (
	"context"
	"encoding/json"
	"time"
)

// Page is one browser tab. Implementations are not safe for concurrent use;
// a page belongs to one orchestration at a time.
type Page interface {
	// Navigate loads url and waits for the load event
	Navigate(ctx context.Context, url string) error

	// Location returns the current document address
	Location(ctx context.Context) (string, error)

	// Content returns the serialized rendered document
	Content(ctx context.Context) (string, error)

	// Visible reports whether any element matching selector is displayed
	Visible(ctx context.Context, selector string) (bool, error)

	// Click clicks the first element matching selector. If the click opens a
	// pop-up tab, the pop-up is returned; otherwise the receiver is.
	Click(ctx context.Context, selector string) (Page, error)

	// Evaluate runs a script and decodes its JSON result into res
	Evaluate(ctx context.Context, script Script, res any) error

	// Screenshot captures the full document, or only clip when non-nil
	Screenshot(ctx context.Context, clip *Rect) ([]byte, error)

	// PrintPDF renders the document as a paginated PDF
	PrintPDF(ctx context.Context) ([]byte, error)

	// Activity reports network requests currently in flight
	Activity() Activity

	// Close closes a pop-up tab. It is a no-op for the session's main tab.
	Close(ctx context.Context) error
}

// Script is a named JavaScript expression
type Script struct {
	Name   string
	Source string
}

// Rect is a region in document coordinates (CSS pixels)
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the rect has no area
func (r Rect) Empty() bool {
	return r.Width < 1 || r.Height < 1
}

// Activity is a snapshot of network activity on a page
type Activity struct {
	Inflight   int
	LastChange time.Time
}

// JS returns v as a JavaScript literal
func JS(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}
