// Package browsertest provides an in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ppiankov/proofpack/internal/browser"
)

// ScriptFunc answers one named script
type ScriptFunc func(script browser.Script) (any, error)

// Page is a scriptable fake tab. Zero values answer "nothing there".
type Page struct {
	mu sync.Mutex

	URL     string
	HTML    string
	Popup   bool
	Sites   map[string]string          // url -> document served on Navigate
	NavErr  map[string]error           // url -> navigation failure
	Shown   map[string]bool            // selector -> visible
	Opens   map[string]*Page           // selector -> pop-up opened by clicking it
	Follows map[string]string          // selector -> url navigated to by clicking it
	Scripts map[string]ScriptFunc      // script name -> answer
	Shot    []byte                     // screenshot bytes, default "png"
	ShotErr error
	Net     browser.Activity

	Navigations []string
	Clicks      []string
	Evaluated   []string
	Clips       []*browser.Rect
	PDFs        int
	Closed      bool
}

// New returns a page showing html at url
func New(url, html string) *Page {
	return &Page{
		URL:     url,
		HTML:    html,
		Sites:   map[string]string{url: html},
		NavErr:  map[string]error{},
		Shown:   map[string]bool{},
		Opens:   map[string]*Page{},
		Follows: map[string]string{},
		Scripts: map[string]ScriptFunc{},
		Net:     browser.Activity{LastChange: time.Now().Add(-time.Hour)},
	}
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Navigations = append(p.Navigations, url)
	if err := p.NavErr[url]; err != nil {
		return err
	}
	p.URL = url
	if html, ok := p.Sites[url]; ok {
		p.HTML = html
	} else {
		p.HTML = "<html><body></body></html>"
	}
	return nil
}

func (p *Page) Location(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.URL, nil
}

func (p *Page) Content(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.HTML, nil
}

func (p *Page) Visible(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Shown[selector], nil
}

func (p *Page) Click(ctx context.Context, selector string) (browser.Page, error) {
	p.mu.Lock()
	p.Clicks = append(p.Clicks, selector)
	popup := p.Opens[selector]
	follow, follows := p.Follows[selector]
	p.mu.Unlock()

	if popup != nil {
		return popup, nil
	}
	if follows {
		if err := p.Navigate(ctx, follow); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Page) Evaluate(ctx context.Context, script browser.Script, res any) error {
	p.mu.Lock()
	p.Evaluated = append(p.Evaluated, script.Name)
	fn := p.Scripts[script.Name]
	p.mu.Unlock()

	if fn == nil {
		return nil
	}

	v, err := fn(script)
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal fake result: %w", err)
	}
	return json.Unmarshal(data, res)
}

func (p *Page) Screenshot(ctx context.Context, clip *browser.Rect) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Clips = append(p.Clips, clip)
	if p.ShotErr != nil {
		return nil, p.ShotErr
	}
	if p.Shot == nil {
		return []byte("png"), nil
	}
	return p.Shot, nil
}

func (p *Page) PrintPDF(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PDFs++
	return []byte("%PDF-1.7"), nil
}

func (p *Page) Activity() browser.Activity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Net
}

func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Popup {
		p.Closed = true
	}
	return nil
}

// SetNet replaces the network activity snapshot
func (p *Page) SetNet(a browser.Activity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Net = a
}

// SetShown toggles the visibility of selector
func (p *Page) SetShown(selector string, visible bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Shown[selector] = visible
}

// Count returns how many times a script name was evaluated
func (p *Page) Count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.Evaluated {
		if e == name {
			n++
		}
	}
	return n
}
