// Package resolve finds secondary evidence surfaces through the in-page
// action menu of a rendered entity page.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/mo"

	"github.com/ppiankov/proofpack/internal/browser"
	"github.com/ppiankov/proofpack/internal/model"
)

const (
	targetAttr     = "data-proofpack-target"
	disclosureAttr = "data-proofpack-disclosure"

	// MenuTarget selects the menu item marked for the next click
	MenuTarget = "[" + targetAttr + "]"

	// DisclosureTarget selects the visible disclosure control marked for the
	// next click
	DisclosureTarget = "[" + disclosureAttr + "]"

	// noVisibleMatch is the mark result when every match is hidden
	noVisibleMatch = "__none__"
)

// Resolver resolves evidence surfaces from keyword hints
type Resolver struct {
	disclosure []string
	menuItems  []string
	logger     *slog.Logger
}

// New creates a resolver from configuration
func New(cfg model.ResolverConfig, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		disclosure: cfg.DisclosureSelectors,
		menuItems:  cfg.MenuItemSelectors,
		logger:     logger,
	}
}

// ResolveHref returns the absolute address of the first rendered anchor, in
// DOM order, whose target contains any keyword. The action menu is opened
// first when it is present so that its links are rendered.
func (r *Resolver) ResolveHref(ctx context.Context, page browser.Page, keywords []string) (mo.Option[string], error) {
	if _, err := r.OpenDisclosure(ctx, page); err != nil {
		return mo.None[string](), err
	}

	content, base, err := snapshot(ctx, page)
	if err != nil {
		return mo.None[string](), err
	}

	hrefs, err := anchors(content, base)
	if err != nil {
		return mo.None[string](), fmt.Errorf("parse anchors: %w", err)
	}

	for _, href := range hrefs {
		if containsAny(href, keywords) {
			r.logger.Debug("resolved link", "href", href)
			return mo.Some(href), nil
		}
	}

	return mo.None[string](), nil
}

// ResolveFormAction returns the absolute action of the first form whose
// action contains any keyword
func (r *Resolver) ResolveFormAction(ctx context.Context, page browser.Page, keywords []string) (mo.Option[string], error) {
	content, base, err := snapshot(ctx, page)
	if err != nil {
		return mo.None[string](), err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return mo.None[string](), fmt.Errorf("parse document: %w", err)
	}

	found := mo.None[string]()
	doc.Find("form[action]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		action, _ := s.Attr("action")
		resolved := resolveURL(base, strings.TrimSpace(action))
		if resolved != "" && containsAny(resolved, keywords) {
			found = mo.Some(resolved)
			return false
		}
		return true
	})

	return found, nil
}

// FollowMenu activates the first menu item whose visible label matches any
// keyword and returns the surface it leads to: a pop-up tab when one opened,
// otherwise the same page after navigation. It returns None when there is no
// action menu or no matching item.
func (r *Resolver) FollowMenu(ctx context.Context, page browser.Page, keywords []string) (mo.Option[browser.Page], error) {
	pattern := keywordPattern(keywords)
	if pattern == nil || len(r.menuItems) == 0 {
		return mo.None[browser.Page](), nil
	}

	opened, err := r.OpenDisclosure(ctx, page)
	if err != nil {
		return mo.None[browser.Page](), err
	}
	if !opened {
		return mo.None[browser.Page](), nil
	}

	content, err := page.Content(ctx)
	if err != nil {
		return mo.None[browser.Page](), fmt.Errorf("read menu: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return mo.None[browser.Page](), fmt.Errorf("parse menu: %w", err)
	}

	group := strings.Join(r.menuItems, ", ")
	index := -1
	var label string
	doc.Find(group).EachWithBreak(func(i int, s *goquery.Selection) bool {
		text := itemLabel(s)
		if pattern.MatchString(text) {
			index, label = i, text
			return false
		}
		return true
	})
	if index < 0 {
		return mo.None[browser.Page](), nil
	}

	// Mark the element in the live page so the click hits the same node
	var marked bool
	mark := browser.Script{
		Name:   "menu.mark",
		Source: fmt.Sprintf(markJS, browser.JS(targetAttr), browser.JS(group), index),
	}
	if err := page.Evaluate(ctx, mark, &marked); err != nil {
		return mo.None[browser.Page](), err
	}
	if !marked {
		return mo.None[browser.Page](), fmt.Errorf("menu item %q disappeared before click", label)
	}

	r.logger.Debug("following menu item", "label", label)

	surface, err := page.Click(ctx, MenuTarget)
	if err != nil {
		return mo.None[browser.Page](), fmt.Errorf("follow menu item %q: %w", label, err)
	}
	return mo.Some(surface), nil
}

// OpenDisclosure opens the first visible action-disclosure control unless it
// is already expanded. It reports whether a control was found.
//
// A selector may match hidden controls ahead of the visible one, so the
// visible node is marked in the live page and the state read and click both
// target that node.
func (r *Resolver) OpenDisclosure(ctx context.Context, page browser.Page) (bool, error) {
	for _, selector := range r.disclosure {
		visible, err := page.Visible(ctx, selector)
		if err != nil || !visible {
			continue
		}

		var expanded string
		mark := browser.Script{
			Name:   "disclosure.mark",
			Source: fmt.Sprintf(disclosureJS, browser.JS(disclosureAttr), browser.JS(selector), browser.JS(noVisibleMatch)),
		}
		if err := page.Evaluate(ctx, mark, &expanded); err != nil {
			return true, err
		}
		switch expanded {
		case noVisibleMatch:
			continue
		case "true":
			return true, nil
		}

		surface, err := page.Click(ctx, DisclosureTarget)
		if err != nil {
			return true, fmt.Errorf("open action menu: %w", err)
		}
		if surface != page {
			_ = surface.Close(ctx)
		}
		return true, nil
	}
	return false, nil
}

func snapshot(ctx context.Context, page browser.Page) (string, *url.URL, error) {
	loc, err := page.Location(ctx)
	if err != nil {
		return "", nil, err
	}
	base, err := url.Parse(loc)
	if err != nil {
		return "", nil, fmt.Errorf("parse location: %w", err)
	}
	content, err := page.Content(ctx)
	if err != nil {
		return "", nil, err
	}
	return content, base, nil
}

// keywordPattern builds a case-insensitive alternation of the keywords
func keywordPattern(keywords []string) *regexp.Regexp {
	var quoted []string
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			quoted = append(quoted, regexp.QuoteMeta(kw))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)(` + strings.Join(quoted, "|") + `)`)
}

func itemLabel(s *goquery.Selection) string {
	if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
		return text
	}
	for _, attr := range []string{"aria-label", "title"} {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// disclosureJS args: attribute, selector, no-match sentinel. Marks the first
// rendered match and returns its aria-expanded value.
const disclosureJS = `(() => {
  const attr = %s;
  document.querySelectorAll('[' + attr + ']').forEach(el => el.removeAttribute(attr));
  const shown = el => {
    const s = getComputedStyle(el);
    return s.display !== 'none' && s.visibility !== 'hidden' && el.getClientRects().length > 0;
  };
  let els;
  try { els = document.querySelectorAll(%s); } catch (e) { els = []; }
  const el = Array.from(els).find(shown);
  if (!el) return %s;
  el.setAttribute(attr, '');
  return el.getAttribute('aria-expanded') || '';
})()`

// markJS args: attribute, group selector, index
const markJS = `(() => {
  const attr = %s;
  document.querySelectorAll('[' + attr + ']').forEach(el => el.removeAttribute(attr));
  const el = document.querySelectorAll(%s)[%d];
  if (!el) return false;
  el.setAttribute(attr, '');
  return true;
})()`
