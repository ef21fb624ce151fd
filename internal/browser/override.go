package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const releaseTimeout = 5 * time.Second

// OverrideSpec lists what a DOM override changes
type OverrideSpec struct {
	HiddenSelectors  []string // Hidden through an injected stylesheet
	ScrollContainers []string // Expanded in addition to auto-detected scrollers
}

// Override is a temporary modification of the live page. Release restores
// the exact inline styles that were present before Acquire.
type Override struct {
	page     Page
	token    string
	Expanded int
	released bool
}

// AcquireOverride hides the configured regions and expands every
// internally scrollable container to its full content height
func AcquireOverride(ctx context.Context, page Page, spec OverrideSpec) (*Override, error) {
	o := &Override{
		page:  page,
		token: uuid.NewString(),
	}

	script := Script{
		Name:   "override.acquire",
		Source: fmt.Sprintf(acquireJS, JS(o.token), JS(nonNil(spec.HiddenSelectors)), JS(nonNil(spec.ScrollContainers))),
	}

	if err := page.Evaluate(ctx, script, &o.Expanded); err != nil {
		// The script may have partially applied before failing
		_ = o.Release(ctx)
		return nil, fmt.Errorf("apply dom override: %w", err)
	}

	return o, nil
}

// Release undoes the override. It is safe to call more than once and runs
// even when ctx is already cancelled.
func (o *Override) Release(ctx context.Context) error {
	if o == nil || o.released {
		return nil
	}
	o.released = true

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	var restored bool
	script := Script{
		Name:   "override.release",
		Source: fmt.Sprintf(releaseJS, JS(o.token)),
	}
	if err := o.page.Evaluate(ctx, script, &restored); err != nil {
		return fmt.Errorf("restore dom override: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// acquireJS args: token, hidden selectors, extra containers
const acquireJS = `(() => {
  const token = %s, hidden = %s, extra = %s;
  const store = (window.__proofpackOverrides = window.__proofpackOverrides || {});
  const style = document.createElement('style');
  style.setAttribute('data-proofpack-override', token);
  style.textContent = hidden.map(s => s + ' { display: none !important; }').join('\n');
  (document.head || document.documentElement).appendChild(style);
  const entry = { style: style, saved: [] };
  store[token] = entry;

  const targets = new Set();
  for (const sel of extra) {
    try { document.querySelectorAll(sel).forEach(el => targets.add(el)); } catch (e) {}
  }
  document.querySelectorAll('body *').forEach(el => {
    const oy = getComputedStyle(el).overflowY;
    if ((oy === 'auto' || oy === 'scroll') && el.scrollHeight > el.clientHeight + 1) targets.add(el);
  });

  const depth = el => { let d = 0; for (let n = el; n; n = n.parentElement) d++; return d; };
  const props = ['height', 'max-height', 'overflow', 'overflow-y'];
  Array.from(targets).sort((a, b) => depth(b) - depth(a)).forEach(el => {
    if (el.scrollHeight <= el.clientHeight + 1) return;
    const prev = {};
    props.forEach(p => { prev[p] = [el.style.getPropertyValue(p), el.style.getPropertyPriority(p)]; });
    entry.saved.push({ el: el, prev: prev });
    el.style.setProperty('height', el.scrollHeight + 'px', 'important');
    el.style.setProperty('max-height', 'none', 'important');
    el.style.setProperty('overflow', 'visible', 'important');
    el.style.setProperty('overflow-y', 'visible', 'important');
  });
  return entry.saved.length;
})()`

// releaseJS args: token
const releaseJS = `(() => {
  const store = window.__proofpackOverrides || {};
  const entry = store[%s];
  if (!entry) return false;
  for (let i = entry.saved.length - 1; i >= 0; i--) {
    const { el, prev } = entry.saved[i];
    for (const p in prev) {
      const [value, priority] = prev[p];
      if (value === '') el.style.removeProperty(p);
      else el.style.setProperty(p, value, priority);
    }
  }
  if (entry.style && entry.style.parentNode) entry.style.parentNode.removeChild(entry.style);
  delete store[%[1]s];
  return true;
})()`
