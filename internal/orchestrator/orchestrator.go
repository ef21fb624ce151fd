// Package orchestrator runs the per-entity capture state machine: it
// navigates to each evidence surface in a fixed order, waits for a stable
// render, resolves secondary surfaces and applies the capture strategy for
// each evidence kind.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/proofpack/internal/browser"
	"github.com/ppiankov/proofpack/internal/capture"
	"github.com/ppiankov/proofpack/internal/chain"
	"github.com/ppiankov/proofpack/internal/logger"
	"github.com/ppiankov/proofpack/internal/model"
	"github.com/ppiankov/proofpack/internal/resolve"
)

// ErrNavigation marks a failed navigation to the entity's own address. It
// ends the entity's job early.
var ErrNavigation = errors.New("navigation failed")

// Step names of the address and surface fallback chains
const (
	viaLink        = "link"
	viaMenu        = "menu"
	viaForm        = "form"
	viaConstructed = "constructed"
)

// Pacer spaces out navigations
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Orchestrator sequences navigation, gating, resolution and capture for
// one entity at a time. It holds no per-entity state and may be shared by
// sessions, but each Run needs its own page.
type Orchestrator struct {
	gate       *browser.Gate
	resolver   *resolve.Resolver
	strategies *capture.Set
	pacer      Pacer
	resolving  model.ResolverConfig
	contactTab string
	logger     *slog.Logger
}

// New creates an orchestrator. pacer may be nil.
func New(cfg *model.Config, gate *browser.Gate, resolver *resolve.Resolver, strategies *capture.Set, pacer Pacer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		gate:       gate,
		resolver:   resolver,
		strategies: strategies,
		pacer:      pacer,
		resolving:  cfg.Resolver,
		contactTab: cfg.Capture.ContactTabSelector,
		logger:     logger,
	}
}

// Run drives job through every state until Done. Each evidence kind ends up
// with exactly one artifact record. Failing to reach the entity address
// records the remaining kinds as missing and is returned wrapped in
// ErrNavigation. Every other failure, including an unreachable secondary
// surface, is recorded and the machine moves on.
func (o *Orchestrator) Run(ctx context.Context, page browser.Page, job *model.CaptureJob) error {
	r := &run{
		o:      o,
		page:   page,
		job:    job,
		logger: logger.FromContext(ctx, o.logger).With("entity_id", job.Entity.ID),
	}

	for state := StateStart.Next(); state != StateDone; state = state.Next() {
		if err := ctx.Err(); err != nil {
			r.skipFrom(state, "skipped: cancelled")
			return err
		}

		start := time.Now()
		artifact, err := r.exec(ctx, state)
		r.record(state, artifact, err, time.Since(start))

		if errors.Is(err, ErrNavigation) {
			job.NavigationErr = err
			r.skipFrom(state.Next(), "skipped: navigation failed")
			r.logger.Warn("navigation failed, ending capture early", "state", state, "error", err)
			return err
		}
	}

	return nil
}

// run holds the mutable state of one Run call
type run struct {
	o      *Orchestrator
	page   browser.Page
	job    *model.CaptureJob
	logger *slog.Logger

	atHome           bool
	emailAddr        string
	emailConstructed bool
}

func (r *run) exec(ctx context.Context, state State) (model.EvidenceArtifact, error) {
	kw := r.o.resolving

	switch state {
	case StateNavigateHome:
		return model.EvidenceArtifact{}, r.home(ctx)
	case StateCaptureAttendance:
		return r.captureHome(ctx, model.KindAttendance)
	case StateCaptureContact:
		return r.captureContact(ctx)
	case StateResolveConfirmation:
		return r.resolveAndCapture(ctx, model.KindConfirmation, kw.ConfirmationKeywords, r.o.strategies.Region)
	case StateResolveInvoice:
		return r.resolveAndCapture(ctx, model.KindInvoice, kw.InvoiceKeywords, r.o.strategies.FullPage)
	case StateCaptureTicketEmail:
		return r.captureTicketEmail(ctx)
	case StateCaptureQR:
		return r.captureQR(ctx)
	default:
		return model.EvidenceArtifact{}, fmt.Errorf("unexpected state %s", state)
	}
}

func (r *run) record(state State, artifact model.EvidenceArtifact, err error, took time.Duration) {
	step := model.StepRecord{
		State:    state.String(),
		Duration: took,
	}
	if err != nil {
		step.Error = err.Error()
	}

	if kind, ok := state.Kind(); ok {
		if artifact.Kind == "" {
			note := "not captured"
			if err != nil {
				note = err.Error()
			}
			artifact = model.Missing(kind, note)
		}
		r.job.Record(artifact)
		step.Kind = kind
		step.Status = artifact.Status

		r.logger.Info("evidence",
			"kind", kind,
			"status", artifact.Status,
			"strategy", artifact.Strategy,
			"note", artifact.Note,
			"took", took.Round(time.Millisecond),
		)
	}

	r.job.RecordStep(step)
}

// skipFrom records every kind from state onwards as missing
func (r *run) skipFrom(state State, note string) {
	for s := state; s != StateDone; s = s.Next() {
		if kind, ok := s.Kind(); ok {
			if _, done := r.job.Artifact(kind); !done {
				r.job.Record(model.Missing(kind, note))
			}
		}
	}
}

func (r *run) pathBase(kind model.EvidenceKind) string {
	return filepath.Join(r.job.Dir, kind.FileBase(r.job.Entity.ID))
}

// navigate paces, loads rawURL and waits for a stable render
func (r *run) navigate(ctx context.Context, rawURL string) error {
	if r.o.pacer != nil {
		if err := r.o.pacer.Wait(ctx, rawURL); err != nil {
			return err
		}
	}

	if err := r.page.Navigate(ctx, rawURL); err != nil {
		return fmt.Errorf("open %s: %w", rawURL, err)
	}

	if !r.o.gate.WaitUntilStable(ctx, r.page) {
		r.logger.Debug("page not stable, capturing anyway", "url", rawURL)
	}
	return nil
}

func (r *run) home(ctx context.Context) error {
	r.atHome = false
	if err := r.navigate(ctx, r.job.Entity.SourceURL); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %w", ErrNavigation, err)
	}
	r.atHome = true
	return nil
}

func (r *run) ensureHome(ctx context.Context) error {
	if r.atHome {
		return nil
	}
	return r.home(ctx)
}

func (r *run) captureHome(ctx context.Context, kind model.EvidenceKind) (model.EvidenceArtifact, error) {
	a, err := r.o.strategies.FullPage.Capture(ctx, r.page, kind, r.pathBase(kind))
	if err != nil {
		return model.Missing(kind, err.Error()), err
	}
	return a, nil
}

// captureContact switches the home surface to its contact section when a
// tab is configured, without navigating away
func (r *run) captureContact(ctx context.Context) (model.EvidenceArtifact, error) {
	kind := model.KindContact
	if r.o.contactTab == "" {
		return r.captureHome(ctx, kind)
	}

	var note string
	visible, err := r.page.Visible(ctx, r.o.contactTab)
	switch {
	case err != nil || !visible:
		note = "contact tab not found"
	default:
		if _, err := r.page.Click(ctx, r.o.contactTab); err != nil {
			note = "contact tab click failed"
			r.logger.Warn("contact tab click failed", "error", err)
		} else {
			r.o.gate.WaitUntilStable(ctx, r.page)
		}
	}

	a, err := r.captureHome(ctx, kind)
	if err != nil || note == "" {
		return a, err
	}
	return a.Degrade(note), nil
}

// resolveAndCapture tries the direct link first and the action menu second.
// A surface reached through the menu is always degraded.
func (r *run) resolveAndCapture(ctx context.Context, kind model.EvidenceKind, keywords []string, strategy capture.Strategy) (model.EvidenceArtifact, error) {
	if err := r.ensureHome(ctx); err != nil {
		return model.Missing(kind, err.Error()), err
	}

	base := r.pathBase(kind)
	res, err := chain.Run(ctx,
		chain.Step[model.EvidenceArtifact]{
			Name: viaLink,
			Run: func(ctx context.Context) (model.EvidenceArtifact, chain.Outcome, error) {
				opt, err := r.o.resolver.ResolveHref(ctx, r.page, keywords)
				if err != nil {
					return model.EvidenceArtifact{}, chain.Failed, err
				}
				href, ok := opt.Get()
				if !ok {
					return model.EvidenceArtifact{}, chain.NotApplicable, nil
				}

				r.atHome = false
				if err := r.navigate(ctx, href); err != nil {
					return model.EvidenceArtifact{}, chain.Failed, err
				}
				return outcome(strategy.Capture(ctx, r.page, kind, base))
			},
		},
		chain.Step[model.EvidenceArtifact]{
			Name: viaMenu,
			Run: func(ctx context.Context) (model.EvidenceArtifact, chain.Outcome, error) {
				if err := r.ensureHome(ctx); err != nil {
					return model.EvidenceArtifact{}, chain.Failed, abortOnNavigation(err)
				}
				return r.captureViaMenu(ctx, kind, keywords, strategy, base)
			},
		},
	)
	if err != nil {
		if errors.Is(err, ErrNavigation) || ctx.Err() != nil {
			return model.Missing(kind, err.Error()), err
		}
		// Bare ErrNoMatch: nothing failed, nothing matched
		if err == chain.ErrNoMatch {
			return model.Missing(kind, "no matching link or menu item"), nil
		}
		return model.Missing(kind, err.Error()), err
	}

	return res.Value, nil
}

func (r *run) captureViaMenu(ctx context.Context, kind model.EvidenceKind, keywords []string, strategy capture.Strategy, base string) (model.EvidenceArtifact, chain.Outcome, error) {
	opt, err := r.o.resolver.FollowMenu(ctx, r.page, keywords)
	if err != nil {
		return model.EvidenceArtifact{}, chain.Failed, err
	}
	surface, ok := opt.Get()
	if !ok {
		return model.EvidenceArtifact{}, chain.NotApplicable, nil
	}

	if surface == r.page {
		r.atHome = false
	} else {
		defer func() {
			if err := surface.Close(context.WithoutCancel(ctx)); err != nil {
				r.logger.Debug("closing pop-up failed", "error", err)
			}
		}()
	}

	r.o.gate.WaitUntilStable(ctx, surface)

	a, result, err := outcome(strategy.Capture(ctx, surface, kind, base))
	if result != chain.Matched {
		return a, result, err
	}
	return a.Degrade("reached through action menu"), chain.Matched, nil
}

// captureTicketEmail resolves the email preview address, falling back to a
// constructed one, and isolates the message frame
func (r *run) captureTicketEmail(ctx context.Context) (model.EvidenceArtifact, error) {
	kind := model.KindTicketEmail
	if err := r.ensureHome(ctx); err != nil {
		return model.Missing(kind, err.Error()), err
	}

	keywords := r.o.resolving.TicketEmailKeywords
	addr, err := chain.Run(ctx,
		chain.Step[string]{
			Name: viaLink,
			Run: func(ctx context.Context) (string, chain.Outcome, error) {
				opt, err := r.o.resolver.ResolveHref(ctx, r.page, keywords)
				v, ok := opt.Get()
				return chain.FromErr(v, ok, err)
			},
		},
		chain.Step[string]{
			Name: viaForm,
			Run: func(ctx context.Context) (string, chain.Outcome, error) {
				opt, err := r.o.resolver.ResolveFormAction(ctx, r.page, keywords)
				v, ok := opt.Get()
				return chain.FromErr(v, ok, err)
			},
		},
		chain.Step[string]{
			Name: viaConstructed,
			Run: func(ctx context.Context) (string, chain.Outcome, error) {
				v, err := r.constructEmailAddress()
				return chain.FromErr(v, v != "", err)
			},
		},
	)
	if err != nil {
		if ctx.Err() != nil {
			return model.Missing(kind, err.Error()), err
		}
		return model.Missing(kind, "no email preview address"), nil
	}

	r.emailAddr = addr.Value
	r.emailConstructed = addr.Step == viaConstructed
	r.logger.Debug("email preview address", "url", addr.Value, "via", addr.Step)

	r.atHome = false
	if err := r.navigate(ctx, addr.Value); err != nil {
		return model.Missing(kind, err.Error()), err
	}

	a, err := r.o.strategies.Frame.Capture(ctx, r.page, kind, r.pathBase(kind))
	if err != nil {
		return model.Missing(kind, err.Error()), err
	}
	return a, nil
}

// captureQR captures the email preview surface as a whole; the ticket QR
// code is rendered there
func (r *run) captureQR(ctx context.Context) (model.EvidenceArtifact, error) {
	kind := model.KindQRCode
	if r.emailAddr == "" {
		return model.Missing(kind, "no email preview address"), nil
	}

	if loc, err := r.page.Location(ctx); err != nil || !sameAddress(loc, r.emailAddr) {
		r.atHome = false
		if err := r.navigate(ctx, r.emailAddr); err != nil {
			return model.Missing(kind, err.Error()), err
		}
	}

	a, err := r.o.strategies.FullPage.Capture(ctx, r.page, kind, r.pathBase(kind))
	if err != nil {
		return model.Missing(kind, err.Error()), err
	}
	if r.emailConstructed {
		a = a.Degrade("preview address constructed")
	}
	return a, nil
}

// constructEmailAddress fills the preview template with the entity id and
// the default category, resolved against the entity address
func (r *run) constructEmailAddress() (string, error) {
	tmpl := r.o.resolving.EmailPreviewTemplate
	if tmpl == "" {
		return "", nil
	}

	filled := strings.NewReplacer(
		"{id}", url.QueryEscape(r.job.Entity.ID),
		"{category}", url.QueryEscape(r.o.resolving.DefaultEmailCategory),
	).Replace(tmpl)

	base, err := url.Parse(r.job.Entity.SourceURL)
	if err != nil {
		return "", fmt.Errorf("parse entity address: %w", err)
	}
	ref, err := url.Parse(filled)
	if err != nil {
		return "", fmt.Errorf("parse preview template: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

// sameAddress compares two addresses the way the browser reports them:
// scheme and host case, path escaping, a trailing slash, query parameter
// order and the fragment are ignored
func sameAddress(a, b string) bool {
	if a == b {
		return true
	}
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(ua.Scheme, ub.Scheme) &&
		strings.EqualFold(ua.Host, ub.Host) &&
		strings.TrimSuffix(ua.Path, "/") == strings.TrimSuffix(ub.Path, "/") &&
		ua.Query().Encode() == ub.Query().Encode()
}

func outcome(a model.EvidenceArtifact, err error) (model.EvidenceArtifact, chain.Outcome, error) {
	if err != nil {
		return a, chain.Failed, err
	}
	return a, chain.Matched, nil
}

func abortOnNavigation(err error) error {
	if errors.Is(err, ErrNavigation) {
		return chain.Abort(err)
	}
	return err
}
