package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/proofpack/internal/browser"
	"github.com/ppiankov/proofpack/internal/browser/browsertest"
	"github.com/ppiankov/proofpack/internal/capture"
	"github.com/ppiankov/proofpack/internal/model"
	"github.com/ppiankov/proofpack/internal/resolve"
)

const (
	homeURL    = "https://app.example.com/registrants/view?collectionId=255274&id=12345"
	confirmURL = "https://app.example.com/registrants/12345/confirmation"
	invoiceURL = "https://app.example.com/invoices/12345"
	previewURL = "https://app.example.com/registrants/emailpreview?registrantId=12345&category=ticket"
	builtURL   = "https://app.example.com/registrants/emailpreview?registrantId=12345&category=registration"
)

const linkedHome = `<html><body>
<button class="actions-toggle">Actions</button>
<ul class="dropdown-menu">
  <li><a href="/registrants/12345/confirmation">Confirmation</a></li>
  <li><a href="/invoices/12345">Invoice</a></li>
  <li><a href="/registrants/emailpreview?registrantId=12345&amp;category=ticket">Ticket email</a></li>
</ul></body></html>`

const menuOnlyHome = `<html><body>
<button class="actions-toggle">Actions</button>
<ul class="dropdown-menu">
  <li><button>Resend ticket</button></li>
  <li><button>Invoice</button></li>
</ul></body></html>`

type countingPacer struct {
	urls []string
}

func (p *countingPacer) Wait(ctx context.Context, rawURL string) error {
	p.urls = append(p.urls, rawURL)
	return ctx.Err()
}

func newTestOrchestrator(t *testing.T, pacer Pacer) *Orchestrator {
	t.Helper()

	cfg := model.DefaultConfig()
	cfg.Gate.Timeout = 50 * time.Millisecond
	cfg.Gate.QuietWindow = 0
	cfg.Gate.PollInterval = 5 * time.Millisecond
	cfg.Capture.FrameWait = 20 * time.Millisecond

	set, err := capture.NewSet(cfg.Capture, nil)
	if err != nil {
		t.Fatalf("NewSet failed: %v", err)
	}

	return New(cfg, browser.NewGate(cfg.Gate, nil), resolve.New(cfg.Resolver, nil), set, pacer, nil)
}

func newJob(t *testing.T) *model.CaptureJob {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "12345")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	entity, err := model.NewEntityFromURL(homeURL, "")
	if err != nil {
		t.Fatal(err)
	}
	return model.NewCaptureJob(entity, dir)
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func statusOf(t *testing.T, job *model.CaptureJob, kind model.EvidenceKind) model.EvidenceArtifact {
	t.Helper()
	a, ok := job.Artifact(kind)
	if !ok {
		t.Fatalf("no artifact recorded for %s", kind)
	}
	return a
}

func TestRun_AllLinksResolvable(t *testing.T) {
	pacer := &countingPacer{}
	o := newTestOrchestrator(t, pacer)
	job := newJob(t)

	page := browsertest.New("about:blank", "")
	page.Sites[homeURL] = linkedHome
	page.SetShown(".actions-toggle", true)
	page.Scripts["region.rect"] = func(browser.Script) (any, error) {
		if page.URL != confirmURL {
			return nil, nil
		}
		return browser.Rect{Y: 100, Width: 700, Height: 500}, nil
	}
	page.Scripts["frame.list"] = func(browser.Script) (any, error) {
		if page.URL != previewURL {
			return nil, nil
		}
		return []map[string]any{{"index": 0, "src": "/emailpreview/body", "ready": true}}, nil
	}
	page.Scripts["frame.expand"] = func(browser.Script) (any, error) {
		return browser.Rect{Width: 600, Height: 1200}, nil
	}

	if err := o.Run(context.Background(), page, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, kind := range model.CaptureOrder {
		if a := statusOf(t, job, kind); a.Status != model.StatusCaptured {
			t.Errorf("%s: expected captured, got %s (%s)", kind, a.Status, a.Note)
		}
	}
	if len(job.Artifacts) != len(model.CaptureOrder) {
		t.Errorf("expected one artifact per kind, got %d", len(job.Artifacts))
	}

	want := []string{
		"12345__01_Attendance.png",
		"12345__02_Contact.png",
		"12345__03_TicketEmail.png",
		"12345__04_QRCode.png",
		"12345__05_Confirmation.png",
		"12345__06_Invoice.png",
	}
	if got := listFiles(t, job.Dir); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("unexpected files %v", got)
	}

	// QR reuses the preview page without navigating again
	wantNav := []string{homeURL, confirmURL, homeURL, invoiceURL, homeURL, previewURL}
	if strings.Join(page.Navigations, " ") != strings.Join(wantNav, " ") {
		t.Errorf("unexpected navigations %v", page.Navigations)
	}
	if len(pacer.urls) != len(wantNav) {
		t.Errorf("every navigation should be paced, got %d", len(pacer.urls))
	}

	if statusOf(t, job, model.KindConfirmation).Strategy != capture.StepRegion {
		t.Error("confirmation should be captured as a region")
	}
	if statusOf(t, job, model.KindTicketEmail).Strategy != capture.StepFrame {
		t.Error("ticket email should be captured from the frame")
	}
	if len(job.Steps) != int(StateDone)-1 {
		t.Errorf("expected a step record per state, got %d", len(job.Steps))
	}
}

func TestRun_MenuOnlyInvoiceIsDegraded(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	job := newJob(t)

	page := browsertest.New("about:blank", "")
	page.Sites[homeURL] = menuOnlyHome
	page.SetShown(".actions-toggle", true)
	page.Follows[resolve.MenuTarget] = "https://app.example.com/invoices/print/12345"
	page.Scripts["menu.mark"] = func(browser.Script) (any, error) { return true, nil }

	if err := o.Run(context.Background(), page, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	invoice := statusOf(t, job, model.KindInvoice)
	if invoice.Status != model.StatusDegraded {
		t.Errorf("expected degraded invoice, got %s", invoice.Status)
	}
	if filepath.Base(invoice.FilePath) != "12345__06_Invoice.png" {
		t.Errorf("unexpected invoice file %s", invoice.FilePath)
	}
	if _, err := os.Stat(invoice.FilePath); err != nil {
		t.Errorf("invoice file missing: %v", err)
	}

	confirmation := statusOf(t, job, model.KindConfirmation)
	if confirmation.Status != model.StatusMissing || confirmation.FilePath != "" {
		t.Errorf("expected missing confirmation, got %+v", confirmation)
	}

	// No preview link anywhere: the address is constructed and QR is degraded
	if !contains(page.Navigations, builtURL) {
		t.Errorf("expected constructed preview address in %v", page.Navigations)
	}
	if qr := statusOf(t, job, model.KindQRCode); qr.Status != model.StatusDegraded {
		t.Errorf("expected degraded QR, got %s", qr.Status)
	}
}

func TestRun_MenuPopupIsClosed(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	job := newJob(t)

	page := browsertest.New("about:blank", "")
	page.Sites[homeURL] = menuOnlyHome
	page.SetShown(".actions-toggle", true)
	popup := browsertest.New("https://app.example.com/invoices/print/12345", "")
	popup.Popup = true
	page.Opens[resolve.MenuTarget] = popup
	page.Scripts["menu.mark"] = func(browser.Script) (any, error) { return true, nil }

	if err := o.Run(context.Background(), page, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a := statusOf(t, job, model.KindInvoice); a.Status != model.StatusDegraded {
		t.Errorf("expected degraded invoice, got %s", a.Status)
	}
	if !popup.Closed {
		t.Error("pop-up should be closed after capture")
	}
	if len(popup.Clips) != 1 {
		t.Errorf("invoice should be captured from the pop-up, clips=%d", len(popup.Clips))
	}
}

func TestRun_UnreachableHome(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	job := newJob(t)

	page := browsertest.New("about:blank", "")
	page.NavErr[homeURL] = errors.New("net::ERR_NAME_NOT_RESOLVED")

	err := o.Run(context.Background(), page, job)
	if !errors.Is(err, ErrNavigation) {
		t.Fatalf("expected navigation error, got %v", err)
	}
	if job.NavigationErr == nil {
		t.Error("job should carry the navigation error")
	}
	if job.HasFiles() {
		t.Error("no files expected")
	}
	if files := listFiles(t, job.Dir); len(files) != 0 {
		t.Errorf("expected empty directory, got %v", files)
	}
	if len(job.Artifacts) != len(model.CaptureOrder) {
		t.Fatalf("expected every kind recorded, got %d", len(job.Artifacts))
	}
	for _, a := range job.Artifacts {
		if a.Status != model.StatusMissing || a.Note != "skipped: navigation failed" {
			t.Errorf("%s: unexpected %+v", a.Kind, a)
		}
	}
}

func TestRun_SecondarySurfaceUnreachable(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	job := newJob(t)

	page := browsertest.New("about:blank", "")
	page.Sites[homeURL] = linkedHome
	page.NavErr[confirmURL] = errors.New("unexpected status 403")

	if err := o.Run(context.Background(), page, job); err != nil {
		t.Fatalf("an unreachable confirmation must not end the job: %v", err)
	}
	if job.NavigationErr != nil {
		t.Errorf("navigation error reserved for the entity address, got %v", job.NavigationErr)
	}

	if a := statusOf(t, job, model.KindConfirmation); a.Status != model.StatusMissing || !strings.Contains(a.Note, "403") {
		t.Errorf("unexpected confirmation %+v", a)
	}
	if a := statusOf(t, job, model.KindInvoice); a.Status != model.StatusCaptured {
		t.Errorf("invoice should still be captured, got %+v", a)
	}
	if !contains(page.Navigations, invoiceURL) || !contains(page.Navigations, previewURL) {
		t.Errorf("later surfaces should be visited, got %v", page.Navigations)
	}
	for _, kind := range []model.EvidenceKind{model.KindTicketEmail, model.KindQRCode} {
		if a := statusOf(t, job, kind); a.Status == model.StatusMissing {
			t.Errorf("%s should be attempted, got %+v", kind, a)
		}
	}
}

func TestRun_MenuFallbackAfterLinkFailure(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	job := newJob(t)

	page := browsertest.New("about:blank", "")
	page.Sites[homeURL] = linkedHome
	page.SetShown(".actions-toggle", true)
	page.NavErr[confirmURL] = errors.New("unexpected status 403")
	page.Follows[resolve.MenuTarget] = "https://app.example.com/registrants/12345/confirmation/print"
	page.Scripts["menu.mark"] = func(browser.Script) (any, error) { return true, nil }

	if err := o.Run(context.Background(), page, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	confirmation := statusOf(t, job, model.KindConfirmation)
	if confirmation.Status != model.StatusDegraded {
		t.Errorf("expected degraded confirmation through the menu, got %+v", confirmation)
	}
	if _, err := os.Stat(confirmation.FilePath); err != nil {
		t.Errorf("confirmation file missing: %v", err)
	}
	if page.Count("menu.mark") == 0 {
		t.Error("menu fallback should run after the link failed")
	}
}

func TestRun_HomeLostMidway(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	job := newJob(t)

	page := browsertest.New("about:blank", "")
	page.Sites[homeURL] = linkedHome
	// The first visit succeeds, every return to the entity address fails
	visits := 0
	page.Scripts["region.rect"] = func(browser.Script) (any, error) {
		visits++
		page.NavErr[homeURL] = errors.New("net::ERR_CONNECTION_RESET")
		return nil, nil
	}

	err := o.Run(context.Background(), page, job)
	if !errors.Is(err, ErrNavigation) {
		t.Fatalf("expected navigation error, got %v", err)
	}
	if visits == 0 {
		t.Fatal("confirmation was never attempted")
	}
	if a := statusOf(t, job, model.KindAttendance); a.Status != model.StatusCaptured {
		t.Errorf("attendance should survive, got %s", a.Status)
	}
	if a := statusOf(t, job, model.KindTicketEmail); a.Note != "skipped: navigation failed" {
		t.Errorf("ticket email should be skipped, got %+v", a)
	}
}

func TestRun_Cancelled(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	job := newJob(t)
	page := browsertest.New("about:blank", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := o.Run(ctx, page, job); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(page.Navigations) != 0 {
		t.Error("cancelled run must not navigate")
	}
	if len(job.Artifacts) != len(model.CaptureOrder) {
		t.Errorf("expected every kind recorded, got %d", len(job.Artifacts))
	}
}

func TestRun_ContactTab(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Gate.Timeout = 50 * time.Millisecond
	cfg.Gate.QuietWindow = 0
	cfg.Capture.FrameWait = 10 * time.Millisecond
	cfg.Capture.ContactTabSelector = "#tab-contact"
	set, _ := capture.NewSet(cfg.Capture, nil)
	o := New(cfg, browser.NewGate(cfg.Gate, nil), resolve.New(cfg.Resolver, nil), set, nil, nil)

	job := newJob(t)
	page := browsertest.New("about:blank", "")
	page.SetShown("#tab-contact", true)

	if err := o.Run(context.Background(), page, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !contains(page.Clicks, "#tab-contact") {
		t.Error("contact tab should be clicked")
	}
	if a := statusOf(t, job, model.KindContact); a.Status != model.StatusCaptured {
		t.Errorf("expected captured contact, got %s", a.Status)
	}
}

func TestConstructEmailAddress(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	r := &run{o: o, job: newJob(t)}

	got, err := r.constructEmailAddress()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != builtURL {
		t.Errorf("expected %s, got %s", builtURL, got)
	}

	o.resolving.EmailPreviewTemplate = ""
	if got, _ := r.constructEmailAddress(); got != "" {
		t.Errorf("empty template should not construct, got %s", got)
	}
}

func TestState(t *testing.T) {
	seen := make(map[model.EvidenceKind]bool)
	var order []model.EvidenceKind

	for s := StateStart; s != StateDone; s = s.Next() {
		if kind, ok := s.Kind(); ok {
			if seen[kind] {
				t.Errorf("kind %s captured twice", kind)
			}
			seen[kind] = true
			order = append(order, kind)
		}
		if s.String() == "unknown" {
			t.Errorf("state %d has no name", s)
		}
	}

	for i, kind := range model.CaptureOrder {
		if order[i] != kind {
			t.Errorf("state order %v differs from capture order", order)
			break
		}
	}
	if StateDone.Next() != StateDone {
		t.Error("Done must be terminal")
	}
}

func TestSameAddress(t *testing.T) {
	tests := []struct {
		a, b string
		same bool
	}{
		{previewURL, previewURL, true},
		{previewURL, "https://APP.example.com/registrants/emailpreview/?category=ticket&registrantId=12345", true},
		{"https://app.example.com/a%2Db", "https://app.example.com/a-b", true},
		{previewURL + "#top", previewURL, true},
		{previewURL, builtURL, false},
		{previewURL, "http://app.example.com/registrants/emailpreview?registrantId=12345&category=ticket", false},
	}
	for _, tt := range tests {
		if got := sameAddress(tt.a, tt.b); got != tt.same {
			t.Errorf("sameAddress(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.same)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
