package browser_test

import (
	"context"
	"testing"
	"time"

	"github.com/ppiankov/proofpack/internal/browser"
	"github.com/ppiankov/proofpack/internal/browser/browsertest"
	"github.com/ppiankov/proofpack/internal/model"
)

func testGate(timeout time.Duration) *browser.Gate {
	return browser.NewGate(model.GateConfig{
		LoadingSelector: ".spinner",
		Timeout:         timeout,
		QuietWindow:     20 * time.Millisecond,
		PollInterval:    5 * time.Millisecond,
	}, nil)
}

func TestGate_StableImmediately(t *testing.T) {
	page := browsertest.New("https://app.example.com/", "")

	if !testGate(time.Second).WaitUntilStable(context.Background(), page) {
		t.Error("expected stable page")
	}
}

func TestGate_WaitsForSpinner(t *testing.T) {
	page := browsertest.New("https://app.example.com/", "")
	page.SetShown(".spinner", true)

	go func() {
		time.Sleep(50 * time.Millisecond)
		page.SetShown(".spinner", false)
	}()

	start := time.Now()
	if !testGate(2 * time.Second).WaitUntilStable(context.Background(), page) {
		t.Fatal("expected stable page after spinner cleared")
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("gate returned before spinner cleared")
	}
}

func TestGate_WaitsForQuietNetwork(t *testing.T) {
	page := browsertest.New("https://app.example.com/", "")
	page.SetNet(browser.Activity{Inflight: 2, LastChange: time.Now()})

	go func() {
		time.Sleep(30 * time.Millisecond)
		page.SetNet(browser.Activity{Inflight: 0, LastChange: time.Now()})
	}()

	start := time.Now()
	if !testGate(2 * time.Second).WaitUntilStable(context.Background(), page) {
		t.Fatal("expected stable page once network is quiet")
	}
	// 30ms in flight plus the 20ms quiet window
	if time.Since(start) < 50*time.Millisecond {
		t.Error("gate ignored the quiet window")
	}
}

func TestGate_TimeoutDoesNotFail(t *testing.T) {
	page := browsertest.New("https://app.example.com/", "")
	page.SetShown(".spinner", true)

	start := time.Now()
	if testGate(40 * time.Millisecond).WaitUntilStable(context.Background(), page) {
		t.Error("expected timeout")
	}
	if time.Since(start) > time.Second {
		t.Error("gate overran its timeout")
	}
}

func TestGate_Cancelled(t *testing.T) {
	page := browsertest.New("https://app.example.com/", "")
	page.SetShown(".spinner", true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if testGate(time.Second).WaitUntilStable(ctx, page) {
		t.Error("expected false on cancelled context")
	}
}
