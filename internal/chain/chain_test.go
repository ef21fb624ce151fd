package chain

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func step(name string, value string, outcome Outcome, err error, calls *[]string) Step[string] {
	return Step[string]{
		Name: name,
		Run: func(ctx context.Context) (string, Outcome, error) {
			*calls = append(*calls, name)
			return value, outcome, err
		},
	}
}

func TestRun_FirstMatchWins(t *testing.T) {
	var calls []string
	res, err := Run(context.Background(),
		step("a", "", NotApplicable, nil, &calls),
		step("b", "B", Matched, nil, &calls),
		step("c", "C", Matched, nil, &calls),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Value != "B" || res.Step != "b" || res.Index != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if !res.Fallback() {
		t.Error("expected fallback for index 1")
	}
	if strings.Join(calls, ",") != "a,b" {
		t.Errorf("step c should not run, calls=%v", calls)
	}
}

func TestRun_FailedStepContinues(t *testing.T) {
	var calls []string
	res, err := Run(context.Background(),
		step("a", "", Failed, errors.New("boom"), &calls),
		step("b", "B", Matched, nil, &calls),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Step != "b" {
		t.Errorf("expected b, got %s", res.Step)
	}
}

func TestRun_NoMatch(t *testing.T) {
	var calls []string
	_, err := Run(context.Background(),
		step("a", "", NotApplicable, nil, &calls),
		step("b", "", Failed, errors.New("boom"), &calls),
	)
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
	if !strings.Contains(err.Error(), "b: boom") {
		t.Errorf("expected step error in %q", err.Error())
	}
}

func TestRun_Empty(t *testing.T) {
	_, err := Run[string](context.Background())
	if !errors.Is(err, ErrNoMatch) {
		t.Errorf("expected ErrNoMatch, got %v", err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls []string
	_, err := Run(ctx, step("a", "A", Matched, nil, &calls))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(calls) != 0 {
		t.Error("no step should run after cancellation")
	}
}

func TestFromErr(t *testing.T) {
	if _, o, _ := FromErr("x", true, nil); o != Matched {
		t.Errorf("expected matched, got %s", o)
	}
	if _, o, _ := FromErr("", false, nil); o != NotApplicable {
		t.Errorf("expected not_applicable, got %s", o)
	}
	if _, o, _ := FromErr("", true, errors.New("e")); o != Failed {
		t.Errorf("expected failed, got %s", o)
	}
}

func TestRun_AbortStops(t *testing.T) {
	var calls []string
	fatal := errors.New("navigation timeout")

	_, err := Run(context.Background(),
		step("link", "", Failed, Abort(fatal), &calls),
		step("menu", "M", Matched, nil, &calls),
	)
	if !errors.Is(err, fatal) {
		t.Fatalf("expected aborting error, got %v", err)
	}
	if errors.Is(err, ErrNoMatch) {
		t.Error("an aborted chain is not a miss")
	}
	if strings.Join(calls, ",") != "link" {
		t.Errorf("menu should not run after abort, calls=%v", calls)
	}
}

func TestAbort_Nil(t *testing.T) {
	if Abort(nil) != nil {
		t.Error("Abort(nil) must be nil")
	}
}
