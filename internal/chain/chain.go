// Package chain evaluates ordered fallback steps until one matches.
package chain

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoMatch is returned when every step was not applicable or failed
var ErrNoMatch = errors.New("no fallback step matched")

// Outcome is the tri-state result of one step
type Outcome int

const (
	NotApplicable Outcome = iota
	Matched
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case Failed:
		return "failed"
	default:
		return "not_applicable"
	}
}

type abortError struct{ err error }

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

// Abort marks a step error as fatal to the whole chain: Run stops and
// returns err without evaluating the remaining steps
func Abort(err error) error {
	if err == nil {
		return nil
	}
	return &abortError{err: err}
}

// Step is one named strategy in a chain
type Step[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, Outcome, error)
}

// Result reports which step produced the value
type Result[T any] struct {
	Value T
	Step  string
	Index int
}

// Fallback reports whether a step other than the first one matched
func (r Result[T]) Fallback() bool {
	return r.Index > 0
}

// Run evaluates steps in order and returns the first match. Failed steps do
// not stop evaluation; their errors are joined into the final error when
// nothing matches. Context cancellation stops the chain immediately.
func Run[T any](ctx context.Context, steps ...Step[T]) (Result[T], error) {
	var errs []error

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return Result[T]{Index: -1}, err
		}

		value, outcome, err := step.Run(ctx)
		switch outcome {
		case Matched:
			return Result[T]{Value: value, Step: step.Name, Index: i}, nil
		case Failed:
			var abort *abortError
			if errors.As(err, &abort) {
				return Result[T]{Index: -1}, fmt.Errorf("%s: %w", step.Name, abort.err)
			}
			if err == nil {
				err = errors.New("failed")
			}
			errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
		}
	}

	if len(errs) == 0 {
		return Result[T]{Index: -1}, ErrNoMatch
	}
	return Result[T]{Index: -1}, errors.Join(append([]error{ErrNoMatch}, errs...)...)
}

// FromErr maps a plain (value, ok, err) lookup into a step outcome
func FromErr[T any](value T, ok bool, err error) (T, Outcome, error) {
	switch {
	case err != nil:
		return value, Failed, err
	case ok:
		return value, Matched, nil
	default:
		return value, NotApplicable, nil
	}
}
