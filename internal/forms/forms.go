// Package forms models a field form as explicit state transitions. Input is
// only ever changed by Edit or Reset, so a failed submission keeps
// everything the user typed.
package forms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ajitpratap0/microplan/internal/models"
)

// Status is the lifecycle position of a form.
type Status string

const (
	StatusEditing   Status = "Editing"
	StatusPending   Status = "Pending"
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
)

// ErrInvalidTransition is returned when an action is not allowed in the
// current status.
var ErrInvalidTransition = errors.New("invalid form transition")

// Form holds user input I and the result R of its last submission.
type Form[I, R any] struct {
	Input  I      `json:"input"`
	Status Status `json:"status"`
	Result *R     `json:"result,omitempty"`
	Notice string `json:"notice,omitempty"`
	Err    error  `json:"-"`
}

// New returns a form in the Editing state.
func New[I, R any](input I) Form[I, R] {
	return Form[I, R]{Input: input, Status: StatusEditing}
}

// Action is one form transition.
type Action[I, R any] interface {
	apply(f Form[I, R]) (Form[I, R], error)
}

// Edit replaces the input. Not allowed while a submission is pending.
type Edit[I, R any] struct{ Input I }

// Submit starts a submission.
type Submit[I, R any] struct{}

// Succeed completes a pending submission.
type Succeed[I, R any] struct{ Result R }

// Fail ends a pending submission with an error. Input is kept.
type Fail[I, R any] struct{ Err error }

// Reset clears input and result.
type Reset[I, R any] struct{}

// Reduce returns the form that results from applying a to f.
func Reduce[I, R any](f Form[I, R], a Action[I, R]) (Form[I, R], error) {
	return a.apply(f)
}

func invalid(from Status, action string) error {
	return fmt.Errorf("%w: %s while %s", ErrInvalidTransition, action, strings.ToLower(string(from)))
}

func (a Edit[I, R]) apply(f Form[I, R]) (Form[I, R], error) {
	if f.Status == StatusPending {
		return f, invalid(f.Status, "edit")
	}
	f.Input = a.Input
	f.Status = StatusEditing
	f.Notice, f.Err = "", nil
	return f, nil
}

func (Submit[I, R]) apply(f Form[I, R]) (Form[I, R], error) {
	if f.Status == StatusPending {
		return f, invalid(f.Status, "submit")
	}
	f.Status = StatusPending
	f.Notice, f.Err = "", nil
	return f, nil
}

func (a Succeed[I, R]) apply(f Form[I, R]) (Form[I, R], error) {
	if f.Status != StatusPending {
		return f, invalid(f.Status, "succeed")
	}
	r := a.Result
	f.Result = &r
	f.Status = StatusSucceeded
	f.Notice = "Saved."
	return f, nil
}

func (a Fail[I, R]) apply(f Form[I, R]) (Form[I, R], error) {
	if f.Status != StatusPending {
		return f, invalid(f.Status, "fail")
	}
	f.Status = StatusFailed
	f.Err = a.Err
	f.Notice = Notice(a.Err)
	return f, nil
}

func (Reset[I, R]) apply(Form[I, R]) (Form[I, R], error) {
	var zero I
	return New[I, R](zero), nil
}

// Notice returns the user-facing message for a failed submission.
func Notice(err error) string {
	var ve *models.ValidationError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, models.ErrRecommendationFailed):
		// Checked first: a malformed answer wraps a ValidationError.
		return "The recommendation could not be generated. Your entries were kept; try again or submit without it."
	case errors.As(err, &ve):
		fields := make([]string, 0, len(ve.Errors))
		for _, fe := range ve.Errors {
			fields = append(fields, fe.Field+" "+fe.Message)
		}
		return "Please check: " + strings.Join(fields, "; ") + "."
	case errors.Is(err, models.ErrStoreUnavailable):
		return "Saved on this device but not yet synced. It will be retried."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out. Your entries were kept."
	default:
		return "Submission failed: " + err.Error()
	}
}

// Run submits f through call and returns the settled form together with the
// call's error.
func Run[I, R any](ctx context.Context, f Form[I, R], call func(ctx context.Context, input I) (R, error)) (Form[I, R], error) {
	f, err := Reduce[I, R](f, Submit[I, R]{})
	if err != nil {
		return f, err
	}
	res, callErr := call(ctx, f.Input)
	if callErr != nil {
		f, _ = Reduce[I, R](f, Fail[I, R]{Err: callErr})
		return f, callErr
	}
	f, _ = Reduce[I, R](f, Succeed[I, R]{Result: res})
	return f, nil
}
