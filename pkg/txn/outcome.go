package txn

import (
	"fmt"
	"runtime/debug"

	"github.com/cockroachdb/errors"
)

// Outcome is either a success carrying the committed value, or a Failure.
type Outcome struct {
	value   any
	failure *Failure
}

func Success(value any) Outcome {
	return Outcome{value: value}
}

func Failed(f *Failure) Outcome {
	return Outcome{failure: f}
}

// OK reports whether the transaction committed.
func (o Outcome) OK() bool { return o.failure == nil }

// Value is the committed result; nil for a failure.
func (o Outcome) Value() any { return o.value }

// Failure is nil for a success.
func (o Outcome) Failure() *Failure { return o.failure }

// Unwrap returns the value, or the failure as an error.
func (o Outcome) Unwrap() (any, error) {
	if o.failure != nil {
		return nil, o.failure
	}
	return o.value, nil
}

// Failure pairs a commit fault with the execution trace that produced it, so
// it can cross from the connection loop to the caller as plain data.
type Failure struct {
	Err   error
	Trace string
}

func (f *Failure) Error() string { return f.Err.Error() }

func (f *Failure) Unwrap() error { return f.Err }

// Capture records err together with a trace. If err already carries a stack
// it is rendered; otherwise the current stack is attached first.
func Capture(err error) *Failure {
	if err == nil {
		err = errors.New("commit failed with a nil error")
	}
	traced := err
	if errors.GetReportableStackTrace(err) == nil {
		traced = errors.WithStackDepth(err, 1)
	}
	return &Failure{
		Err:   err,
		Trace: fmt.Sprintf("%+v", traced),
	}
}

// CapturePanic converts a recovered panic value into a Failure. It must be
// called from the deferred function that recovered, so the stack still
// shows the panicking frames.
func CapturePanic(recovered any) *Failure {
	err, ok := recovered.(error)
	if !ok {
		err = errors.Newf("panic: %v", recovered)
	}
	return &Failure{
		Err:   err,
		Trace: fmt.Sprintf("%v\n%s", recovered, debug.Stack()),
	}
}
