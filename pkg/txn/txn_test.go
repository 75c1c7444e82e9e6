package txn

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliverOnce(t *testing.T) {
	tx := New(Set("a", 1))

	tx.Deliver(Success("first"))
	tx.Deliver(Success("second"))

	o, err := tx.Result(context.Background())
	require.NoError(t, err)
	assert.True(t, o.OK())
	assert.Equal(t, "first", o.Value())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = tx.Result(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "only one outcome is ever delivered")
}

func TestResultBlocksUntilDelivered(t *testing.T) {
	tx := New()

	go func() {
		time.Sleep(10 * time.Millisecond)
		tx.Deliver(Success(42))
	}()

	o, err := tx.Result(context.Background())
	require.NoError(t, err)
	v, err := o.Unwrap()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestMarkQueued(t *testing.T) {
	tx := New()
	assert.True(t, tx.MarkQueued())
	assert.False(t, tx.MarkQueued())
}

func TestOperations(t *testing.T) {
	assert.Equal(t, Operation{Op: OpSet, Key: "a", Value: 1}, Set("a", 1))
	assert.Equal(t, Operation{Op: OpDelete, Key: "a"}, Delete("a"))
}

func TestCapture(t *testing.T) {
	cause := errors.New("conflict")
	f := Capture(cause)

	assert.Equal(t, "conflict", f.Error())
	assert.ErrorIs(t, f, cause)
	assert.NotEmpty(t, f.Trace)
	assert.Contains(t, f.Trace, "conflict")

	o := Failed(f)
	assert.False(t, o.OK())
	assert.Nil(t, o.Value())
	_, err := o.Unwrap()
	assert.ErrorIs(t, err, cause)
}

func TestCaptureAddsStackToPlainErrors(t *testing.T) {
	f := Capture(context.Canceled)
	assert.ErrorIs(t, f, context.Canceled)
	assert.Contains(t, f.Trace, "TestCaptureAddsStackToPlainErrors")
}

func TestCapturePanic(t *testing.T) {
	var f *Failure
	func() {
		defer func() {
			f = CapturePanic(recover())
		}()
		panic("boom")
	}()

	require.NotNil(t, f)
	assert.Contains(t, f.Error(), "boom")
	assert.Contains(t, f.Trace, "TestCapturePanic")
}
