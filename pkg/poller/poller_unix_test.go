//go:build unix

package poller

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockTimerFires(t *testing.T) {
	p := New()
	p.TimerWait(20 * time.Millisecond)

	start := time.Now()
	n, err := p.Block()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestShortestTimerWins(t *testing.T) {
	p := New()
	p.TimerWait(time.Hour)
	p.TimerWait(5 * time.Millisecond)
	p.TimerWait(time.Minute)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := p.Block()
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Block did not honour the shortest timer")
	}
}

func TestBlockWakesOnReadableHandle(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	_, err = w.Write([]byte{'X'})
	require.NoError(t, err)

	p := New()
	p.Wait(int(r.Fd()), In)
	p.TimerWait(time.Minute)

	n, err := p.Block()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegistrationsResetAfterBlock(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	_, err = w.Write([]byte{'X'})
	require.NoError(t, err)

	p := New()
	p.Wait(int(r.Fd()), In)
	p.Wait(int(r.Fd()), In)
	require.Len(t, p.fds, 1)

	_, err = p.Block()
	require.NoError(t, err)
	assert.Empty(t, p.fds)
	assert.Equal(t, infinite, p.timeout)
}

func TestImmediateWake(t *testing.T) {
	p := New()
	p.TimerWait(time.Hour)
	p.ImmediateWake()

	n, err := p.Block()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReady(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	ready, err := Ready(int(r.Fd()))
	require.NoError(t, err)
	assert.False(t, ready)

	_, err = w.Write([]byte{'X'})
	require.NoError(t, err)

	ready, err = Ready(int(r.Fd()))
	require.NoError(t, err)
	assert.True(t, ready)
}
