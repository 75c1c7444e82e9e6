//go:build windows

package namedpipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/windows"

	"github.com/cloudbase/neutron/pkg/constants"
)

func openPipe(t *testing.T) *Pipe {
	t.Helper()

	p, err := New(UniqueName("namedpipe-test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	pending, err := p.Connect()
	require.NoError(t, err)
	require.NoError(t, p.CreateFile())
	if pending {
		require.NoError(t, p.WaitForConnection())
	}
	return p
}

func signaled(t *testing.T, h windows.Handle) bool {
	t.Helper()
	event, err := windows.WaitForSingleObject(h, 0)
	require.NoError(t, err)
	return event == windows.WAIT_OBJECT_0
}

func TestReadBeforeCreateFile(t *testing.T) {
	p, err := New(UniqueName("namedpipe-test"))
	require.NoError(t, err)
	defer p.Close()

	assert.ErrorIs(t, p.NonblockingRead(1), constants.ErrPipeNotOpen)
}

func TestPendingReadCompletesAfterWrite(t *testing.T) {
	p := openPipe(t)

	require.NoError(t, p.NonblockingRead(1))
	_, ok, err := p.ReadResult()
	require.NoError(t, err)
	assert.False(t, ok, "nothing written yet")
	assert.False(t, signaled(t, p.ReadEvent()))

	// idempotent while pending
	require.NoError(t, p.NonblockingRead(1))

	require.NoError(t, p.BlockingWrite([]byte("X")))
	require.NoError(t, p.WaitForRead())
	assert.True(t, signaled(t, p.ReadEvent()))

	data, ok, err := p.ReadResult()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("X"), data)

	_, ok, err = p.ReadResult()
	require.NoError(t, err)
	assert.False(t, ok, "result is collected once")
}

func TestSynchronousReadIsAvailableImmediately(t *testing.T) {
	p := openPipe(t)

	require.NoError(t, p.BlockingWrite([]byte("AB")))
	require.NoError(t, p.NonblockingRead(2))
	require.NoError(t, p.WaitForRead())

	data, ok, err := p.ReadResult()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("AB"), data)
}
