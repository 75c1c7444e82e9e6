//go:build windows

package txnqueue

import (
	"github.com/cockroachdb/errors"

	"github.com/cloudbase/neutron/pkg/namedpipe"
	"github.com/cloudbase/neutron/pkg/poller"
)

var marker = []byte{'X'}

// PipeSignal is the byte-channel strategy for hosts whose pipes are not
// pollable. Marker bytes travel through a loopback named pipe; a one-byte
// overlapped read is always outstanding on the client end, and its completion
// event is the handle.
type PipeSignal struct {
	pipe *namedpipe.Pipe
}

var _ Signal = (*PipeSignal)(nil)

func NewPipeSignal() (*PipeSignal, error) {
	pipe, err := namedpipe.New(namedpipe.UniqueName("TransactionQueuePipe"))
	if err != nil {
		return nil, err
	}

	s := &PipeSignal{pipe: pipe}
	if err := s.open(); err != nil {
		_ = pipe.Close()
		return nil, err
	}
	return s, nil
}

func (s *PipeSignal) open() error {
	pending, err := s.pipe.Connect()
	if err != nil {
		return err
	}
	if err := s.pipe.CreateFile(); err != nil {
		return err
	}
	if pending {
		if err := s.pipe.WaitForConnection(); err != nil {
			return err
		}
	}
	return s.pipe.NonblockingRead(1)
}

func (s *PipeSignal) Notify() error {
	return s.pipe.BlockingWrite(marker)
}

// Consume collects the marker delivered by the outstanding read and re-arms
// it. Re-arming resets the read event unless another marker is already
// buffered, in which case the read completes at once and the event stays set.
func (s *PipeSignal) Consume(_ bool) error {
	data, ok, err := s.pipe.ReadResult()
	if err != nil {
		return err
	}
	if !ok {
		if err := s.pipe.WaitForRead(); err != nil {
			return err
		}
		if data, ok, err = s.pipe.ReadResult(); err != nil {
			return err
		}
	}
	if !ok || len(data) != 1 {
		return errors.Newf("expected one queue marker, got %d bytes", len(data))
	}
	return s.pipe.NonblockingRead(1)
}

func (s *PipeSignal) Handle() poller.Handle {
	return s.pipe.ReadEvent()
}

func (s *PipeSignal) Close() error {
	return s.pipe.Close()
}
