//go:build unix

package txnqueue

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"

	"github.com/cloudbase/neutron/pkg/poller"
)

const defaultStrategy = StrategyPipe

var marker = []byte{'X'}

// PipeSignal keeps exactly one marker byte in a pipe per queued item.
// The read end is readable if and only if the queue is non-empty.
type PipeSignal struct {
	r, w int
}

var _ Signal = (*PipeSignal)(nil)

func NewPipeSignal() (*PipeSignal, error) {
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		return nil, errors.Wrap(err, "pipe")
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return nil, errors.Wrap(err, "set pipe nonblocking")
		}
	}
	return &PipeSignal{r: fds[0], w: fds[1]}, nil
}

func (s *PipeSignal) Notify() error {
	for {
		_, err := unix.Write(s.w, marker)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return errors.Wrap(err, "write queue marker")
	}
}

// Consume reads one marker byte per removed item, so the number of pending
// markers always equals the queue depth.
func (s *PipeSignal) Consume(_ bool) error {
	var buf [1]byte
	for {
		n, err := unix.Read(s.r, buf[:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "read queue marker")
		}
		if n != 1 {
			return errors.New("queue marker pipe closed")
		}
		return nil
	}
}

func (s *PipeSignal) Handle() poller.Handle {
	return s.r
}

func (s *PipeSignal) Close() error {
	errR := unix.Close(s.r)
	errW := unix.Close(s.w)
	return errors.CombineErrors(errR, errW)
}
