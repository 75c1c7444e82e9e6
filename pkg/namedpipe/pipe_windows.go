//go:build windows

package namedpipe

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/windows"

	"github.com/cloudbase/neutron/pkg/constants"
)

const (
	pipePrefix = `\\.\pipe\`
	bufferSize = 4096
)

var pipeCounter atomic.Uint64

// UniqueName returns a pipe path unique to this process.
func UniqueName(base string) string {
	return fmt.Sprintf("%s%s-%d-%d", pipePrefix, base, os.Getpid(), pipeCounter.Add(1))
}

// Pipe is a loopback named pipe: writes go to the server end, reads come
// from the client end opened by CreateFile.
type Pipe struct {
	name   string
	server windows.Handle
	client windows.Handle

	connect windows.Overlapped
	read    windows.Overlapped
	write   windows.Overlapped

	readBuf     []byte
	readPending bool
	// readReady holds the byte count of a completed read not yet collected.
	readReady int
}

// New creates the server end of a named pipe.
func New(name string) (*Pipe, error) {
	p := &Pipe{
		name:      name,
		server:    windows.InvalidHandle,
		client:    windows.InvalidHandle,
		readReady: -1,
	}

	for _, ov := range []*windows.Overlapped{&p.connect, &p.read, &p.write} {
		event, err := windows.CreateEvent(nil, 1, 0, nil)
		if err != nil {
			_ = p.Close()
			return nil, errors.Wrapf(constants.ErrPipeCreate, "CreateEvent: %v", err)
		}
		ov.HEvent = event
	}

	namep, err := windows.UTF16PtrFromString(name)
	if err != nil {
		_ = p.Close()
		return nil, errors.Wrapf(constants.ErrPipeCreate, "%s: %v", name, err)
	}

	p.server, err = windows.CreateNamedPipe(
		namep,
		windows.PIPE_ACCESS_DUPLEX|windows.FILE_FLAG_OVERLAPPED,
		windows.PIPE_TYPE_BYTE|windows.PIPE_READMODE_BYTE|windows.PIPE_WAIT,
		1,
		bufferSize,
		bufferSize,
		0,
		nil,
	)
	if err != nil {
		p.server = windows.InvalidHandle
		_ = p.Close()
		return nil, errors.Wrapf(constants.ErrPipeCreate, "%s: %v", name, err)
	}

	return p, nil
}

func (p *Pipe) Name() string { return p.name }

// Connect issues the connection request. pending reports that the caller
// must WaitForConnection before the pipe is usable.
func (p *Pipe) Connect() (pending bool, err error) {
	err = windows.ConnectNamedPipe(p.server, &p.connect)
	switch {
	case err == nil, errors.Is(err, windows.ERROR_PIPE_CONNECTED):
		return false, nil
	case errors.Is(err, windows.ERROR_IO_PENDING):
		return true, nil
	}
	return false, errors.Wrapf(constants.ErrPipeConnect, "%s: %v", p.name, err)
}

// WaitForConnection blocks until a pending Connect completes.
func (p *Pipe) WaitForConnection() error {
	return wait(p.connect.HEvent)
}

// CreateFile opens the client end in byte read mode.
func (p *Pipe) CreateFile() error {
	namep, err := windows.UTF16PtrFromString(p.name)
	if err != nil {
		return errors.Wrapf(constants.ErrPipeConnect, "%s: %v", p.name, err)
	}

	client, err := windows.CreateFile(
		namep,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_OVERLAPPED,
		0,
	)
	if err != nil {
		return errors.Wrapf(constants.ErrPipeConnect, "could not create file for named pipe: %v", err)
	}

	mode := uint32(windows.PIPE_READMODE_BYTE)
	if err := windows.SetNamedPipeHandleState(client, &mode, nil, nil); err != nil {
		_ = windows.CloseHandle(client)
		return errors.Wrapf(constants.ErrPipeConnect, "could not set pipe read mode to byte: %v", err)
	}

	p.client = client
	return nil
}

// NonblockingRead issues a read of up to n bytes unless one is already
// pending or completed but uncollected.
func (p *Pipe) NonblockingRead(n int) error {
	if p.client == windows.InvalidHandle {
		return constants.ErrPipeNotOpen
	}
	if p.readPending || p.readReady >= 0 {
		return nil
	}

	if cap(p.readBuf) < n {
		p.readBuf = make([]byte, n)
	}
	p.readBuf = p.readBuf[:n]

	var done uint32
	err := windows.ReadFile(p.client, p.readBuf, &done, &p.read)
	switch {
	case err == nil:
		p.readReady = int(done)
		return nil
	case errors.Is(err, windows.ERROR_IO_PENDING):
		p.readPending = true
		return nil
	}
	return errors.Wrapf(constants.ErrPipeRead, "errCode: %v", err)
}

// ReadResult collects the outstanding read. ok is false when no read was
// issued or the pending read has not completed yet.
func (p *Pipe) ReadResult() (data []byte, ok bool, err error) {
	if p.readReady >= 0 {
		n := p.readReady
		p.readReady = -1
		return p.readBuf[:n], true, nil
	}
	if !p.readPending {
		return nil, false, nil
	}

	var done uint32
	err = windows.GetOverlappedResult(p.client, &p.read, &done, false)
	switch {
	case err == nil:
		p.readPending = false
		return p.readBuf[:done], true, nil
	case errors.Is(err, windows.ERROR_IO_INCOMPLETE):
		return nil, false, nil
	}
	return nil, false, errors.Wrapf(constants.ErrPipeRead, "error when retrieving the read result: %v", err)
}

// WaitForRead blocks until the pending read completes. It returns at once
// when no read is pending.
func (p *Pipe) WaitForRead() error {
	if !p.readPending {
		return nil
	}
	return wait(p.read.HEvent)
}

// BlockingWrite writes buf to the server end, waiting for completion.
func (p *Pipe) BlockingWrite(buf []byte) error {
	var done uint32
	err := windows.WriteFile(p.server, buf, &done, &p.write)
	if err == nil {
		return nil
	}
	if !errors.Is(err, windows.ERROR_IO_PENDING) {
		return errors.Wrapf(constants.ErrPipeWrite, "errCode: %v", err)
	}
	if err := windows.GetOverlappedResult(p.server, &p.write, &done, true); err != nil {
		return errors.Wrapf(constants.ErrPipeWrite, "errCode: %v", err)
	}
	return nil
}

// ReadEvent is signaled when a read completes.
func (p *Pipe) ReadEvent() windows.Handle { return p.read.HEvent }

// WriteEvent is signaled when a write completes.
func (p *Pipe) WriteEvent() windows.Handle { return p.write.HEvent }

// ConnectEvent is signaled when a pending Connect completes.
func (p *Pipe) ConnectEvent() windows.Handle { return p.connect.HEvent }

func (p *Pipe) Close() error {
	var errs error
	for _, h := range []*windows.Handle{&p.client, &p.server} {
		if *h != windows.InvalidHandle {
			errs = errors.CombineErrors(errs, windows.CloseHandle(*h))
			*h = windows.InvalidHandle
		}
	}
	for _, ov := range []*windows.Overlapped{&p.connect, &p.read, &p.write} {
		if ov.HEvent != 0 {
			errs = errors.CombineErrors(errs, windows.CloseHandle(ov.HEvent))
			ov.HEvent = 0
		}
	}
	return errs
}

func wait(event windows.Handle) error {
	if _, err := windows.WaitForSingleObject(event, windows.INFINITE); err != nil {
		return errors.Wrap(err, "WaitForSingleObject")
	}
	return nil
}
