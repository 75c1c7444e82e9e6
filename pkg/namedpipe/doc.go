// Package namedpipe adapts a windows overlapped named pipe to the
// issue / maybe-pending / wait / collect shape the connection loop uses for
// every other waitable.
//
// Overlapped I/O is the only non-blocking primitive windows offers for pipes,
// and a pipe handle cannot be folded into WaitForMultipleObjects directly.
// Pipe therefore keeps one event per direction (connect, read, write):
//
//   - Connect issues the server-side connection request.
//   - NonblockingRead issues at most one read; while it is pending further
//     calls are no-ops. ReadEvent is signaled once it completes.
//   - ReadResult collects a completed read. An incomplete read is not an
//     error; the caller simply tries again after the next wakeup.
//   - BlockingWrite issues a write and, if it pends, waits for it.
//
// Any failure other than "operation pending" is fatal for the pipe.
//
// The package is only built on windows.
package namedpipe
