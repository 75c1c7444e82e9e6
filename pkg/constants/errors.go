package constants

import "github.com/cockroachdb/errors"

// Configuration faults, reported synchronously by connection.New.
var (
	ErrNoTimeout         = errors.New("connection: a positive timeout is required")
	ErrFactoryAndTarget  = errors.New("connection: takes either a factory, or a target and schema; both given")
	ErrNoFactoryOrTarget = errors.New("connection: takes either a factory, or a target and schema; neither given")
	ErrNoSchema          = errors.New("connection: a target needs a schema name")
	ErrQueueCapacity     = errors.New("queue capacity must be at least 1")
)

// Transaction and queue errors.
var (
	ErrTxnAlreadyQueued = errors.New("transaction already queued")
	ErrQueueClosed      = errors.New("queue closed")
	ErrUnsupported      = errors.New("not supported on this platform")
)

// Replica client errors.
var (
	ErrTimeout          = errors.New("timeout")
	ErrIDInUse          = errors.New("id already in use")
	ErrUnknownTable     = errors.New("table not present in schema")
	ErrUnknownScheme    = errors.New("unsupported target scheme")
	ErrClientClosed     = errors.New("replica client closed")
	ErrUnknownOperation = errors.New("unknown operation")
)

// Platform I/O faults from the overlapped stream adapter.
var (
	ErrPipeCreate  = errors.New("could not create named pipe")
	ErrPipeConnect = errors.New("could not connect named pipe")
	ErrPipeRead    = errors.New("could not read from named pipe")
	ErrPipeWrite   = errors.New("could not write to named pipe")
	ErrPipeNotOpen = errors.New("create_file must be called first")
)
