package constants

import "time"

const (
	// QueueDepth is the capacity of the transaction hand-off queue.
	// Only one transaction is ever in flight.
	QueueDepth = 1
	// RequestIDLength size of id sent on each replica request
	RequestIDLength = 16
	// DefaultRequestTimeout bounds a single replica round trip
	DefaultRequestTimeout = 30 * time.Second
	// InboxDepth is the initial capacity of the replica notification buffer.
	InboxDepth = 64
)

var (
	WebsocketScheme       = "ws"
	SecureWebsocketScheme = "wss"
	TCPScheme             = "tcp"
	UnixScheme            = "unix"
)
