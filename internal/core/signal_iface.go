package core

import "errors"

// Frame is one encoded signaling message as written to the wire.
type Frame []byte

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// SignalConnection abstracts the duplex transport of a single client.
// Owned by the adapter; TrySend must not block, and any error it returns
// means the connection is unusable.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
