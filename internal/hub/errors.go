package hub

import "errors"

var (
	// ErrUnknownNode is returned for operations on a node id that is not registered.
	ErrUnknownNode = errors.New("unknown node")

	// ErrQueueExhausted is returned when the queue cannot advance any further.
	ErrQueueExhausted = errors.New("no more tasks available")
)
