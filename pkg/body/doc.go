// Package body moves request and response bytes between interpreter
// threads and the HTTP engine through bounded channels.
//
// Uploads: interpreter code pushes chunks into a [Sender]; the matching
// [Receiver] is handed to the engine as an io.Reader via Receiver.Stream.
//
// Downloads: [NewStreamer] forwards an engine body into a channel and
// returns the [Receiver]; interpreter code pulls chunks with Receiver.Next
// or Receiver.Each.
//
// Blocking calls release the interpreter lock while they wait and return
// gvl.ErrInterrupted if the host interrupts them.
package body

import (
	"errors"
)

// DefaultCapacity is the number of chunks a channel buffers when no
// capacity is given.
const DefaultCapacity = 8

var (
	// ErrChannelClosed is returned when pushing to, or aborting, a channel
	// whose write side is closed, or reading from a closed Receiver.
	ErrChannelClosed = errors.New("body: channel closed")

	// ErrStreamAlreadyConsumed is returned when a Receiver is used in a
	// second consumption mode, or converted to a stream twice.
	ErrStreamAlreadyConsumed = errors.New("body: stream already consumed")
)

// AbortError is delivered to the consumer after the chunks buffered before
// Sender.Abort.
type AbortError struct {
	Message string
}

func (e *AbortError) Error() string {
	return "body: upload aborted: " + e.Message
}
