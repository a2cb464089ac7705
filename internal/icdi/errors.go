package icdi

import (
	"errors"
	"fmt"
)

var (
	ErrNak           = errors.New("icdi: target rejected command (nak)")
	ErrBadAck        = errors.New("icdi: expected ack byte")
	ErrTimeout       = errors.New("icdi: timed out waiting for reply")
	ErrShortWrite    = errors.New("icdi: short write")
	ErrBlockTooLarge = errors.New("icdi: flash block too large")
)

// TransportError wraps a failure of the underlying byte channel. It is
// fatal for the whole flash sequence.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("icdi: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
