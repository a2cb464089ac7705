package icdi

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/bigbag/icdi-flasher/internal/protocol"
	"github.com/bigbag/icdi-flasher/internal/rsp"
)

// Transport is the blocking duplex byte channel to the debug interface.
// Write must accept the whole frame; Read may return any number of bytes.
type Transport interface {
	io.Reader
	io.Writer
}

// State is the position of the client in a command exchange.
type State int

const (
	StateIdle State = iota
	StateSent
	StateAwaitAck
	StateAwaitFrame
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSent:
		return "sent"
	case StateAwaitAck:
		return "await-ack"
	case StateAwaitFrame:
		return "await-frame"
	default:
		return "unknown"
	}
}

// Client drives one command at a time over a Transport. It owns the
// scratch buffers frames are built and replies assembled in, so it is not
// safe for concurrent use.
type Client struct {
	transport Transport
	config    Config
	log       zerolog.Logger
	state     State

	tx []byte
	rx []byte
}

// New creates a Client for the given transport.
func New(transport Transport, opts ...Option) *Client {
	if transport == nil {
		panic("transport cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Client{
		transport: transport,
		config:    cfg,
		log:       cfg.Logger,
		tx:        make([]byte, 0, protocol.BufferSize),
		rx:        make([]byte, protocol.BufferSize),
	}
}

// State returns the current exchange state.
func (c *Client) State() State {
	return c.state
}

// MemWrite stores a 32-bit value at addr.
func (c *Client) MemWrite(addr, value uint32) error {
	cmd := protocol.MemWritePayload(addr, value)
	payload, err := c.sendASCII(cmd)
	if err == nil {
		err = protocol.ParseOK(cmd, payload)
	}
	if err != nil {
		return fmt.Errorf("mem write 0x%08x: %w", addr, err)
	}
	return nil
}

// MemRead loads the 32-bit value at addr.
func (c *Client) MemRead(addr uint32) (uint32, error) {
	cmd := protocol.MemReadPayload(addr)
	payload, err := c.sendASCII(cmd)
	if err != nil {
		return 0, fmt.Errorf("mem read 0x%08x: %w", addr, err)
	}
	value, err := protocol.ParseMemRead(cmd, payload)
	if err != nil {
		return 0, fmt.Errorf("mem read 0x%08x: %w", addr, err)
	}
	return value, nil
}

// FlashErase erases length bytes from start. FlashErase(0, 0) erases the chip.
func (c *Client) FlashErase(start, length uint32) error {
	cmd := protocol.FlashErasePayload(start, length)
	payload, err := c.sendASCII(cmd)
	if err == nil {
		err = protocol.ParseOK(cmd, payload)
	}
	if err != nil {
		return fmt.Errorf("flash erase 0x%08x+0x%x: %w", start, length, err)
	}
	return nil
}

// FlashWrite programs at most one flash block at addr.
func (c *Client) FlashWrite(addr uint32, data []byte) error {
	if len(data) > protocol.FlashBlockSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrBlockTooLarge, len(data), protocol.FlashBlockSize)
	}

	prefix := protocol.FlashWritePrefix(addr)
	frame, err := rsp.EncodeBinary(c.tx, prefix, data)
	if err != nil {
		return fmt.Errorf("flash write 0x%08x: %w", addr, err)
	}

	payload, err := c.exchange(frame)
	if err == nil {
		err = protocol.ParseOK(prefix, payload)
	}
	if err != nil {
		return fmt.Errorf("flash write 0x%08x: %w", addr, err)
	}
	return nil
}

// FlashVerify reads len(data) bytes back from addr and compares them.
// A difference is reported as *protocol.VerifyMismatchError.
func (c *Client) FlashVerify(addr uint32, data []byte) error {
	payload, err := c.sendASCII(protocol.FlashVerifyPayload(addr, len(data)))
	if err != nil {
		return fmt.Errorf("flash verify 0x%08x: %w", addr, err)
	}

	raw, err := rsp.Unescape(payload)
	if err != nil {
		return fmt.Errorf("flash verify 0x%08x: %w", addr, err)
	}

	if err := protocol.ParseVerify(addr, raw, data); err != nil {
		return fmt.Errorf("flash verify 0x%08x: %w", addr, err)
	}
	return nil
}

// Monitor runs a qRcmd monitor command and returns the raw reply.
func (c *Client) Monitor(text string) (string, error) {
	frame, err := rsp.EncodeHex(c.tx, protocol.MonitorPrefix, []byte(text))
	if err != nil {
		return "", fmt.Errorf("monitor %q: %w", text, err)
	}

	payload, err := c.exchange(frame)
	if err != nil {
		return "", fmt.Errorf("monitor %q: %w", text, err)
	}
	if e, ok := protocol.ParseErrorReply(payload); ok {
		return "", fmt.Errorf("monitor %q: %w", text, e)
	}
	return string(payload), nil
}

// Query sends text unescaped and returns the raw reply.
func (c *Client) Query(text string) (string, error) {
	payload, err := c.sendASCII(text)
	if err != nil {
		return "", fmt.Errorf("query %q: %w", text, err)
	}
	return string(payload), nil
}

func (c *Client) sendASCII(payload string) ([]byte, error) {
	frame, err := rsp.EncodeASCII(c.tx, payload, "")
	if err != nil {
		return nil, err
	}
	return c.exchange(frame)
}

// exchange runs roundTrip, resending the frame after a nak or a corrupted
// reply while retries remain. The returned payload aliases the rx buffer
// and is valid until the next command.
func (c *Client) exchange(frame []byte) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		payload, err := c.roundTrip(frame)
		if err == nil || attempt >= c.config.Retries || !retryable(err) {
			return payload, err
		}
		c.log.Debug().Err(err).Int("attempt", attempt+1).Msg("retrying command")
	}
}

func retryable(err error) bool {
	var csErr *rsp.ChecksumError
	return errors.Is(err, ErrNak) || errors.As(err, &csErr)
}

// roundTrip sends one frame and waits for the ack and the reply frame.
// The ack and the frame may share a transfer or be split over several.
func (c *Client) roundTrip(frame []byte) ([]byte, error) {
	defer func() { c.state = StateIdle }()

	c.state = StateSent
	c.log.Trace().Bytes("frame", frame).Msg("send")

	n, err := c.transport.Write(frame)
	if err != nil {
		return nil, &TransportError{Op: "write", Err: err}
	}
	if n != len(frame) {
		return nil, &TransportError{Op: "write", Err: fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(frame))}
	}

	var deadline time.Time
	if c.config.ResponseTimeout > 0 {
		deadline = time.Now().Add(c.config.ResponseTimeout)
	}

	c.state = StateAwaitAck
	filled, err := c.readMore(0, deadline)
	if err != nil {
		return nil, err
	}

	switch c.rx[0] {
	case rsp.Ack:
	case rsp.Nak:
		c.log.Trace().Msg("nak")
		return nil, ErrNak
	default:
		return nil, fmt.Errorf("%w, got 0x%02x", ErrBadAck, c.rx[0])
	}
	filled = copy(c.rx, c.rx[1:filled])

	c.state = StateAwaitFrame
	for {
		if end := rsp.FrameEnd(c.rx[:filled]); end >= 0 {
			c.log.Trace().Bytes("frame", c.rx[:end]).Msg("recv")
			if end < filled {
				c.log.Debug().Int("bytes", filled-end).Msg("discarding bytes after reply frame")
			}
			return rsp.Decode(c.rx[:end])
		}

		filled, err = c.readMore(filled, deadline)
		if err != nil {
			return nil, err
		}
	}
}

// readMore appends at least one byte to rx[:filled].
func (c *Client) readMore(filled int, deadline time.Time) (int, error) {
	for {
		if filled == len(c.rx) {
			return filled, &rsp.CapacityError{Need: filled + 1, Cap: len(c.rx)}
		}

		n, err := c.transport.Read(c.rx[filled:])
		if n > 0 {
			return filled + n, nil
		}
		if err != nil {
			return filled, &TransportError{Op: "read", Err: err}
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return filled, &TransportError{Op: "read", Err: ErrTimeout}
		}
	}
}
