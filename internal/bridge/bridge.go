// Package bridge relays a debugger's TCP connection to an ICDI, so that
// gdb can use "target remote" against the board.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bigbag/icdi-flasher/internal/rsp"
)

// DefaultListenAddr is the address gdb connects to.
const DefaultListenAddr = ":7777"

const (
	defaultQueueDepth = 16
	// The ICDI advertises PacketSize=1000 (hex), so gdb never sends more.
	defaultMaxPacket = 0x1000 + 64
	readBufferSize   = 4096
)

// ErrDevice marks failures of the device side. They end the bridge, where
// a client failure only ends the session.
var ErrDevice = errors.New("bridge: device failure")

var errClientClosed = errors.New("bridge: client closed connection")

// Device is the debug adapter end of the relay.
type Device interface {
	ReadContext(ctx context.Context, p []byte) (int, error)
	WriteContext(ctx context.Context, p []byte) (int, error)
}

// Config holds the bridge configuration.
type Config struct {
	Logger     zerolog.Logger
	Metrics    *Metrics
	QueueDepth int
	MaxPacket  int
}

// Option is a functional option for configuring the Bridge.
type Option func(*Config)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics records relay traffic in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithQueueDepth bounds the packets buffered per direction.
func WithQueueDepth(depth int) Option {
	return func(c *Config) {
		if depth > 0 {
			c.QueueDepth = depth
		}
	}
}

// WithMaxPacket bounds the size of a single relayed packet.
func WithMaxPacket(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.MaxPacket = size
		}
	}
}

// Bridge forwards whole RSP packets between one client and the device.
type Bridge struct {
	dev Device
	cfg Config
	log zerolog.Logger
}

// New creates a Bridge for dev.
func New(dev Device, opts ...Option) *Bridge {
	if dev == nil {
		panic("device cannot be nil")
	}

	cfg := Config{
		Logger:     zerolog.Nop(),
		QueueDepth: defaultQueueDepth,
		MaxPacket:  defaultMaxPacket,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Bridge{dev: dev, cfg: cfg, log: cfg.Logger}
}

// ListenAndServe accepts debugger connections on addr and serves them one
// at a time until ctx is cancelled or the device fails.
func (b *Bridge) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return b.ServeListener(ctx, ln)
}

// ServeListener is ListenAndServe on an existing listener. It closes ln.
func (b *Bridge) ServeListener(ctx context.Context, ln net.Listener) error {
	b.log.Info().Str("addr", ln.Addr().String()).Msg("waiting for debugger")

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		err = b.Serve(ctx, conn)
		switch {
		case errors.Is(err, ErrDevice):
			return err
		case err != nil:
			b.log.Warn().Err(err).Msg("session ended")
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Serve relays between conn and the device until either side closes or
// ctx is cancelled. It closes conn.
func (b *Bridge) Serve(ctx context.Context, conn net.Conn) error {
	log := b.log.With().Str("client", conn.RemoteAddr().String()).Logger()
	log.Info().Msg("debugger connected")
	b.cfg.Metrics.sessionStarted()
	defer conn.Close()

	g, gctx := errgroup.WithContext(ctx)
	toClient := make(chan []byte, b.cfg.QueueDepth)
	toDevice := make(chan []byte, b.cfg.QueueDepth)

	// Unblocks the client reader once the session is over.
	stop := context.AfterFunc(gctx, func() { conn.Close() })
	defer stop()

	g.Go(func() error {
		return b.pump(gctx, log, ToClient, toClient, func(p []byte) (int, error) {
			n, err := b.dev.ReadContext(gctx, p)
			if err != nil && gctx.Err() == nil {
				return n, fmt.Errorf("%w: read: %w", ErrDevice, err)
			}
			return n, err
		})
	})
	g.Go(func() error {
		return drain(gctx, toClient, func(data []byte) error {
			if _, err := conn.Write(data); err != nil {
				return fmt.Errorf("client write: %w", err)
			}
			return nil
		})
	})
	g.Go(func() error {
		return b.pump(gctx, log, ToDevice, toDevice, func(p []byte) (int, error) {
			n, err := conn.Read(p)
			if errors.Is(err, io.EOF) {
				return n, errClientClosed
			}
			if err != nil && gctx.Err() == nil {
				return n, fmt.Errorf("client read: %w", err)
			}
			return n, err
		})
	})
	g.Go(func() error {
		// One write in flight: the channel serializes them.
		return drain(gctx, toDevice, func(data []byte) error {
			n, err := b.dev.WriteContext(gctx, data)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: write: %w", ErrDevice, err)
			}
			if n != len(data) {
				return fmt.Errorf("%w: short write: %d of %d bytes", ErrDevice, n, len(data))
			}
			return nil
		})
	})

	err := g.Wait()
	log.Info().Msg("debugger disconnected")
	if errors.Is(err, errClientClosed) || ctx.Err() != nil {
		return nil
	}
	return err
}

// pump reads chunks with read, cuts them into packets and queues each
// packet on out. It returns nil when ctx ends.
func (b *Bridge) pump(ctx context.Context, log zerolog.Logger, direction string, out chan<- []byte, read func([]byte) (int, error)) error {
	splitter := rsp.NewSplitter(b.cfg.MaxPacket)
	buf := make([]byte, readBufferSize)

	emit := func(p rsp.Packet) error {
		if p.Overflow {
			b.cfg.Metrics.overflow(direction)
			log.Warn().Int("dropped", p.Dropped).Str("direction", direction).Msg("dropping oversized packet")
			return nil
		}
		b.cfg.Metrics.packet(direction, p)
		if !p.Valid {
			log.Warn().Str("direction", direction).Bytes("packet", p.Data).Msg("bad checksum, forwarding anyway")
		}
		log.Trace().Str("direction", direction).Bytes("packet", p.Data).Msg("relay")

		select {
		case out <- p.Data:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		n, readErr := read(buf)
		if n > 0 {
			if err := splitter.Feed(buf[:n], emit); err != nil {
				return nilIfDone(ctx, err)
			}
		}
		if readErr != nil {
			return nilIfDone(ctx, readErr)
		}
	}
}

func drain(ctx context.Context, in <-chan []byte, write func([]byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case data := <-in:
			if err := write(data); err != nil {
				return err
			}
		}
	}
}

func nilIfDone(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(err, errClientClosed) {
		return nil
	}
	return err
}
