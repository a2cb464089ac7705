package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bigbag/icdi-flasher/internal/config"
	"github.com/bigbag/icdi-flasher/internal/flasher"
	"github.com/bigbag/icdi-flasher/internal/icdi"
	"github.com/bigbag/icdi-flasher/internal/serial"
	"github.com/bigbag/icdi-flasher/internal/usb"
)

// resolveConfig loads --config and applies every flag the user set on top.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if configFlag != "" {
		var err error
		if cfg, err = config.Load(configFlag); err != nil {
			return config.Config{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("transport") {
		cfg.Transport = transportFlag
	}
	if flags.Changed("serial") {
		cfg.Serial = serialFlag
	}
	if flags.Changed("port") {
		cfg.Port = portFlag
	}
	if flags.Changed("baud") {
		cfg.Baud = baudFlag
	}
	if flags.Changed("retries") {
		cfg.Retries = retriesFlag
	}
	if flags.Changed("timeout") {
		cfg.Timeout = timeoutFlag.String()
	}
	if flags.Changed("debug") {
		cfg.Debug = debugFlag
	}
	if flags.Changed("verify") {
		cfg.Verify = verifyFlag
	}
	if flags.Changed("erase-used") {
		cfg.EraseUsed = eraseUsedFlag
	}
	if flags.Changed("listen") {
		cfg.Bridge.Listen = listenFlag
	}
	if flags.Changed("metrics") {
		cfg.Bridge.Metrics = metricsFlag
	}
	if flags.Changed("queue-depth") {
		cfg.Bridge.QueueDepth = queueDepthFlag
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(cfg config.Config) zerolog.Logger {
	level := zerolog.WarnLevel
	if cfg.Debug {
		level = zerolog.TraceLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()
}

// probe is what both transports provide.
type probe interface {
	icdi.Transport
	ReadContext(ctx context.Context, p []byte) (int, error)
	WriteContext(ctx context.Context, p []byte) (int, error)
	io.Closer
}

func openProbe(cfg config.Config, log zerolog.Logger) (probe, string, error) {
	switch cfg.Transport {
	case config.TransportSerial:
		port, err := serial.Open(cfg.Port, cfg.Baud)
		if err != nil {
			return nil, "", err
		}
		return port, fmt.Sprintf("%s @ %d baud", port.PortName(), port.BaudRate()), nil
	default:
		dev, err := usb.Open(usb.Options{Serial: cfg.Serial, Logger: log})
		if err != nil {
			return nil, "", err
		}
		return dev, fmt.Sprintf("ICDI %s", dev.Serial()), nil
	}
}

// session is an opened probe with the engine and driver on top.
type session struct {
	probe   probe
	name    string
	flasher *flasher.Flasher
}

func openSession(cfg config.Config) (*session, error) {
	log := newLogger(cfg)

	p, name, err := openProbe(cfg, log)
	if err != nil {
		return nil, err
	}
	fmt.Printf("Probe: %s\n", name)

	timeout, err := cfg.ResponseTimeout()
	if err != nil {
		p.Close()
		return nil, err
	}

	client := icdi.New(p,
		icdi.WithLogger(log),
		icdi.WithRetries(cfg.Retries),
		icdi.WithResponseTimeout(timeout),
	)

	return &session{
		probe:   p,
		name:    name,
		flasher: flasher.New(client, log),
	}, nil
}

func (s *session) Close() error {
	return s.probe.Close()
}
