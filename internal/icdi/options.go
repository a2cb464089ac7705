package icdi

import (
	"time"

	"github.com/rs/zerolog"
)

// Config holds the client configuration.
type Config struct {
	// Logger receives a trace of every frame (optional)
	Logger zerolog.Logger

	// Retries is the number of times a command is resent after a nak or a
	// reply with a bad checksum. 0 surfaces the first failure.
	Retries int

	// ResponseTimeout bounds the wait for ack and reply. 0 waits forever.
	ResponseTimeout time.Duration
}

func defaultConfig() Config {
	return Config{
		Logger: zerolog.Nop(),
	}
}

// Option is a functional option for configuring the Client.
type Option func(*Config)

// WithLogger sets the logger used for frame traces.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithRetries sets how often a nak'd or corrupted exchange is retried.
func WithRetries(retries int) Option {
	return func(c *Config) {
		if retries >= 0 {
			c.Retries = retries
		}
	}
}

// WithResponseTimeout bounds how long a command waits for its reply.
func WithResponseTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout >= 0 {
			c.ResponseTimeout = timeout
		}
	}
}
