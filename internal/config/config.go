// Package config loads optional defaults for the command line from a TOML
// or YAML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Transports
const (
	TransportUSB    = "usb"
	TransportSerial = "serial"
)

var ErrUnknownFormat = errors.New("config: unknown file format, use .toml, .yaml or .yml")

// Config mirrors the command line flags.
type Config struct {
	Transport string `toml:"transport" yaml:"transport"`
	Serial    string `toml:"serial" yaml:"serial"`
	Port      string `toml:"port" yaml:"port"`
	Baud      int    `toml:"baud" yaml:"baud"`
	Verify    bool   `toml:"verify" yaml:"verify"`
	EraseUsed bool   `toml:"erase_used" yaml:"erase_used"`
	Retries   int    `toml:"retries" yaml:"retries"`
	// Timeout is a Go duration string. Empty or "0s" waits forever.
	Timeout string `toml:"timeout" yaml:"timeout"`
	Debug   bool   `toml:"debug" yaml:"debug"`

	Bridge Bridge `toml:"bridge" yaml:"bridge"`
}

// Bridge configures the bridge command.
type Bridge struct {
	Listen     string `toml:"listen" yaml:"listen"`
	Metrics    string `toml:"metrics" yaml:"metrics"`
	QueueDepth int    `toml:"queue_depth" yaml:"queue_depth"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Transport: TransportUSB,
		Baud:      115200,
		Bridge: Bridge{
			Listen:     ":7777",
			QueueDepth: 16,
		},
	}
}

// Load reads path on top of Default. The format follows the extension.
// Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, fmt.Errorf("load config %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportUSB, TransportSerial:
	default:
		return fmt.Errorf("transport must be %q or %q, got %q", TransportUSB, TransportSerial, c.Transport)
	}
	// The LaunchPad's own virtual COM port is the target UART, so there is
	// nothing to detect.
	if c.Transport == TransportSerial && strings.TrimSpace(c.Port) == "" {
		return fmt.Errorf("transport %q requires a port", TransportSerial)
	}
	if c.Baud <= 0 {
		return fmt.Errorf("baud must be positive, got %d", c.Baud)
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", c.Retries)
	}
	if _, err := c.ResponseTimeout(); err != nil {
		return err
	}
	if c.Bridge.QueueDepth <= 0 {
		return fmt.Errorf("bridge.queue_depth must be positive, got %d", c.Bridge.QueueDepth)
	}
	return nil
}

// ResponseTimeout parses Timeout.
func (c Config) ResponseTimeout() (time.Duration, error) {
	s := strings.TrimSpace(c.Timeout)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("timeout must not be negative, got %s", d)
	}
	return d, nil
}
