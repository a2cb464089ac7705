package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigbag/icdi-flasher/embedded"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, TransportUSB, cfg.Transport)
	assert.Equal(t, ":7777", cfg.Bridge.Listen)

	d, err := cfg.ResponseTimeout()
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "icdi.toml", `
transport = "serial"
port = "/dev/ttyACM0"
verify = true
retries = 2
timeout = "1500ms"

[bridge]
listen = "127.0.0.1:2331"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, TransportSerial, cfg.Transport)
	assert.Equal(t, "/dev/ttyACM0", cfg.Port)
	assert.True(t, cfg.Verify)
	assert.Equal(t, 2, cfg.Retries)
	assert.Equal(t, "127.0.0.1:2331", cfg.Bridge.Listen)

	// Unset keys keep their defaults.
	assert.Equal(t, 115200, cfg.Baud)
	assert.Equal(t, 16, cfg.Bridge.QueueDepth)

	d, err := cfg.ResponseTimeout()
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "icdi.yaml", `
serial: 0E10A1B2
erase_used: true
bridge:
  metrics: ":9100"
  queue_depth: 4
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, TransportUSB, cfg.Transport)
	assert.Equal(t, "0E10A1B2", cfg.Serial)
	assert.True(t, cfg.EraseUsed)
	assert.Equal(t, ":9100", cfg.Bridge.Metrics)
	assert.Equal(t, 4, cfg.Bridge.QueueDepth)
	assert.Equal(t, ":7777", cfg.Bridge.Listen)
}

func TestLoad_EmptyYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_UnknownKeys(t *testing.T) {
	_, err := Load(writeFile(t, "bad.toml", "verfy = true\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verfy")

	_, err = Load(writeFile(t, "bad.yaml", "verfy: true\n"))
	assert.Error(t, err)
}

func TestLoad_UnknownFormat(t *testing.T) {
	_, err := Load(writeFile(t, "icdi.json", "{}"))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"transport", `transport = "jtag"`},
		{"serial without port", `transport = "serial"`},
		{"baud", `baud = 0`},
		{"retries", `retries = -1`},
		{"timeout", `timeout = "soon"`},
		{"negative timeout", `timeout = "-1s"`},
		{"queue depth", "[bridge]\nqueue_depth = 0"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "icdi.toml", tc.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_EmbeddedExample(t *testing.T) {
	path := writeFile(t, embedded.ExampleConfigName, string(embedded.ExampleConfig()))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Verify)

	d, err := cfg.ResponseTimeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)
}
