// Package usb opens the ICDI bulk endpoints with libusb.
package usb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
	"github.com/rs/zerolog"

	"github.com/bigbag/icdi-flasher/internal/protocol"
)

var (
	ErrNoDevices       = errors.New("no ICDI device found")
	ErrMultipleDevices = errors.New("more than one ICDI device found, select one by serial")
)

const (
	configNumber        = 1
	defaultPollInterval = 100 * time.Millisecond
	defaultWriteTimeout = 5 * time.Second
)

// Options configure Open.
type Options struct {
	// Serial selects a device by its USB serial number. Empty matches any.
	Serial string
	// PollInterval bounds a single Read. A Read that times out returns 0, nil.
	PollInterval time.Duration
	// WriteTimeout bounds a single Write.
	WriteTimeout time.Duration
	Logger       zerolog.Logger
}

// Device is an opened ICDI interface.
type Device struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint

	serial       string
	pollInterval time.Duration
	writeTimeout time.Duration
	log          zerolog.Logger
}

func isICDI(desc *gousb.DeviceDesc) bool {
	return desc.Vendor == gousb.ID(protocol.VendorID) && desc.Product == gousb.ID(protocol.ProductID)
}

// List returns the serial numbers of all attached ICDI devices.
func List() ([]string, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(isICDI)
	defer func() {
		for _, d := range devs {
			d.Close()
		}
	}()
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}

	serials := make([]string, 0, len(devs))
	for _, d := range devs {
		s, err := d.SerialNumber()
		if err != nil {
			s = "unknown"
		}
		serials = append(serials, s)
	}
	return serials, nil
}

// Open finds the ICDI selected by opts.Serial, claims its debug interface
// and opens both bulk endpoints.
func Open(opts Options) (*Device, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	ctx := gousb.NewContext()
	dev, serial, err := find(ctx, opts.Serial)
	if err != nil {
		ctx.Close()
		return nil, err
	}

	d := &Device{
		ctx:          ctx,
		dev:          dev,
		serial:       serial,
		pollInterval: opts.PollInterval,
		writeTimeout: opts.WriteTimeout,
		log:          opts.Logger,
	}
	if err := d.claim(); err != nil {
		d.Close()
		return nil, err
	}

	d.log.Debug().Str("serial", serial).Msg("opened ICDI")
	return d, nil
}

func find(ctx *gousb.Context, want string) (*gousb.Device, string, error) {
	devs, err := ctx.OpenDevices(isICDI)
	if err != nil && len(devs) == 0 {
		return nil, "", fmt.Errorf("failed to enumerate USB devices: %w", err)
	}

	var match *gousb.Device
	var matchSerial string
	var count int
	for _, d := range devs {
		s, _ := d.SerialNumber()
		if want != "" && s != want {
			d.Close()
			continue
		}
		count++
		if match == nil {
			match, matchSerial = d, s
			continue
		}
		d.Close()
	}

	switch {
	case count == 0:
		if want != "" {
			return nil, "", fmt.Errorf("%w with serial %q", ErrNoDevices, want)
		}
		return nil, "", ErrNoDevices
	case count > 1:
		match.Close()
		return nil, "", ErrMultipleDevices
	}
	return match, matchSerial, nil
}

func (d *Device) claim() error {
	if err := d.dev.SetAutoDetach(true); err != nil {
		return fmt.Errorf("failed to enable kernel driver auto-detach: %w", err)
	}

	cfg, err := d.dev.Config(configNumber)
	if err != nil {
		return fmt.Errorf("failed to select configuration %d: %w", configNumber, err)
	}
	d.cfg = cfg

	intf, err := cfg.Interface(protocol.InterfaceNumber, 0)
	if err != nil {
		return fmt.Errorf("failed to claim interface %d: %w", protocol.InterfaceNumber, err)
	}
	d.intf = intf

	// gousb addresses endpoints by number, without the direction bit.
	if d.in, err = intf.InEndpoint(protocol.EndpointIn & 0x0f); err != nil {
		return fmt.Errorf("failed to open IN endpoint: %w", err)
	}
	if d.out, err = intf.OutEndpoint(protocol.EndpointOut); err != nil {
		return fmt.Errorf("failed to open OUT endpoint: %w", err)
	}
	return nil
}

// Serial returns the USB serial number of the opened device.
func (d *Device) Serial() string {
	return d.serial
}

// Read waits up to the poll interval for data. Returning 0, nil on timeout
// leaves the overall reply deadline to the caller.
func (d *Device) Read(p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.pollInterval)
	defer cancel()

	n, err := d.in.ReadContext(ctx, p)
	if err != nil && n == 0 && ctx.Err() != nil {
		return 0, nil
	}
	return n, err
}

// Write sends p as one bulk transfer.
func (d *Device) Write(p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.writeTimeout)
	defer cancel()
	return d.out.WriteContext(ctx, p)
}

// ReadContext blocks until data arrives or ctx is done.
func (d *Device) ReadContext(ctx context.Context, p []byte) (int, error) {
	return d.in.ReadContext(ctx, p)
}

// WriteContext sends p as one bulk transfer, bounded by ctx.
func (d *Device) WriteContext(ctx context.Context, p []byte) (int, error) {
	return d.out.WriteContext(ctx, p)
}

// Close releases the interface and the device.
func (d *Device) Close() error {
	if d.intf != nil {
		d.intf.Close()
		d.intf = nil
	}

	var errs []error
	if d.cfg != nil {
		errs = append(errs, d.cfg.Close())
		d.cfg = nil
	}
	if d.dev != nil {
		errs = append(errs, d.dev.Close())
		d.dev = nil
	}
	if d.ctx != nil {
		errs = append(errs, d.ctx.Close())
		d.ctx = nil
	}
	return errors.Join(errs...)
}
