package detect

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"

	"github.com/bigbag/icdi-flasher/internal/protocol"
	"github.com/bigbag/icdi-flasher/internal/usb"
)

// Result represents a detected debug probe.
type Result struct {
	Transport string // "usb" or "serial"
	ID        string // USB serial number or port name
	Serial    string
	Product   string
	ICDI      bool

	// TargetUART marks the LaunchPad virtual COM port. It carries the
	// target's UART0, not the debug channel.
	TargetUART bool
}

// ListDevices returns every ICDI on the USB bus followed by every serial
// port. USB enumeration errors are returned alongside what was found.
func ListDevices() ([]Result, error) {
	var results []Result
	var errs []error

	serials, err := usb.List()
	if err != nil {
		errs = append(errs, err)
	}
	for _, s := range serials {
		results = append(results, Result{
			Transport: "usb",
			ID:        s,
			Serial:    s,
			Product:   "Stellaris ICDI",
			ICDI:      true,
		})
	}

	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to list ports: %w", err))
	}
	for _, p := range ports {
		results = append(results, Result{
			Transport:  "serial",
			ID:         p.Name,
			Serial:     p.SerialNumber,
			Product:    p.Product,
			TargetUART: isTargetUART(p),
		})
	}

	return results, errors.Join(errs...)
}

func isTargetUART(p *enumerator.PortDetails) bool {
	return p.IsUSB &&
		matchID(p.VID, protocol.VendorID) &&
		matchID(p.PID, protocol.ProductID)
}

func matchID(field string, id uint16) bool {
	return strings.EqualFold(strings.TrimPrefix(strings.TrimSpace(field), "0x"), fmt.Sprintf("%04x", id))
}
