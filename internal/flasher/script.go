package flasher

import (
	"fmt"

	"github.com/bigbag/icdi-flasher/internal/protocol"
)

// Step is one command of a replayed script. Read values are discarded;
// the ICDI firmware only needs to see the accesses happen.
type Step struct {
	Name string
	do   func(Commander) error
}

func monitor(text string) Step {
	return Step{
		Name: fmt.Sprintf("monitor %q", text),
		do: func(c Commander) error {
			_, err := c.Monitor(text)
			return err
		},
	}
}

func query(text string) Step {
	return Step{
		Name: fmt.Sprintf("query %q", text),
		do: func(c Commander) error {
			_, err := c.Query(text)
			return err
		},
	}
}

func memWrite(addr, value uint32) Step {
	return Step{
		Name: fmt.Sprintf("write 0x%08x=0x%08x", addr, value),
		do: func(c Commander) error {
			return c.MemWrite(addr, value)
		},
	}
}

func memRead(addr uint32) Step {
	return Step{
		Name: fmt.Sprintf("read 0x%08x", addr),
		do: func(c Commander) error {
			_, err := c.MemRead(addr)
			return err
		},
	}
}

func flashErase(start, length uint32) Step {
	return Step{
		Name: fmt.Sprintf("erase 0x%08x+0x%x", start, length),
		do: func(c Commander) error {
			return c.FlashErase(start, length)
		},
	}
}

// unlockScript halts the core and prepares the flash controller. The
// order matches a captured session of the vendor tool and is replayed as is.
var unlockScript = []Step{
	monitor(protocol.MonDebugClock),
	query(protocol.QuerySupported),
	query(protocol.QueryHaltReason),
	memWrite(protocol.RegFPCtrl, 0x03000000),
	memRead(protocol.RegDID0),
	memRead(protocol.RegDID1),
	query(protocol.QueryHaltReason),
	memRead(protocol.RegDHCSR),
	monitor(protocol.MonDebugSReset),
	memRead(protocol.RegDHCSR),
	memRead(protocol.RegROMCTL),
	memWrite(protocol.RegROMCTL, 0),
	memRead(protocol.RegDHCSR),
	memRead(protocol.RegRCC),
	memRead(protocol.RegDID0),
	memRead(protocol.RegDID1),
	memRead(protocol.RegDC0),
	memRead(protocol.RegDID0),
	memRead(protocol.RegNVMSTAT),
}

// eraseScript erases length bytes from start, 0,0 being the whole chip.
// The FMA/erase/creset group runs twice, as in the captured session.
func eraseScript(start, length uint32) []Step {
	return []Step{
		memWrite(protocol.RegFMA, 0),
		memRead(protocol.RegDHCSR),
		flashErase(start, length),
		monitor(protocol.MonDebugCReset),
		memRead(protocol.RegDHCSR),

		memWrite(protocol.RegDHCSR, 0),

		memWrite(protocol.RegFMA, 0x200),
		memRead(protocol.RegDHCSR),
		flashErase(start, length),
		monitor(protocol.MonDebugCReset),
		memRead(protocol.RegDHCSR),

		memRead(protocol.RegROMCTL),
		memWrite(protocol.RegROMCTL, 0),
		memRead(protocol.RegDHCSR),
	}
}

// resetScript releases the core and hard-resets the board.
var resetScript = []Step{
	monitor(protocol.MonVectorCatchOff),
	monitor(protocol.MonDebugDisable),
	memWrite(protocol.RegFPCtrl, 0x03000000),
	monitor(protocol.MonDebugHReset),
	monitor(protocol.MonVectorCatchOff),
	monitor(protocol.MonDebugDisable),
}
