package protocol

// ICDI USB identity on Stellaris and Tiva LaunchPad boards
const (
	VendorID        = 0x1cbe
	ProductID       = 0x00fd
	InterfaceNumber = 2
	EndpointIn      = 0x83
	EndpointOut     = 0x02
)

// Core debug and system registers touched by the flash sequence
const (
	// FlashPatch Control Register (ARMv7-M ARM C1.11.3)
	RegFPCtrl = 0xe0002000
	// Debug Halting Control and Status Register (ARMv7-M ARM C1.6.2)
	RegDHCSR = 0xe000edf0

	// Device Identification 0 and 1
	RegDID0 = 0x400fe000
	RegDID1 = 0x400fe004
	// Device Capabilities 0
	RegDC0 = 0x400fe008
	// Run-Mode Clock Configuration
	RegRCC = 0x400fe060
	// Non-Volatile Memory Information
	RegNVMSTAT = 0x400fe1a0
	// ROM Control
	RegROMCTL = 0x400fe0f0
	// Flash Memory Address
	RegFMA = 0x400fd000
)

// Monitor commands understood by the ICDI firmware
const (
	// The trailing NUL is part of the captured trace.
	MonDebugClock     = "debug clock \x00"
	MonDebugSReset    = "debug sreset"
	MonDebugCReset    = "debug creset"
	MonDebugHReset    = "debug hreset"
	MonDebugDisable   = "debug disable"
	MonVectorCatchOff = "set vectorcatch 0"
)

// Literal queries
const (
	QuerySupported  = "qSupported"
	QueryHaltReason = "?"
)

// DeviceID holds the decoded identification registers.
type DeviceID struct {
	DID0 uint32
	DID1 uint32
	DC0  uint32
}

// Class returns the DID0 device class field.
func (d DeviceID) Class() uint8 {
	return uint8(d.DID0 >> 16)
}

// Revision returns the silicon revision as letter and digit, e.g. "A1".
func (d DeviceID) Revision() string {
	major := byte(d.DID0 >> 8)
	minor := byte(d.DID0)
	if major > 25 || minor > 9 {
		return "?"
	}
	return string([]byte{'A' + major, '0' + minor})
}

// PartNumber returns the DID1 PARTNO field.
func (d DeviceID) PartNumber() uint8 {
	return uint8(d.DID1 >> 16)
}

// Family returns the DID1 FAM field. 0 is Stellaris.
func (d DeviceID) Family() uint8 {
	return uint8(d.DID1>>24) & 0x0f
}

// FlashSize returns the flash size in bytes derived from DC0 FLASHSZ.
func (d DeviceID) FlashSize() uint32 {
	return (d.DC0&0xffff + 1) * 2048
}
