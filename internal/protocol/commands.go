package protocol

import "fmt"

// Flash parameters
const (
	FlashBlockSize = 512  // bytes per vFlashWrite
	EraseBlockSize = 1024 // smallest erasable unit

	// BufferSize holds a prefix plus a flash block in which every byte was escaped.
	BufferSize = 64 + 2*FlashBlockSize
)

// MonitorPrefix precedes the hex-encoded monitor command text.
const MonitorPrefix = "qRcmd,"

// MemWritePayload writes one 32-bit word.
func MemWritePayload(addr, value uint32) string {
	return fmt.Sprintf("X%08x,4:%08x", addr, value)
}

// MemReadPayload reads one 32-bit word.
func MemReadPayload(addr uint32) string {
	return fmt.Sprintf("x%08x,4", addr)
}

// FlashErasePayload erases length bytes from start. 0,0 erases the whole chip.
func FlashErasePayload(start, length uint32) string {
	return fmt.Sprintf("vFlashErase:%08x,%08x", start, length)
}

// FlashWritePrefix precedes the escaped block data of a vFlashWrite.
func FlashWritePrefix(addr uint32) string {
	return fmt.Sprintf("vFlashWrite:%08x:", addr)
}

// FlashVerifyPayload reads back length bytes in binary form.
// Unlike the word read, the fields are not zero padded.
func FlashVerifyPayload(addr uint32, length int) string {
	return fmt.Sprintf("x%x,%x", addr, length)
}

// CalculateFlashBlocks returns the number of write blocks needed for size bytes.
func CalculateFlashBlocks(size int) int {
	return (size + FlashBlockSize - 1) / FlashBlockSize
}

// CalculateEraseSize rounds size up to whole erase blocks.
func CalculateEraseSize(size int) uint32 {
	return uint32((size + EraseBlockSize - 1) / EraseBlockSize * EraseBlockSize)
}

// IsEraseAligned reports whether addr starts an erase block.
func IsEraseAligned(addr uint32) bool {
	return addr%EraseBlockSize == 0
}
