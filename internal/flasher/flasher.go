package flasher

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bigbag/icdi-flasher/internal/icdi"
	"github.com/bigbag/icdi-flasher/internal/protocol"
)

var (
	ErrEmptyImage       = errors.New("firmware image is empty")
	ErrUnalignedAddress = errors.New("start address is not aligned to an erase block")
	ErrImageTooLarge    = errors.New("image does not fit the address space")
)

// Commander is the command set the driver needs from the engine.
type Commander interface {
	MemWrite(addr, value uint32) error
	MemRead(addr uint32) (uint32, error)
	FlashErase(start, length uint32) error
	FlashWrite(addr uint32, data []byte) error
	FlashVerify(addr uint32, data []byte) error
	Monitor(text string) (string, error)
	Query(text string) (string, error)
}

// Stage names the pass a progress report belongs to.
type Stage string

const (
	StageProgram Stage = "program"
	StageVerify  Stage = "verify"
)

// ProgressCallback is called to report flash progress.
type ProgressCallback func(stage Stage, current, total int)

// Options control a firmware write.
type Options struct {
	// StartAddress is where the image is programmed. Must be 1 KiB aligned.
	StartAddress uint32
	// Verify reads every block back after programming.
	Verify bool
	// EraseUsed erases only the blocks the image covers instead of the chip.
	EraseUsed bool
}

// DeviceInfo describes the attached target.
type DeviceInfo struct {
	Supported  string
	HaltReason string
	ID         protocol.DeviceID
}

// Flasher drives the flash sequence of an LM4F120 through an ICDI.
type Flasher struct {
	cmd      Commander
	log      zerolog.Logger
	progress ProgressCallback
}

// New creates a new Flasher on top of cmd.
func New(cmd Commander, logger zerolog.Logger) *Flasher {
	return &Flasher{cmd: cmd, log: logger}
}

// SetProgressCallback sets the progress callback function.
func (f *Flasher) SetProgressCallback(cb ProgressCallback) {
	f.progress = cb
}

func (f *Flasher) reportProgress(stage Stage, current, total int) {
	if f.progress != nil {
		f.progress(stage, current, total)
	}
}

// run executes steps in order and stops at the first failure.
func (f *Flasher) run(steps []Step) error {
	for _, s := range steps {
		f.log.Debug().Str("step", s.Name).Msg("run")
		if err := s.do(f.cmd); err != nil {
			return fmt.Errorf("%s: %w", s.Name, err)
		}
	}
	return nil
}

// Unlock halts the core and readies the flash controller.
func (f *Flasher) Unlock() error {
	if err := f.run(unlockScript); err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	return nil
}

// Reset releases the debug session and restarts the target.
func (f *Flasher) Reset() error {
	if err := f.run(resetScript); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// Write erases, programs and optionally verifies image, then resets the
// board. Verification failures do not stop the sequence: the board is
// still reset and the failures are returned joined. Only a transport
// failure during verify skips the reset.
func (f *Flasher) Write(image []byte, opts Options) error {
	if len(image) == 0 {
		return ErrEmptyImage
	}
	if !protocol.IsEraseAligned(opts.StartAddress) {
		return fmt.Errorf("%w: 0x%08x", ErrUnalignedAddress, opts.StartAddress)
	}
	if uint64(opts.StartAddress)+uint64(len(image)) > 1<<32 {
		return fmt.Errorf("%w: %d bytes at 0x%08x", ErrImageTooLarge, len(image), opts.StartAddress)
	}

	if err := f.Unlock(); err != nil {
		return err
	}

	var start, length uint32
	if opts.EraseUsed {
		start, length = opts.StartAddress, protocol.CalculateEraseSize(len(image))
	}
	if err := f.run(eraseScript(start, length)); err != nil {
		return fmt.Errorf("erase: %w", err)
	}

	if err := f.program(image, opts.StartAddress); err != nil {
		return err
	}

	var failures []error
	if opts.Verify {
		mismatches, err := f.verify(image, opts.StartAddress)
		var tErr *icdi.TransportError
		if errors.As(err, &tErr) {
			return err
		}
		failures = append(mismatches, err)
	}

	if err := f.Reset(); err != nil {
		failures = append(failures, err)
	}
	return errors.Join(failures...)
}

// Erase erases length bytes from start and resets the board.
// Erase(0, 0) erases the whole chip.
func (f *Flasher) Erase(start, length uint32) error {
	if !protocol.IsEraseAligned(start) {
		return fmt.Errorf("%w: 0x%08x", ErrUnalignedAddress, start)
	}
	if length > 0 {
		length = protocol.CalculateEraseSize(int(length))
	}

	if err := f.Unlock(); err != nil {
		return err
	}
	if err := f.run(eraseScript(start, length)); err != nil {
		return fmt.Errorf("erase: %w", err)
	}
	return f.Reset()
}

// Info identifies the target without touching flash.
func (f *Flasher) Info() (*DeviceInfo, error) {
	if _, err := f.cmd.Monitor(protocol.MonDebugClock); err != nil {
		return nil, err
	}

	info := &DeviceInfo{}
	var err error
	if info.Supported, err = f.cmd.Query(protocol.QuerySupported); err != nil {
		return nil, err
	}
	if info.HaltReason, err = f.cmd.Query(protocol.QueryHaltReason); err != nil {
		return nil, err
	}
	if info.ID.DID0, err = f.cmd.MemRead(protocol.RegDID0); err != nil {
		return nil, err
	}
	if info.ID.DID1, err = f.cmd.MemRead(protocol.RegDID1); err != nil {
		return nil, err
	}
	if info.ID.DC0, err = f.cmd.MemRead(protocol.RegDC0); err != nil {
		return nil, err
	}

	if _, err := f.cmd.Monitor(protocol.MonDebugDisable); err != nil {
		return nil, err
	}
	return info, nil
}

func (f *Flasher) program(image []byte, base uint32) error {
	total := protocol.CalculateFlashBlocks(len(image))
	for seq := 0; seq < total; seq++ {
		block, addr := blockAt(image, base, seq)
		if err := f.cmd.FlashWrite(addr, block); err != nil {
			return fmt.Errorf("flash block %d: %w", seq, err)
		}
		f.reportProgress(StageProgram, seq+1, total)
	}
	return nil
}

// verify checks every block and collects the mismatches. Any other error
// ends the pass and is returned with the mismatches seen so far.
func (f *Flasher) verify(image []byte, base uint32) ([]error, error) {
	var mismatches []error

	total := protocol.CalculateFlashBlocks(len(image))
	for seq := 0; seq < total; seq++ {
		block, addr := blockAt(image, base, seq)
		err := f.cmd.FlashVerify(addr, block)

		var mismatch *protocol.VerifyMismatchError
		switch {
		case err == nil:
		case errors.As(err, &mismatch):
			f.log.Warn().Err(err).Int("block", seq).Msg("verify mismatch")
			mismatches = append(mismatches, err)
		default:
			f.log.Error().Err(err).Int("block", seq).Msg("verify failed")
			return mismatches, fmt.Errorf("verify block %d: %w", seq, err)
		}
		f.reportProgress(StageVerify, seq+1, total)
	}
	return mismatches, nil
}

func blockAt(image []byte, base uint32, seq int) ([]byte, uint32) {
	start := seq * protocol.FlashBlockSize
	end := min(start+protocol.FlashBlockSize, len(image))
	return image[start:end], base + uint32(start)
}
