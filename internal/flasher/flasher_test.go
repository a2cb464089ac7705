package flasher

import (
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigbag/icdi-flasher/internal/icdi"
	"github.com/bigbag/icdi-flasher/internal/icdi/icditest"
	"github.com/bigbag/icdi-flasher/internal/protocol"
)

func rcmd(text string) string {
	return protocol.MonitorPrefix + hex.EncodeToString([]byte(text))
}

var wantUnlock = []string{
	rcmd("debug clock \x00"),
	"qSupported",
	"?",
	"Xe0002000,4:03000000",
	"x400fe000,4",
	"x400fe004,4",
	"?",
	"xe000edf0,4",
	rcmd("debug sreset"),
	"xe000edf0,4",
	"x400fe0f0,4",
	"X400fe0f0,4:00000000",
	"xe000edf0,4",
	"x400fe060,4",
	"x400fe000,4",
	"x400fe004,4",
	"x400fe008,4",
	"x400fe000,4",
	"x400fe1a0,4",
}

func wantErase(erase string) []string {
	return []string{
		"X400fd000,4:00000000",
		"xe000edf0,4",
		erase,
		rcmd("debug creset"),
		"xe000edf0,4",
		"Xe000edf0,4:00000000",
		"X400fd000,4:00000200",
		"xe000edf0,4",
		erase,
		rcmd("debug creset"),
		"xe000edf0,4",
		"x400fe0f0,4",
		"X400fe0f0,4:00000000",
		"xe000edf0,4",
	}
}

var wantReset = []string{
	rcmd("set vectorcatch 0"),
	rcmd("debug disable"),
	"Xe0002000,4:03000000",
	rcmd("debug hreset"),
	rcmd("set vectorcatch 0"),
	rcmd("debug disable"),
}

func testImage(size int) []byte {
	image := make([]byte, size)
	for i := range image {
		image[i] = byte(i * 7)
	}
	return image
}

func newFlasher(target *icditest.Target) *Flasher {
	return New(icdi.New(target), zerolog.Nop())
}

func TestWrite_CommandSequence(t *testing.T) {
	target := icditest.NewTarget()
	f := newFlasher(target)
	image := testImage(600)

	require.NoError(t, f.Write(image, Options{Verify: true}))

	cmds := target.Commands()
	require.Len(t, cmds, len(wantUnlock)+14+2+2+len(wantReset))

	assert.Equal(t, wantUnlock, cmds[:len(wantUnlock)])
	cmds = cmds[len(wantUnlock):]
	assert.Equal(t, wantErase("vFlashErase:00000000,00000000"), cmds[:14])
	cmds = cmds[14:]
	assert.True(t, strings.HasPrefix(cmds[0], "vFlashWrite:00000000:"))
	assert.True(t, strings.HasPrefix(cmds[1], "vFlashWrite:00000200:"))
	assert.Equal(t, []string{"x0,200", "x200,58"}, cmds[2:4])
	assert.Equal(t, wantReset, cmds[4:])

	assert.Equal(t, image, target.Image(0, len(image)))
	assert.Equal(t, [][2]uint32{{0, 0}, {0, 0}}, target.Erases())
}

func TestWrite_WithoutVerify(t *testing.T) {
	target := icditest.NewTarget()
	f := newFlasher(target)

	require.NoError(t, f.Write(testImage(100), Options{}))
	for _, cmd := range target.Commands() {
		assert.False(t, strings.HasPrefix(cmd, "x0,"), "unexpected verify %q", cmd)
	}
}

func TestWrite_EraseUsedAndStartAddress(t *testing.T) {
	target := icditest.NewTarget()
	f := newFlasher(target)
	image := testImage(1500)

	require.NoError(t, f.Write(image, Options{StartAddress: 0x400, EraseUsed: true, Verify: true}))

	assert.Equal(t, [][2]uint32{{0x400, 0x800}, {0x400, 0x800}}, target.Erases())
	assert.Equal(t, image, target.Image(0x400, len(image)))

	var writes []string
	for _, cmd := range target.Commands() {
		if strings.HasPrefix(cmd, "vFlashWrite:") {
			writes = append(writes, cmd[:len("vFlashWrite:00000000")])
		}
	}
	assert.Equal(t, []string{"vFlashWrite:00000400", "vFlashWrite:00000600", "vFlashWrite:00000800"}, writes)
}

func TestWrite_Progress(t *testing.T) {
	target := icditest.NewTarget()
	f := newFlasher(target)

	var program, verify []int
	f.SetProgressCallback(func(stage Stage, current, total int) {
		assert.Equal(t, 3, total)
		switch stage {
		case StageProgram:
			program = append(program, current)
		case StageVerify:
			verify = append(verify, current)
		}
	})

	require.NoError(t, f.Write(testImage(1025), Options{Verify: true}))
	assert.Equal(t, []int{1, 2, 3}, program)
	assert.Equal(t, []int{1, 2, 3}, verify)
}

func TestWrite_VerifyMismatchStillResets(t *testing.T) {
	target := icditest.NewTarget()
	target.Stuck[0x10] = 0x00
	target.Stuck[0x210] = 0x00
	f := newFlasher(target)
	image := testImage(1024)
	image[0x10], image[0x210] = 0x55, 0x55

	err := f.Write(image, Options{Verify: true})
	require.Error(t, err)

	var mismatch *protocol.VerifyMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, uint32(0), mismatch.Address)
	assert.Equal(t, 0x10, mismatch.Offset)

	joined, ok := err.(interface{ Unwrap() []error })
	require.True(t, ok)
	assert.Len(t, joined.Unwrap(), 2)

	cmds := target.Commands()
	assert.Equal(t, wantReset, cmds[len(cmds)-len(wantReset):])
}

func TestWrite_VerifyProtocolErrorStillResets(t *testing.T) {
	target := icditest.NewTarget()
	target.Replies["x0,"] = "E03"
	f := newFlasher(target)

	err := f.Write(testImage(1024), Options{Verify: true})
	var reply *protocol.ErrorReply
	require.ErrorAs(t, err, &reply)
	assert.Equal(t, byte(0x03), reply.Code)
	assert.Contains(t, err.Error(), "verify block 0")

	cmds := target.Commands()
	assert.Equal(t, wantReset, cmds[len(cmds)-len(wantReset):])
	assert.NotContains(t, cmds, "x200,200", "verify stops at the failing block")
}

// brokenVerify fails every FlashVerify with err.
type brokenVerify struct {
	Commander
	err error
}

func (b brokenVerify) FlashVerify(uint32, []byte) error { return b.err }

func TestWrite_VerifyTransportErrorSkipsReset(t *testing.T) {
	target := icditest.NewTarget()
	lost := &icdi.TransportError{Op: "read", Err: io.ErrUnexpectedEOF}
	f := New(brokenVerify{Commander: icdi.New(target), err: lost}, zerolog.Nop())

	err := f.Write(testImage(1024), Options{Verify: true})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.NotContains(t, target.Monitors(), protocol.MonDebugHReset)
}

func TestWrite_ProtocolErrorAborts(t *testing.T) {
	target := icditest.NewTarget()
	target.Replies["vFlashWrite:"] = "E01"
	f := newFlasher(target)

	err := f.Write(testImage(1024), Options{Verify: true})
	var reply *protocol.ErrorReply
	require.ErrorAs(t, err, &reply)
	assert.Contains(t, err.Error(), "flash block 0")
	assert.NotContains(t, target.Monitors(), protocol.MonDebugHReset)
}

func TestWrite_UnlockFailure(t *testing.T) {
	target := icditest.NewTarget()
	target.NakNext = 1
	f := newFlasher(target)

	err := f.Write(testImage(16), Options{})
	assert.ErrorIs(t, err, icdi.ErrNak)
	assert.Contains(t, err.Error(), "unlock")
	assert.Len(t, target.Commands(), 1)
}

func TestWrite_RejectsBadInput(t *testing.T) {
	target := icditest.NewTarget()
	f := newFlasher(target)

	assert.ErrorIs(t, f.Write(nil, Options{}), ErrEmptyImage)
	assert.ErrorIs(t, f.Write(testImage(4), Options{StartAddress: 0x200}), ErrUnalignedAddress)
	assert.ErrorIs(t, f.Write(testImage(2048), Options{StartAddress: 0xfffffc00}), ErrImageTooLarge)
	assert.Empty(t, target.Commands())
}

func TestErase(t *testing.T) {
	target := icditest.NewTarget()
	target.Flash[0x10] = 0x42
	f := newFlasher(target)

	require.NoError(t, f.Erase(0, 0))
	assert.Equal(t, [][2]uint32{{0, 0}, {0, 0}}, target.Erases())
	assert.Empty(t, target.Flash)

	cmds := target.Commands()
	assert.Equal(t, wantUnlock, cmds[:len(wantUnlock)])
	assert.Equal(t, wantReset, cmds[len(cmds)-len(wantReset):])
}

func TestErase_RoundsLength(t *testing.T) {
	target := icditest.NewTarget()
	f := newFlasher(target)

	require.NoError(t, f.Erase(0x800, 100))
	assert.Equal(t, [][2]uint32{{0x800, 0x400}, {0x800, 0x400}}, target.Erases())

	assert.ErrorIs(t, f.Erase(0x10, 0), ErrUnalignedAddress)
}

func TestInfo(t *testing.T) {
	target := icditest.NewTarget()
	f := newFlasher(target)

	info, err := f.Info()
	require.NoError(t, err)
	assert.Equal(t, "S05", info.HaltReason)
	assert.True(t, strings.HasPrefix(info.Supported, "PacketSize="))
	assert.Equal(t, protocol.DeviceID{DID0: 0x10050001, DID1: 0x10042000, DC0: 0x007f007f}, info.ID)
	assert.Equal(t, uint32(256*1024), info.ID.FlashSize())
	assert.Equal(t, []string{protocol.MonDebugClock, protocol.MonDebugDisable}, target.Monitors())
}

func TestInfo_Error(t *testing.T) {
	target := icditest.NewTarget()
	target.Replies["x400fe004"] = "E03"
	f := newFlasher(target)

	_, err := f.Info()
	var reply *protocol.ErrorReply
	assert.True(t, errors.As(err, &reply))
}
