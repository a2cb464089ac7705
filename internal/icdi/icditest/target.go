// Package icditest provides a simulated ICDI debug adapter for tests.
package icditest

import (
	"encoding/binary"
	"encoding/hex"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/bigbag/icdi-flasher/internal/protocol"
	"github.com/bigbag/icdi-flasher/internal/rsp"
)

// Target answers RSP frames the way an ICDI adapter attached to an
// LM4F120 does. Every Write is taken as one complete frame and queues
// the ack followed by the reply for subsequent Reads.
type Target struct {
	mu sync.Mutex

	// Registers backs word reads and writes.
	Registers map[uint32]uint32
	// Flash holds programmed bytes. Unwritten addresses read as 0xff.
	Flash map[uint32]byte
	// Stuck overrides flash read-back at the given addresses.
	Stuck map[uint32]byte
	// Replies forces the reply for any command starting with the key.
	Replies map[string]string

	// ChunkSize caps the bytes returned per Read. 0 means unlimited.
	ChunkSize int
	// SplitAck delivers the ack in a Read of its own.
	SplitAck bool
	// NakNext rejects that many upcoming commands.
	NakNext int
	// CorruptNext sends that many upcoming replies with a bad checksum.
	CorruptNext int

	commands []string
	monitors []string
	erases   [][2]uint32
	pending  [][]byte
}

// NewTarget returns a target identifying as a 256 KiB LM4F120H5QR.
func NewTarget() *Target {
	return &Target{
		Registers: map[uint32]uint32{
			protocol.RegDID0: 0x10050001,
			protocol.RegDID1: 0x10042000,
			protocol.RegDC0:  0x007f007f,
		},
		Flash:   make(map[uint32]byte),
		Stuck:   make(map[uint32]byte),
		Replies: make(map[string]string),
	}
}

// Commands returns the payload of every frame received, in order.
func (t *Target) Commands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.commands...)
}

// Monitors returns the decoded text of every monitor command received.
func (t *Target) Monitors() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.monitors...)
}

// Erases returns the start and length of every erase request.
func (t *Target) Erases() [][2]uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][2]uint32(nil), t.erases...)
}

// Image returns size bytes of flash from addr.
func (t *Target) Image(addr uint32, size int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, size)
	for i := range out {
		out[i] = t.flashByte(addr + uint32(i))
	}
	return out
}

func (t *Target) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	payload, err := rsp.Decode(p)
	if err != nil {
		t.queue([]byte{rsp.Nak})
		return len(p), nil
	}
	cmd := string(payload)
	t.commands = append(t.commands, cmd)

	if t.NakNext > 0 {
		t.NakNext--
		t.queue([]byte{rsp.Nak})
		return len(p), nil
	}

	reply := t.handle(cmd)
	frame, err := rsp.EncodeBinary(make([]byte, 0, protocol.BufferSize), "", reply)
	if err != nil {
		return 0, err
	}
	if t.CorruptNext > 0 {
		t.CorruptNext--
		frame[len(frame)-1] ^= 0x01
	}

	if t.SplitAck {
		t.queue([]byte{rsp.Ack})
		t.queue(frame)
	} else {
		t.queue(append([]byte{rsp.Ack}, frame...))
	}
	return len(p), nil
}

// Read returns queued reply bytes, or io.EOF when nothing is pending.
func (t *Target) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.pending) == 0 {
		return 0, io.EOF
	}
	chunk := t.pending[0]
	n := len(chunk)
	if t.ChunkSize > 0 && n > t.ChunkSize {
		n = t.ChunkSize
	}
	n = copy(p, chunk[:n])
	if n == len(chunk) {
		t.pending = t.pending[1:]
	} else {
		t.pending[0] = chunk[n:]
	}
	return n, nil
}

func (t *Target) queue(b []byte) {
	t.pending = append(t.pending, b)
}

// handle returns the raw reply payload. It is escaped on the way out.
func (t *Target) handle(cmd string) []byte {
	for prefix, reply := range t.Replies {
		if strings.HasPrefix(cmd, prefix) {
			return []byte(reply)
		}
	}

	switch {
	case cmd == protocol.QuerySupported:
		return []byte("PacketSize=1000;qXfer:memory-map:read+")
	case cmd == protocol.QueryHaltReason:
		return []byte("S05")
	case strings.HasPrefix(cmd, protocol.MonitorPrefix):
		text, err := hex.DecodeString(cmd[len(protocol.MonitorPrefix):])
		if err != nil {
			return []byte("E01")
		}
		t.monitors = append(t.monitors, string(text))
		return []byte(protocol.ReplyOK)
	case strings.HasPrefix(cmd, "vFlashErase:"):
		return t.erase(cmd[len("vFlashErase:"):])
	case strings.HasPrefix(cmd, "vFlashWrite:"):
		return t.program(cmd[len("vFlashWrite:"):])
	case strings.HasPrefix(cmd, "X"):
		return t.writeWord(cmd[1:])
	case strings.HasPrefix(cmd, "x"):
		return t.read(cmd[1:])
	}
	return nil
}

func (t *Target) erase(args string) []byte {
	start, length, ok := parsePair(args, ",")
	if !ok {
		return []byte("E01")
	}
	t.erases = append(t.erases, [2]uint32{start, length})
	if start == 0 && length == 0 {
		clear(t.Flash)
		return []byte(protocol.ReplyOK)
	}
	for a := start; a < start+length; a++ {
		delete(t.Flash, a)
	}
	return []byte(protocol.ReplyOK)
}

func (t *Target) program(args string) []byte {
	addrField, data, ok := strings.Cut(args, ":")
	if !ok {
		return []byte("E01")
	}
	addr, err := strconv.ParseUint(addrField, 16, 32)
	if err != nil {
		return []byte("E01")
	}
	raw, err := rsp.Unescape([]byte(data))
	if err != nil {
		return []byte("E01")
	}
	for i, b := range raw {
		t.Flash[uint32(addr)+uint32(i)] = b
	}
	return []byte(protocol.ReplyOK)
}

func (t *Target) writeWord(args string) []byte {
	loc, value, ok := strings.Cut(args, ":")
	if !ok {
		return []byte("E01")
	}
	addr, _, ok := parsePair(loc, ",")
	if !ok {
		return []byte("E01")
	}
	v, err := strconv.ParseUint(value, 16, 32)
	if err != nil {
		return []byte("E01")
	}
	t.Registers[addr] = uint32(v)
	return []byte(protocol.ReplyOK)
}

// read serves both the padded word read and the unpadded binary read-back.
func (t *Target) read(args string) []byte {
	addrField, _, _ := strings.Cut(args, ",")
	addr, length, ok := parsePair(args, ",")
	if !ok {
		return []byte("E01")
	}

	if length == 4 && len(addrField) == 8 {
		var word [4]byte
		binary.LittleEndian.PutUint32(word[:], t.Registers[addr])
		return []byte(hex.EncodeToString(word[:]))
	}

	out := []byte(protocol.VerifyPrefix)
	for i := uint32(0); i < length; i++ {
		out = append(out, t.flashByte(addr+i))
	}
	return out
}

func (t *Target) flashByte(addr uint32) byte {
	if b, ok := t.Stuck[addr]; ok {
		return b
	}
	if b, ok := t.Flash[addr]; ok {
		return b
	}
	return 0xff
}

func parsePair(s, sep string) (uint32, uint32, bool) {
	a, b, ok := strings.Cut(s, sep)
	if !ok {
		return 0, 0, false
	}
	x, err := strconv.ParseUint(a, 16, 32)
	if err != nil {
		return 0, 0, false
	}
	y, err := strconv.ParseUint(b, 16, 32)
	if err != nil {
		return 0, 0, false
	}
	return uint32(x), uint32(y), true
}
