package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// ReplyOK acknowledges writes and erases.
const ReplyOK = "OK"

// VerifyPrefix precedes the binary data of a flash read-back.
const VerifyPrefix = "OK:"

// ParseErrorReply recognises the Enn error reply.
func ParseErrorReply(payload []byte) (*ErrorReply, bool) {
	if len(payload) != 3 || payload[0] != 'E' {
		return nil, false
	}
	var code [1]byte
	if _, err := hex.Decode(code[:], payload[1:]); err != nil {
		return nil, false
	}
	return &ErrorReply{Code: code[0]}, true
}

// ParseOK checks a reply that must be the literal OK.
func ParseOK(command string, payload []byte) error {
	if bytes.HasPrefix(payload, []byte(ReplyOK)) {
		return nil
	}
	if e, ok := ParseErrorReply(payload); ok {
		return e
	}
	return &UnexpectedReplyError{Command: command, Reply: string(payload)}
}

// ParseMemRead decodes a word read reply. The target sends the word in
// memory order, so the eight hex digits are four little-endian bytes.
func ParseMemRead(command string, payload []byte) (uint32, error) {
	if e, ok := ParseErrorReply(payload); ok {
		return 0, e
	}
	if len(payload) != 8 {
		return 0, &UnexpectedReplyError{Command: command, Reply: string(payload)}
	}

	var word [4]byte
	if _, err := hex.Decode(word[:], payload); err != nil {
		return 0, &UnexpectedReplyError{Command: command, Reply: string(payload)}
	}
	return binary.LittleEndian.Uint32(word[:]), nil
}

// ParseVerify compares an unescaped read-back reply against expected.
func ParseVerify(addr uint32, reply, expected []byte) error {
	if !bytes.HasPrefix(reply, []byte(VerifyPrefix)) {
		if e, ok := ParseErrorReply(reply); ok {
			return e
		}
		return &UnexpectedReplyError{Command: FlashVerifyPayload(addr, len(expected)), Reply: string(reply)}
	}

	actual := reply[len(VerifyPrefix):]
	for i, want := range expected {
		if i >= len(actual) {
			return &VerifyMismatchError{Address: addr, Offset: i, Expected: want, Truncated: true}
		}
		if actual[i] != want {
			return &VerifyMismatchError{Address: addr, Offset: i, Expected: want, Actual: actual[i]}
		}
	}
	return nil
}

// ErrorReply is an Enn reply from the target.
type ErrorReply struct {
	Code byte
}

func (e *ErrorReply) Error() string {
	return fmt.Sprintf("target replied E%02X", e.Code)
}

// UnexpectedReplyError is a well-formed frame whose payload does not fit the command.
type UnexpectedReplyError struct {
	Command string
	Reply   string
}

func (e *UnexpectedReplyError) Error() string {
	return fmt.Sprintf("unexpected reply to %q: %q", e.Command, e.Reply)
}

// VerifyMismatchError reports flash content that differs from the image.
type VerifyMismatchError struct {
	Address   uint32 // block start
	Offset    int    // first differing byte within the block
	Expected  byte
	Actual    byte
	Truncated bool // reply ended before Offset
}

func (e *VerifyMismatchError) Error() string {
	if e.Truncated {
		return fmt.Sprintf("verify failed for block 0x%08X: reply ended at offset %d", e.Address, e.Offset)
	}
	return fmt.Sprintf("verify failed for block 0x%08X at 0x%08X: expected 0x%02X, got 0x%02X",
		e.Address, e.Address+uint32(e.Offset), e.Expected, e.Actual)
}
