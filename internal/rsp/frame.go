package rsp

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
)

// trailerLen is '#' plus two checksum digits.
const trailerLen = 3

var (
	ErrBufferOverflow  = errors.New("rsp: frame exceeds buffer capacity")
	ErrMalformedFrame  = errors.New("rsp: malformed frame")
	ErrIncompleteFrame = errors.New("rsp: incomplete frame")
	ErrTrailingEscape  = fmt.Errorf("%w: trailing escape byte", ErrMalformedFrame)
)

// CapacityError is returned when a frame or reply does not fit the buffer
// it must be assembled in.
type CapacityError struct {
	Need int
	Cap  int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("rsp: frame needs %d bytes, buffer holds %d", e.Need, e.Cap)
}

func (e *CapacityError) Is(target error) bool {
	return target == ErrBufferOverflow
}

// ChecksumError reports a frame whose trailer disagrees with its payload.
type ChecksumError struct {
	Want byte // from the trailer
	Got  byte // computed over the payload
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("rsp: checksum mismatch: frame says %02x, payload sums to %02x", e.Want, e.Got)
}

// Checksum is the modulo-256 sum of the payload bytes.
func Checksum(payload []byte) byte {
	var sum byte
	for _, b := range payload {
		sum += b
	}
	return sum
}

// EncodeASCII builds $<prefix><text>#cs in dst's backing array.
func EncodeASCII(dst []byte, prefix, text string) ([]byte, error) {
	need := 1 + len(prefix) + len(text) + trailerLen
	if need > cap(dst) {
		return nil, &CapacityError{Need: need, Cap: cap(dst)}
	}

	frame := append(dst[:0], Start)
	frame = append(frame, prefix...)
	frame = append(frame, text...)
	return appendTrailer(frame), nil
}

// EncodeHex builds $<prefix><hex(data)>#cs with lowercase hex digits.
func EncodeHex(dst []byte, prefix string, data []byte) ([]byte, error) {
	need := 1 + len(prefix) + hex.EncodedLen(len(data)) + trailerLen
	if need > cap(dst) {
		return nil, &CapacityError{Need: need, Cap: cap(dst)}
	}

	frame := append(dst[:0], Start)
	frame = append(frame, prefix...)
	n := len(frame)
	frame = frame[:n+hex.EncodedLen(len(data))]
	hex.Encode(frame[n:], data)
	return appendTrailer(frame), nil
}

// EncodeBinary builds $<prefix><escaped data>#cs. The checksum covers the
// escaped bytes as they appear on the wire.
func EncodeBinary(dst []byte, prefix string, data []byte) ([]byte, error) {
	need := 1 + len(prefix) + EscapedLen(data) + trailerLen
	if need > cap(dst) {
		return nil, &CapacityError{Need: need, Cap: cap(dst)}
	}

	frame := append(dst[:0], Start)
	frame = append(frame, prefix...)
	frame = Escape(frame, data)
	return appendTrailer(frame), nil
}

// appendTrailer sums everything after the leading '$'.
func appendTrailer(frame []byte) []byte {
	sum := Checksum(frame[1:])
	return append(frame, End, hexDigit(sum>>4), hexDigit(sum&0x0f))
}

func hexDigit(n byte) byte {
	return "0123456789abcdef"[n&0x0f]
}

// FrameEnd returns the index just past the first complete $...#XX in buf,
// or -1 if no complete frame is present yet.
func FrameEnd(buf []byte) int {
	start := bytes.IndexByte(buf, Start)
	if start < 0 {
		return -1
	}
	hash := bytes.IndexByte(buf[start+1:], End)
	if hash < 0 {
		return -1
	}
	end := start + 1 + hash + trailerLen
	if end > len(buf) {
		return -1
	}
	return end
}

// Decode locates $...#XX in raw and returns the payload between the
// delimiters after verifying its checksum. Bytes before '$' are skipped.
// The returned payload aliases raw.
func Decode(raw []byte) ([]byte, error) {
	start := bytes.IndexByte(raw, Start)
	if start < 0 {
		return nil, fmt.Errorf("%w: no start byte", ErrMalformedFrame)
	}
	hash := bytes.IndexByte(raw[start+1:], End)
	if hash < 0 {
		return nil, ErrIncompleteFrame
	}
	hash += start + 1
	if hash+trailerLen > len(raw) {
		return nil, ErrIncompleteFrame
	}

	var want [1]byte
	if _, err := hex.Decode(want[:], raw[hash+1:hash+trailerLen]); err != nil {
		return nil, fmt.Errorf("%w: bad checksum digits %q", ErrMalformedFrame, raw[hash+1:hash+trailerLen])
	}

	payload := raw[start+1 : hash]
	if got := Checksum(payload); got != want[0] {
		return nil, &ChecksumError{Want: want[0], Got: got}
	}

	return payload, nil
}
