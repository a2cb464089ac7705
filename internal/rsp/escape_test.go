package rsp

import (
	"bytes"
	"errors"
	"testing"
)

func TestEscape_NoSpecialBytes(t *testing.T) {
	input := []byte{0x01, 0x02, 0x41, 0xFF}
	result := Escape(nil, input)
	if !bytes.Equal(result, input) {
		t.Errorf("Escape(%v) = %v, want %v", input, result, input)
	}
}

func TestEscape_SpecialBytes(t *testing.T) {
	input := []byte{0x23, 0x24, 0x7d, 0x41}
	result := Escape(nil, input)
	expected := []byte{0x7d, 0x03, 0x7d, 0x04, 0x7d, 0x5d, 0x41}
	if !bytes.Equal(result, expected) {
		t.Errorf("Escape(%v) = %v, want %v", input, result, expected)
	}
}

func TestEscape_AppendsToDst(t *testing.T) {
	result := Escape([]byte("vFlashWrite:"), []byte{'$'})
	expected := append([]byte("vFlashWrite:"), 0x7d, 0x04)
	if !bytes.Equal(result, expected) {
		t.Errorf("Escape() = %v, want %v", result, expected)
	}
}

func TestEscapedLen(t *testing.T) {
	tests := []struct {
		input    []byte
		expected int
	}{
		{nil, 0},
		{[]byte{0x00}, 1},
		{[]byte{'#'}, 2},
		{[]byte{'#', '$', '}', 'A'}, 7},
		{bytes.Repeat([]byte{'}'}, 512), 1024},
	}

	for _, tc := range tests {
		if got := EscapedLen(tc.input); got != tc.expected {
			t.Errorf("EscapedLen(%v) = %d, want %d", tc.input, got, tc.expected)
		}
	}
}

func TestUnescape_SpecialBytes(t *testing.T) {
	input := []byte{0x7d, 0x03, 0x7d, 0x04, 0x7d, 0x5d, 0x41}
	result, err := Unescape(input)
	if err != nil {
		t.Fatalf("Unescape() error = %v", err)
	}
	expected := []byte{0x23, 0x24, 0x7d, 0x41}
	if !bytes.Equal(result, expected) {
		t.Errorf("Unescape(%v) = %v, want %v", input, result, expected)
	}
}

func TestUnescape_AnyFollowingByte(t *testing.T) {
	// The byte after '}' is always XORed, even if it was never special.
	result, err := Unescape([]byte{0x7d, 0x61})
	if err != nil {
		t.Fatalf("Unescape() error = %v", err)
	}
	if !bytes.Equal(result, []byte{0x41}) {
		t.Errorf("Unescape() = %v, want [0x41]", result)
	}
}

func TestUnescape_TrailingEscape(t *testing.T) {
	_, err := Unescape([]byte{0x41, 0x7d})
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("Unescape trailing '}' error = %v, want ErrMalformedFrame", err)
	}
	if !errors.Is(err, ErrTrailingEscape) {
		t.Errorf("Unescape trailing '}' error = %v, want ErrTrailingEscape", err)
	}
}

func TestEscapeUnescape_RoundTrip(t *testing.T) {
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}

	testCases := [][]byte{
		{},
		{0x00},
		{'#'},
		{'$'},
		{'}'},
		{'}', '}', '}'},
		{'#', '$', '}', 'A'},
		{0x03, 0x04, 0x5d},
		all,
		bytes.Repeat([]byte{'#', 0x00}, 256),
	}

	for i, tc := range testCases {
		escaped := Escape(nil, tc)
		if bytes.IndexByte(escaped, '#') >= 0 || bytes.IndexByte(escaped, '$') >= 0 {
			t.Errorf("Case %d: Escape(%v) left a delimiter in %v", i, tc, escaped)
		}
		decoded, err := Unescape(escaped)
		if err != nil {
			t.Errorf("Case %d: Unescape() error = %v", i, err)
			continue
		}
		if !bytes.Equal(decoded, tc) {
			t.Errorf("Case %d: RoundTrip(%v) = %v", i, tc, decoded)
		}
	}
}
