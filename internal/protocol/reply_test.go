package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestParseErrorReply(t *testing.T) {
	tests := []struct {
		payload string
		ok      bool
		code    byte
	}{
		{"E01", true, 0x01},
		{"Eff", true, 0xff},
		{"E0", false, 0},
		{"E012", false, 0},
		{"Ezz", false, 0},
		{"OK", false, 0},
		{"", false, 0},
	}

	for _, tc := range tests {
		e, ok := ParseErrorReply([]byte(tc.payload))
		if ok != tc.ok {
			t.Errorf("ParseErrorReply(%q) ok = %v, want %v", tc.payload, ok, tc.ok)
			continue
		}
		if ok && e.Code != tc.code {
			t.Errorf("ParseErrorReply(%q) code = 0x%02X, want 0x%02X", tc.payload, e.Code, tc.code)
		}
	}
}

func TestParseOK(t *testing.T) {
	if err := ParseOK("X", []byte("OK")); err != nil {
		t.Errorf("ParseOK(OK) error = %v", err)
	}

	err := ParseOK("X", []byte("E03"))
	var reply *ErrorReply
	if !errors.As(err, &reply) || reply.Code != 0x03 {
		t.Errorf("ParseOK(E03) error = %v, want ErrorReply 0x03", err)
	}

	err = ParseOK("X", []byte(""))
	var unexpected *UnexpectedReplyError
	if !errors.As(err, &unexpected) {
		t.Errorf("ParseOK(empty) error = %v, want UnexpectedReplyError", err)
	}
}

func TestParseMemRead_LittleEndian(t *testing.T) {
	tests := []struct {
		payload  string
		expected uint32
	}{
		{"78563412", 0x12345678},
		{"00000003", 0x03000000},
		{"ffffffff", 0xffffffff},
		{"0100FE10", 0x10fe0001},
	}

	for _, tc := range tests {
		value, err := ParseMemRead("x", []byte(tc.payload))
		if err != nil {
			t.Errorf("ParseMemRead(%q) error = %v", tc.payload, err)
			continue
		}
		if value != tc.expected {
			t.Errorf("ParseMemRead(%q) = 0x%08X, want 0x%08X", tc.payload, value, tc.expected)
		}
	}
}

func TestParseMemRead_Invalid(t *testing.T) {
	inputs := []string{"", "1234", "123456789", "zz563412", "OK"}
	for _, in := range inputs {
		_, err := ParseMemRead("x400fe000,4", []byte(in))
		var unexpected *UnexpectedReplyError
		if !errors.As(err, &unexpected) {
			t.Errorf("ParseMemRead(%q) error = %v, want UnexpectedReplyError", in, err)
		}
	}

	_, err := ParseMemRead("x", []byte("E01"))
	var reply *ErrorReply
	if !errors.As(err, &reply) {
		t.Errorf("ParseMemRead(E01) error = %v, want ErrorReply", err)
	}
}

func TestParseVerify_Match(t *testing.T) {
	expected := []byte{0x23, 0x24, 0x7d, 0x41}
	reply := append([]byte("OK:"), expected...)
	if err := ParseVerify(0, reply, expected); err != nil {
		t.Errorf("ParseVerify() error = %v", err)
	}
}

func TestParseVerify_Mismatch(t *testing.T) {
	expected := []byte{0x01, 0x02, 0x03, 0x04}
	reply := append([]byte("OK:"), 0x01, 0x02, 0xFF, 0x04)

	err := ParseVerify(0x200, reply, expected)
	var mismatch *VerifyMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("ParseVerify() error = %v, want VerifyMismatchError", err)
	}
	if mismatch.Address != 0x200 || mismatch.Offset != 2 || mismatch.Expected != 0x03 || mismatch.Actual != 0xFF {
		t.Errorf("VerifyMismatchError = %+v", mismatch)
	}
	if !strings.Contains(err.Error(), "0x00000202") {
		t.Errorf("error %q should name address 0x00000202", err.Error())
	}
}

func TestParseVerify_Truncated(t *testing.T) {
	err := ParseVerify(0, []byte("OK:\x01"), []byte{0x01, 0x02})
	var mismatch *VerifyMismatchError
	if !errors.As(err, &mismatch) || !mismatch.Truncated || mismatch.Offset != 1 {
		t.Errorf("ParseVerify() error = %v, want truncated mismatch at offset 1", err)
	}
}

func TestParseVerify_MissingPrefix(t *testing.T) {
	err := ParseVerify(0, []byte("\x01\x02"), []byte{0x01, 0x02})
	var unexpected *UnexpectedReplyError
	if !errors.As(err, &unexpected) {
		t.Errorf("ParseVerify() error = %v, want UnexpectedReplyError", err)
	}
	if unexpected != nil && unexpected.Command != "x0,2" {
		t.Errorf("UnexpectedReplyError.Command = %q, want %q", unexpected.Command, "x0,2")
	}
}
