package rsp

const (
	Start  = '$'
	End    = '#'
	Esc    = '}'
	EscXor = 0x20

	// Interrupt is the out-of-band Ctrl-C a debugger sends between packets.
	Interrupt = 0x03
	Ack       = '+'
	Nak       = '-'
)

// needsEscape reports whether b collides with a frame delimiter.
func needsEscape(b byte) bool {
	return b == Start || b == End || b == Esc
}

// EscapedLen returns the length of data after escaping.
func EscapedLen(data []byte) int {
	n := len(data)
	for _, b := range data {
		if needsEscape(b) {
			n++
		}
	}
	return n
}

// Escape appends data to dst, replacing '#', '$' and '}' with '}' followed
// by the byte XOR 0x20.
func Escape(dst, data []byte) []byte {
	for _, b := range data {
		if needsEscape(b) {
			dst = append(dst, Esc, b^EscXor)
		} else {
			dst = append(dst, b)
		}
	}
	return dst
}

// Unescape reverses Escape. A trailing '}' with nothing after it is a
// malformed frame.
func Unescape(data []byte) ([]byte, error) {
	result := make([]byte, 0, len(data))

	i := 0
	for i < len(data) {
		if data[i] == Esc {
			if i+1 >= len(data) {
				return nil, ErrTrailingEscape
			}
			result = append(result, data[i+1]^EscXor)
			i += 2
		} else {
			result = append(result, data[i])
			i++
		}
	}

	return result, nil
}
