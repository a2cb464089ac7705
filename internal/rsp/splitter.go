package rsp

// SplitState is the position of a Splitter within the byte stream.
type SplitState int

const (
	SplitIdle SplitState = iota
	SplitPayload
	SplitChecksum1
	SplitChecksum2
)

func (s SplitState) String() string {
	switch s {
	case SplitIdle:
		return "idle"
	case SplitPayload:
		return "payload"
	case SplitChecksum1:
		return "checksum1"
	case SplitChecksum2:
		return "checksum2"
	default:
		return "unknown"
	}
}

// Packet is one unit cut from a stream: any ack/nak bytes seen since the
// last packet followed by either a full $...#XX frame or an interrupt byte.
//
// An Overflow packet carries no data. It reports that Dropped bytes were
// thrown away because a packet outgrew the splitter.
type Packet struct {
	Data      []byte
	Acks      int
	Naks      int
	Interrupt bool
	Valid     bool // checksum matched; always true for interrupts
	Overflow  bool
	Dropped   int
}

// Splitter cuts an RSP byte stream into packets regardless of how the
// stream was chunked by the transport. One Splitter tracks one direction.
type Splitter struct {
	state SplitState
	buf   []byte
	max   int
	sum   byte
	want  byte
	bad   bool
	acks  int
	naks  int

	// discard is set while the rest of an oversized frame is skipped.
	discard bool
	dropped int
}

// NewSplitter returns a Splitter that refuses to buffer more than max bytes.
func NewSplitter(max int) *Splitter {
	return &Splitter{
		buf: make([]byte, 0, max),
		max: max,
	}
}

// State returns the current stream state.
func (s *Splitter) State() SplitState {
	return s.state
}

// Buffered returns the number of bytes held for an unfinished packet.
func (s *Splitter) Buffered() int {
	return len(s.buf)
}

// Reset drops any partial packet.
func (s *Splitter) Reset() {
	s.state = SplitIdle
	s.buf = s.buf[:0]
	s.acks, s.naks = 0, 0
	s.bad = false
	s.discard = false
	s.dropped = 0
}

// Feed advances the state machine over data, calling emit for every
// completed packet. Packet.Data is a fresh copy owned by the callee.
//
// A frame that outgrows the buffer is skipped up to its checksum and
// reported as one Overflow packet; the bytes after it are still split.
func (s *Splitter) Feed(data []byte, emit func(Packet) error) error {
	for _, b := range data {
		if !s.discard && len(s.buf) >= s.max {
			if err := s.overflow(emit); err != nil {
				return err
			}
		}
		if s.discard {
			s.dropped++
		} else {
			s.buf = append(s.buf, b)
		}

		switch s.state {
		case SplitIdle:
			switch b {
			case Start:
				s.state = SplitPayload
				s.sum = 0
				s.bad = false
			case Ack:
				s.acks++
			case Nak:
				s.naks++
			case Interrupt:
				if err := s.flush(emit, true, true); err != nil {
					return err
				}
			}
		case SplitPayload:
			if b == End {
				s.state = SplitChecksum1
			} else {
				s.sum += b
			}
		case SplitChecksum1:
			n, ok := unhex(b)
			s.want = n << 4
			s.bad = !ok
			s.state = SplitChecksum2
		case SplitChecksum2:
			n, ok := unhex(b)
			s.want |= n
			valid := ok && !s.bad && s.want == s.sum
			s.state = SplitIdle
			if s.discard {
				p := Packet{Overflow: true, Dropped: s.dropped}
				s.discard, s.dropped = false, 0
				if err := emit(p); err != nil {
					return err
				}
				continue
			}
			if err := s.flush(emit, false, valid); err != nil {
				return err
			}
		}
	}
	return nil
}

// overflow drops the buffered bytes. Inside a frame the rest of it is
// discarded too; between frames the drop is reported at once.
func (s *Splitter) overflow(emit func(Packet) error) error {
	dropped := len(s.buf)
	s.buf = s.buf[:0]
	s.acks, s.naks = 0, 0
	if s.state == SplitIdle {
		return emit(Packet{Overflow: true, Dropped: dropped})
	}
	s.discard = true
	s.dropped = dropped
	return nil
}

func (s *Splitter) flush(emit func(Packet) error, interrupt, valid bool) error {
	p := Packet{
		Data:      append([]byte(nil), s.buf...),
		Acks:      s.acks,
		Naks:      s.naks,
		Interrupt: interrupt,
		Valid:     valid,
	}
	s.buf = s.buf[:0]
	s.acks, s.naks = 0, 0
	return emit(p)
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
