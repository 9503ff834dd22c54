package deframe

import "bytes"

// Splitter cuts raw bytes into newline-terminated lines. Bytes after the last
// newline stay buffered until more data arrives, or until Take hands them to a
// binary payload.
type Splitter struct {
	buf      []byte
	off      int
	scanned  int
	maxLine  int
	skipping bool
	overflow int
}

func NewSplitter(maxLine int) *Splitter {
	return &Splitter{maxLine: maxLine}
}

func (s *Splitter) Feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	if s.off > 0 && s.off >= len(s.buf)/2 {
		n := copy(s.buf, s.buf[s.off:])
		s.buf = s.buf[:n]
		s.scanned -= s.off
		s.off = 0
	}
	s.buf = append(s.buf, chunk...)
}

// Next returns the next complete line with surrounding whitespace trimmed.
func (s *Splitter) Next() (string, bool) {
	for {
		idx := bytes.IndexByte(s.buf[s.scanned:], '\n')
		if idx < 0 {
			if s.skipping {
				s.reset()
				return "", false
			}
			s.scanned = len(s.buf)
			if s.overlong(len(s.buf) - s.off) {
				// drop the tail and everything up to its newline
				s.reset()
				s.skipping = true
				s.overflow++
			}
			return "", false
		}
		end := s.scanned + idx
		raw := s.buf[s.off:end]
		s.off = end + 1
		s.scanned = s.off
		if s.skipping {
			s.skipping = false
			continue
		}
		if s.overlong(len(raw)) {
			s.overflow++
			continue
		}
		return string(bytes.TrimSpace(raw)), true
	}
}

// Take removes up to n unconsumed bytes from the buffer without line
// splitting.
func (s *Splitter) Take(n int) []byte {
	avail := len(s.buf) - s.off
	if n > avail {
		n = avail
	}
	out := make([]byte, n)
	copy(out, s.buf[s.off:s.off+n])
	s.off += n
	if s.scanned < s.off {
		s.scanned = s.off
	}
	if s.off == len(s.buf) {
		s.reset()
	}
	return out
}

// Flush returns the unterminated tail as a final line. It reports false when
// the tail is empty or only whitespace.
func (s *Splitter) Flush() (string, bool) {
	tail := bytes.TrimSpace(s.buf[s.off:])
	skipping := s.skipping
	line := string(tail)
	s.reset()
	s.skipping = false
	if skipping || len(line) == 0 {
		return "", false
	}
	return line, true
}

func (s *Splitter) Buffered() int {
	return len(s.buf) - s.off
}

// Overflows counts lines dropped for exceeding the line bound.
func (s *Splitter) Overflows() int {
	return s.overflow
}

func (s *Splitter) overlong(n int) bool {
	return s.maxLine > 0 && n > s.maxLine
}

func (s *Splitter) reset() {
	s.buf = s.buf[:0]
	s.off = 0
	s.scanned = 0
}
