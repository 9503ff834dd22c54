package deframe

import (
	"reflect"
	"strings"
	"testing"
)

func collectLines(s *Splitter) []string {
	var out []string
	for {
		line, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, line)
	}
}

func TestSplitter(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []string
		tail   int
	}{{
		"single chunk",
		[]string{"P1\n11 00\n00 11\n"},
		[]string{"P1", "11 00", "00 11"},
		0,
	}, {
		"crlf and padding",
		[]string{"  IMG:4\r\n", "\tERROR cam\r\n"},
		[]string{"IMG:4", "ERROR cam"},
		0,
	}, {
		"line split across chunks",
		[]string{"P", "1\n11", " 0", "0\n22"},
		[]string{"P1", "11 00"},
		2,
	}, {
		"empty lines kept",
		[]string{"a\n\n\nb\n"},
		[]string{"a", "", "", "b"},
		0,
	}, {
		"no terminator yet",
		[]string{"abc"},
		nil,
		3,
	},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSplitter(0)
			var got []string
			for _, c := range tt.chunks {
				s.Feed([]byte(c))
				got = append(got, collectLines(s)...)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("lines = %q, want %q", got, tt.want)
			}
			if s.Buffered() != tt.tail {
				t.Errorf("Buffered() = %d, want %d", s.Buffered(), tt.tail)
			}
		})
	}
}

func TestSplitterTake(t *testing.T) {
	s := NewSplitter(0)
	s.Feed([]byte("IMG:6\nab\ncdP1\n"))

	line, ok := s.Next()
	if !ok || line != "IMG:6" {
		t.Fatalf("Next() = %q, %v", line, ok)
	}
	if got := string(s.Take(6)); got != "ab\ncd" {
		t.Errorf("Take(6) = %q, want %q", got, "ab\ncd")
	}
	if got := collectLines(s); !reflect.DeepEqual(got, []string{"P1"}) {
		t.Errorf("lines after take = %q", got)
	}
}

func TestSplitterFlush(t *testing.T) {
	s := NewSplitter(0)
	s.Feed([]byte("row\n22 22  "))
	collectLines(s)

	line, ok := s.Flush()
	if !ok || line != "22 22" {
		t.Errorf("Flush() = %q, %v", line, ok)
	}
	if _, ok := s.Flush(); ok {
		t.Error("second Flush() returned a line")
	}

	s.Feed([]byte(" \r"))
	if _, ok := s.Flush(); ok {
		t.Error("whitespace tail flushed as a line")
	}
}

func TestSplitterOverflow(t *testing.T) {
	long := strings.Repeat("x", 20)

	for _, chunk := range []int{1, 3, 64} {
		s := NewSplitter(8)
		input := []byte("ok\n" + long + "\nafter\n")
		var got []string
		for i := 0; i < len(input); i += chunk {
			end := i + chunk
			if end > len(input) {
				end = len(input)
			}
			s.Feed(input[i:end])
			got = append(got, collectLines(s)...)
		}
		if want := []string{"ok", "after"}; !reflect.DeepEqual(got, want) {
			t.Errorf("chunk %d: lines = %q, want %q", chunk, got, want)
		}
		if s.Overflows() != 1 {
			t.Errorf("chunk %d: Overflows() = %d, want 1", chunk, s.Overflows())
		}
	}
}
