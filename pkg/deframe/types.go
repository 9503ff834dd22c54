package deframe

import (
	"fmt"
	"time"
)

type Kind int

const (
	KindBinary Kind = iota + 1
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindBinary:
		return "binary"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Frame is one reassembled unit recovered from the stream. Binary frames carry
// Bytes of exactly the declared length, text frames carry the rows that followed
// their sentinel line.
type Frame struct {
	Kind  Kind
	Seq   uint64
	Bytes []byte
	Lines []string
	// Partial is set on text frames closed by stream end, shutdown or preemption
	// instead of by the next sentinel.
	Partial bool
	Time    time.Time
}

// Len is the payload size: bytes for binary frames, rows for text frames.
func (f *Frame) Len() int {
	if f.Kind == KindText {
		return len(f.Lines)
	}
	return len(f.Bytes)
}

type State int

const (
	StateIdle State = iota
	StateAwaitingBinaryPayload
	StateAccumulatingTextFrame
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingBinaryPayload:
		return "awaiting_binary_payload"
	case StateAccumulatingTextFrame:
		return "accumulating_text_frame"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event is a single engine output. Exactly one of Frame and Err is set.
type Event struct {
	Frame *Frame
	Err   error
}

// EmitFunc receives events in the order they are produced.
type EmitFunc func(Event)

// PreemptPolicy decides what happens to an accumulating text frame when a
// binary header arrives before the next sentinel.
type PreemptPolicy string

const (
	PreemptEmit    PreemptPolicy = "emit"
	PreemptDiscard PreemptPolicy = "discard"
)

type Config struct {
	// HeaderTag and Separator form the binary header prefix, e.g. "IMG" ":".
	HeaderTag string
	Separator string
	// Sentinel is the line that opens (and by recurrence closes) a text frame.
	Sentinel string
	// ErrorMarker is the substring identifying device-reported error lines.
	ErrorMarker string

	// MaxPayload bounds the declared length of a binary frame.
	MaxPayload int
	// MaxLine bounds an unterminated line; longer lines are dropped.
	MaxLine int
	// ReadSize is the chunk size requested from the source in line mode.
	ReadSize int

	// PayloadTimeout bounds how long binary acquisition waits without progress.
	// Zero or negative waits forever.
	PayloadTimeout time.Duration
	// IdleBackoff is the pause after the source reports no data.
	IdleBackoff time.Duration

	Preempt PreemptPolicy
}

func DefaultConfig() Config {
	return Config{
		HeaderTag:      "IMG",
		Separator:      ":",
		Sentinel:       "P1",
		ErrorMarker:    "ERROR",
		MaxPayload:     4 << 20,
		MaxLine:        64 << 10,
		ReadSize:       16384,
		PayloadTimeout: 5 * time.Second,
		IdleBackoff:    time.Millisecond,
		Preempt:        PreemptEmit,
	}
}

func (c Config) headerPrefix() string {
	return c.HeaderTag + c.Separator
}
