package deframe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Source supplies raw bytes. Read may return fewer bytes than requested.
// It returns ErrNoData when the link is idle and io.EOF once it is closed.
type Source interface {
	Read(p []byte) (int, error)
}

// Reassembler is the framing state machine. It is driven by lines from a
// Splitter and by raw payload pulls, and reports frames and per-frame errors
// through its EmitFunc. It is not safe for concurrent use.
type Reassembler struct {
	cfg    Config
	emit   EmitFunc
	logger zerolog.Logger
	now    func() time.Time

	state    State
	declared int
	payload  []byte
	lines    []string
	seq      uint64
	noise    int
}

func NewReassembler(cfg Config, emit EmitFunc, logger zerolog.Logger) *Reassembler {
	return &Reassembler{
		cfg:    cfg,
		emit:   emit,
		logger: logger,
		now:    time.Now,
	}
}

func (r *Reassembler) State() State {
	return r.state
}

// Awaiting reports whether a binary payload is being acquired.
func (r *Reassembler) Awaiting() bool {
	return r.state == StateAwaitingBinaryPayload
}

// Remaining is the number of payload bytes still missing.
func (r *Reassembler) Remaining() int {
	if r.state != StateAwaitingBinaryPayload {
		return 0
	}
	return r.declared - len(r.payload)
}

// Noise counts lines discarded while idle.
func (r *Reassembler) Noise() int {
	return r.noise
}

func (r *Reassembler) HandleLine(line string) {
	switch r.state {
	case StateIdle:
		switch {
		case strings.HasPrefix(line, r.cfg.headerPrefix()):
			r.beginBinary(line)
		case line == r.cfg.Sentinel:
			r.state = StateAccumulatingTextFrame
			r.lines = []string{}
		case r.cfg.ErrorMarker != "" && strings.Contains(line, r.cfg.ErrorMarker):
			r.emit(Event{Err: &DeviceError{Message: line}})
		default:
			r.noise++
			r.logger.Debug().Str("line", line).Msg("discarding stray line")
		}

	case StateAccumulatingTextFrame:
		switch {
		case line == r.cfg.Sentinel:
			r.closeText(false)
			r.state = StateAccumulatingTextFrame
			r.lines = []string{}
		case strings.HasPrefix(line, r.cfg.headerPrefix()):
			declared, err := r.parseLength(line)
			if err != nil {
				// the text frame keeps accumulating
				r.emit(Event{Err: &MalformedHeaderError{Line: line, Err: err}})
				return
			}
			r.preemptText()
			r.startBinary(declared)
		default:
			r.lines = append(r.lines, line)
		}

	case StateAwaitingBinaryPayload:
		// payload bytes are never delivered as lines; drop it
		r.logger.Error().Str("line", line).Int("remaining", r.Remaining()).Msg("line delivered while awaiting binary payload")
	}
}

// Write appends payload bytes already read from the stream, up to the number
// still missing, and returns how many were consumed.
func (r *Reassembler) Write(p []byte) int {
	if r.state != StateAwaitingBinaryPayload {
		return 0
	}
	n := r.Remaining()
	if len(p) < n {
		n = len(p)
	}
	r.payload = append(r.payload, p[:n]...)
	if len(r.payload) == r.declared {
		r.completeBinary()
	}
	return n
}

// Acquire pulls the rest of the current binary payload straight from src.
// It returns nil when the frame completed or timed out, and the source or
// context error otherwise; in every failure case an IncompleteFrameError has
// been emitted first.
func (r *Reassembler) Acquire(ctx context.Context, src Source) error {
	lastProgress := r.now()
	for r.state == StateAwaitingBinaryPayload {
		if err := ctx.Err(); err != nil {
			r.Abort(ReasonCanceled)
			return err
		}

		n, err := src.Read(r.payload[len(r.payload):r.declared])
		if n > 0 {
			r.payload = r.payload[:len(r.payload)+n]
			lastProgress = r.now()
			if len(r.payload) == r.declared {
				r.completeBinary()
				return nil
			}
		}

		switch {
		case err == nil, errors.Is(err, ErrNoData):
		case errors.Is(err, io.EOF):
			r.Abort(ReasonClosed)
			return err
		default:
			r.Abort(ReasonReadError)
			return err
		}

		if n > 0 {
			continue
		}
		if r.cfg.PayloadTimeout > 0 && r.now().Sub(lastProgress) >= r.cfg.PayloadTimeout {
			r.Abort(ReasonTimeout)
			return nil
		}
		if err := sleep(ctx, r.cfg.IdleBackoff); err != nil {
			r.Abort(ReasonCanceled)
			return err
		}
	}
	return nil
}

// Abort drops an in-flight binary payload and reports it as incomplete.
func (r *Reassembler) Abort(reason Reason) {
	if r.state != StateAwaitingBinaryPayload {
		return
	}
	err := &IncompleteFrameError{
		Received: len(r.payload),
		Declared: r.declared,
		Reason:   reason,
	}
	r.resetBinary()
	r.emit(Event{Err: err})
}

// Finish ends the session: an in-flight binary payload is reported as
// incomplete and an accumulating text frame is emitted as partial.
func (r *Reassembler) Finish(reason Reason) {
	switch r.state {
	case StateAwaitingBinaryPayload:
		r.Abort(reason)
	case StateAccumulatingTextFrame:
		r.closeText(true)
	}
}

func (r *Reassembler) beginBinary(line string) {
	declared, err := r.parseLength(line)
	if err != nil {
		r.emit(Event{Err: &MalformedHeaderError{Line: line, Err: err}})
		return
	}
	r.startBinary(declared)
}

func (r *Reassembler) startBinary(declared int) {
	r.state = StateAwaitingBinaryPayload
	r.declared = declared
	r.payload = make([]byte, 0, declared)
	if declared == 0 {
		r.completeBinary()
	}
}

func (r *Reassembler) parseLength(line string) (int, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(line, r.cfg.headerPrefix()))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative length %d", n)
	}
	if r.cfg.MaxPayload > 0 && n > r.cfg.MaxPayload {
		return 0, fmt.Errorf("length %d exceeds limit %d", n, r.cfg.MaxPayload)
	}
	return n, nil
}

func (r *Reassembler) completeBinary() {
	r.seq++
	frame := &Frame{
		Kind:  KindBinary,
		Seq:   r.seq,
		Bytes: r.payload,
		Time:  r.now(),
	}
	r.resetBinary()
	r.emit(Event{Frame: frame})
}

func (r *Reassembler) resetBinary() {
	r.state = StateIdle
	r.declared = 0
	r.payload = nil
}

func (r *Reassembler) preemptText() {
	if r.cfg.Preempt == PreemptDiscard {
		n := len(r.lines)
		r.state = StateIdle
		r.lines = nil
		r.emit(Event{Err: &PreemptedFrameError{Lines: n}})
		return
	}
	r.closeText(true)
}

func (r *Reassembler) closeText(partial bool) {
	r.seq++
	frame := &Frame{
		Kind:    KindText,
		Seq:     r.seq,
		Lines:   r.lines,
		Partial: partial,
		Time:    r.now(),
	}
	r.state = StateIdle
	r.lines = nil
	r.emit(Event{Frame: frame})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
