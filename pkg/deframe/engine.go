package deframe

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

type Stats struct {
	BytesRead     int
	Lines         int
	Frames        int
	Errors        int
	NoiseLines    int
	LineOverflows int
}

// Engine drives a Splitter and a Reassembler from a single Source. All work
// happens on the goroutine calling Run.
type Engine struct {
	cfg         Config
	splitter    *Splitter
	reassembler *Reassembler
	emit        EmitFunc
	logger      zerolog.Logger
	buf         []byte
	stats       Stats
}

type EngineOption func(e *Engine)

func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

func NewEngine(cfg Config, emit EmitFunc, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:    cfg,
		emit:   emit,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.ReadSize <= 0 {
		e.cfg.ReadSize = DefaultConfig().ReadSize
	}
	e.buf = make([]byte, e.cfg.ReadSize)
	e.splitter = NewSplitter(e.cfg.MaxLine)
	e.reassembler = NewReassembler(e.cfg, e.count, e.logger)
	return e
}

func (e *Engine) count(ev Event) {
	if ev.Frame != nil {
		e.stats.Frames++
	} else {
		e.stats.Errors++
	}
	e.emit(ev)
}

func (e *Engine) Stats() Stats {
	s := e.stats
	s.NoiseLines = e.reassembler.Noise()
	s.LineOverflows = e.splitter.Overflows()
	return s
}

func (e *Engine) State() State {
	return e.reassembler.State()
}

// Run consumes src until it reports io.EOF, fails, or ctx is done. Source
// exhaustion returns nil.
func (e *Engine) Run(ctx context.Context, src Source) error {
	src = countingSource{Source: src, n: &e.stats.BytesRead}
	for {
		if err := ctx.Err(); err != nil {
			e.reassembler.Finish(ReasonCanceled)
			return err
		}

		if e.reassembler.Awaiting() {
			if e.splitter.Buffered() > 0 {
				e.reassembler.Write(e.splitter.Take(e.reassembler.Remaining()))
				continue
			}
			err := e.reassembler.Acquire(ctx, src)
			switch {
			case err == nil:
				continue
			case errors.Is(err, io.EOF):
				e.drain()
				return nil
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				e.reassembler.Finish(ReasonCanceled)
				return err
			default:
				e.drain()
				return fmt.Errorf("deframe: payload read: %w", err)
			}
		}

		if line, ok := e.splitter.Next(); ok {
			e.stats.Lines++
			e.reassembler.HandleLine(line)
			continue
		}

		n, err := src.Read(e.buf)
		if n > 0 {
			e.splitter.Feed(e.buf[:n])
		}
		switch {
		case err == nil && n > 0:
		case err == nil, errors.Is(err, ErrNoData):
			if err := sleep(ctx, e.cfg.IdleBackoff); err != nil {
				e.reassembler.Finish(ReasonCanceled)
				return err
			}
		case errors.Is(err, io.EOF):
			e.drain()
			return nil
		default:
			e.drain()
			return fmt.Errorf("deframe: read: %w", err)
		}
	}
}

// drain processes whatever is still buffered once the source has ended.
func (e *Engine) drain() {
	for {
		if e.reassembler.Awaiting() {
			if e.splitter.Buffered() == 0 {
				e.reassembler.Abort(ReasonClosed)
				continue
			}
			e.reassembler.Write(e.splitter.Take(e.reassembler.Remaining()))
			continue
		}
		line, ok := e.splitter.Next()
		if !ok {
			line, ok = e.splitter.Flush()
		}
		if !ok {
			break
		}
		e.stats.Lines++
		e.reassembler.HandleLine(line)
	}
	e.reassembler.Finish(ReasonClosed)
}

type countingSource struct {
	Source
	n *int
}

func (c countingSource) Read(p []byte) (int, error) {
	n, err := c.Source.Read(p)
	*c.n += n
	return n, err
}
