package framegrab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/framegrab/pkg/deframe"
	"github.com/norasector/framegrab/pkg/framegrab/device"
	"github.com/norasector/framegrab/pkg/util"
	"github.com/norasector/framegrab/pkg/viz"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPlotHistory = 120
	readReportInterval = time.Second
)

// Grabber owns one device and turns its byte stream into frames for the
// configured outputs.
type Grabber struct {
	device    device.Device
	opts      Options
	writeAPI  api.WriteAPI
	vizServer *viz.Server
	sizePlots map[deframe.Kind]*viz.SizePlotter
	session   string
	logger    zerolog.Logger

	bytesRead atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	stats  deframe.Stats
}

// meteredDevice counts bytes as the engine pulls them.
type meteredDevice struct {
	device.Device
	g *Grabber
}

func (m meteredDevice) Read(p []byte) (int, error) {
	n, err := m.Device.Read(p)
	m.g.bytesRead.Add(int64(n))
	return n, err
}

type GrabberOption func(g *Grabber) error

func WithInfluxDB(influxClient api.WriteAPI) GrabberOption {
	return func(g *Grabber) error {
		g.writeAPI = influxClient
		return nil
	}
}

func WithImageServer(vizServer *viz.Server) GrabberOption {
	return func(g *Grabber) error {
		g.vizServer = vizServer
		return nil
	}
}

func WithLogger(logger zerolog.Logger) GrabberOption {
	return func(g *Grabber) error {
		g.logger = logger
		return nil
	}
}

func WithSession(session string) GrabberOption {
	return func(g *Grabber) error {
		if session == "" {
			return errors.New("empty session id")
		}
		g.session = session
		return nil
	}
}

func NewGrabber(dev device.Device, options Options, opts ...GrabberOption) (*Grabber, error) {
	g := &Grabber{
		device:    dev,
		opts:      options,
		writeAPI:  &util.MockWriteAPI{}, // overwritten with option
		sizePlots: make(map[deframe.Kind]*viz.SizePlotter),
		session:   uuid.NewString(),
		logger:    log.Logger,
	}

	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}

	if g.opts.Engine.HeaderTag == "" || g.opts.Engine.Sentinel == "" {
		return nil, fmt.Errorf("must specify header tag and sentinel")
	}
	if g.opts.PlotHistory <= 0 {
		g.opts.PlotHistory = defaultPlotHistory
	}

	if g.vizServer != nil {
		g.sizePlots[deframe.KindBinary] = viz.NewSizePlotter("jpeg size", "bytes", g.opts.PlotHistory)
		g.sizePlots[deframe.KindText] = viz.NewSizePlotter("bitmap rows", "rows", g.opts.PlotHistory)
		for _, p := range g.sizePlots {
			g.vizServer.Register("frames", p)
		}
	}

	return g, nil
}

func (g *Grabber) Session() string {
	return g.session
}

// Stats returns the engine counters of the last finished run.
func (g *Grabber) Stats() deframe.Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// Stop asks a running grabber to finish. The device is closed by Start once
// the current read returns.
func (g *Grabber) Stop() error {
	g.mu.Lock()
	cancel := g.cancel
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Start runs until the device is exhausted, fails, or Stop is called.
// Exhaustion and Stop both return nil.
func (g *Grabber) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g.mu.Lock()
	g.cancel = cancel
	g.mu.Unlock()

	eg, ctx := errgroup.WithContext(ctx)

	for _, output := range g.opts.Outputs {
		thisOutput := output
		eg.Go(func() error {
			return thisOutput.Start(ctx)
		})
	}

	if g.vizServer != nil {
		eg.Go(func() error {
			return g.vizServer.Run(ctx)
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), time.Second)
			defer done()
			return g.vizServer.Stop(shutdownCtx)
		})
	}

	engine := deframe.NewEngine(g.opts.Engine, func(ev deframe.Event) {
		g.handleEvent(ctx, ev)
	}, deframe.WithLogger(g.logger))

	eg.Go(func() error {
		return g.reportReads(ctx)
	})

	eg.Go(func() error {
		defer g.device.Close()
		err := engine.Run(ctx, meteredDevice{Device: g.device, g: g})

		stats := engine.Stats()
		g.mu.Lock()
		g.stats = stats
		g.mu.Unlock()
		g.logger.Info().
			Str("session", g.session).
			Int("bytes", stats.BytesRead).
			Int("frames", stats.Frames).
			Int("errors", stats.Errors).
			Int("noise_lines", stats.NoiseLines).
			Int("line_overflows", stats.LineOverflows).
			Msg("stream finished")

		if err != nil {
			return err
		}
		// exhausted; let the outputs wind down
		cancel()
		return nil
	})

	g.logger.Info().
		Str("session", g.session).
		Str("header", g.opts.Engine.HeaderTag+g.opts.Engine.Separator).
		Str("sentinel", g.opts.Engine.Sentinel).
		Msg("Starting")

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (g *Grabber) reportReads(ctx context.Context) error {
	ticker := time.NewTicker(readReportInterval)
	defer ticker.Stop()

	var last int64
	flush := func(t time.Time) {
		total := g.bytesRead.Load()
		if total == last {
			return
		}
		go g.writeAPI.WritePoint(influxdb2.NewPoint("device.read",
			map[string]string{
				"session": g.session,
			},
			map[string]interface{}{
				"bytes": total - last,
				"total": total,
			}, t))
		last = total
	}

	for {
		select {
		case <-ctx.Done():
			flush(time.Now())
			return ctx.Err()
		case t := <-ticker.C:
			flush(t)
		}
	}
}

func (g *Grabber) handleEvent(ctx context.Context, ev deframe.Event) {
	if ev.Err != nil {
		g.reportError(ev.Err)
		return
	}
	frame := ev.Frame

	g.logger.Debug().
		Uint64("seq", frame.Seq).
		Str("kind", frame.Kind.String()).
		Int("size", frame.Len()).
		Bool("partial", frame.Partial).
		Msg("frame received")

	if p, ok := g.sizePlots[frame.Kind]; ok {
		p.Append(frame.Len())
	}

	go g.writeAPI.WritePoint(influxdb2.NewPoint("frame.emitted",
		map[string]string{
			"kind":    frame.Kind.String(),
			"session": g.session,
		},
		map[string]interface{}{
			"bytes":   len(frame.Bytes),
			"lines":   len(frame.Lines),
			"partial": frame.Partial,
		}, frame.Time))

	for _, output := range g.opts.Outputs {
		select {
		case <-ctx.Done():
			return
		case output.Receive() <- frame:
		}
	}
}

func (g *Grabber) reportError(err error) {
	var (
		malformed  *deframe.MalformedHeaderError
		incomplete *deframe.IncompleteFrameError
		devErr     *deframe.DeviceError
		preempted  *deframe.PreemptedFrameError
		kind       string
	)
	switch {
	case errors.As(err, &malformed):
		kind = "malformed_header"
		g.logger.Warn().Str("line", malformed.Line).Err(malformed.Err).Msg("bad header")
	case errors.As(err, &incomplete):
		kind = "incomplete_frame"
		g.logger.Warn().
			Int("received", incomplete.Received).
			Int("declared", incomplete.Declared).
			Str("reason", string(incomplete.Reason)).
			Msg("incomplete frame received")
	case errors.As(err, &devErr):
		kind = "device_error"
		g.logger.Warn().Str("message", devErr.Message).Msg("device reported error")
	case errors.As(err, &preempted):
		kind = "preempted"
		g.logger.Warn().Int("lines", preempted.Lines).Msg("text frame discarded")
	default:
		kind = "unknown"
		g.logger.Warn().Err(err).Msg("frame error")
	}

	go g.writeAPI.WritePoint(influxdb2.NewPoint("frame.error",
		map[string]string{
			"type":    kind,
			"session": g.session,
		},
		map[string]interface{}{
			"count": 1,
		}, time.Now()))
}
