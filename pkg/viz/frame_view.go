package viz

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"sync"

	"github.com/norasector/framegrab/pkg/deframe"
	"github.com/rs/zerolog"
)

// FrameView keeps the most recent frame and renders it as a grayscale PNG
// when the server asks. It doubles as a frame output.
type FrameView struct {
	name     string
	recvChan chan *deframe.Frame
	logger   zerolog.Logger

	mu       sync.Mutex
	latest   *deframe.Frame
	rendered *ImageContainer
	failures int
}

func NewFrameView(name string, logger zerolog.Logger) *FrameView {
	return &FrameView{
		name:     name,
		recvChan: make(chan *deframe.Frame, 1),
		logger:   logger,
	}
}

func (f *FrameView) Name() string {
	return f.name
}

func (f *FrameView) Receive() chan<- *deframe.Frame {
	return f.recvChan
}

func (f *FrameView) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-f.recvChan:
			f.Update(frame)
		}
	}
}

// Update replaces the displayed frame. Older frames are dropped unrendered.
func (f *FrameView) Update(frame *deframe.Frame) {
	f.mu.Lock()
	f.latest = frame
	f.mu.Unlock()
}

// Failures counts frames whose payload could not be decoded.
func (f *FrameView) Failures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures
}

func (f *FrameView) GetImage() *ImageContainer {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.latest == nil {
		return f.rendered
	}
	frame := f.latest
	f.latest = nil

	img, err := decodeFrame(frame)
	if err != nil {
		f.failures++
		f.logger.Warn().Err(err).Uint64("seq", frame.Seq).Str("kind", frame.Kind.String()).Msg("failed to decode frame")
		return f.rendered
	}

	var data bytes.Buffer
	if err := png.Encode(&data, img); err != nil {
		f.logger.Error().Err(err).Msg("error encoding png")
		return f.rendered
	}
	f.rendered = &ImageContainer{name: f.name, data: data.Bytes()}
	return f.rendered
}

func decodeFrame(frame *deframe.Frame) (image.Image, error) {
	switch frame.Kind {
	case deframe.KindText:
		img, err := decodePBM(frame.Lines)
		if errors.Is(err, errShortBitmap) {
			return img, nil
		}
		return img, err
	case deframe.KindBinary:
		src, _, err := image.Decode(bytes.NewReader(frame.Bytes))
		if err != nil {
			return nil, fmt.Errorf("decoding %d byte payload: %w", len(frame.Bytes), err)
		}
		gray := image.NewGray(src.Bounds())
		draw.Draw(gray, gray.Bounds(), src, src.Bounds().Min, draw.Src)
		return gray, nil
	default:
		return nil, fmt.Errorf("unknown frame kind %v", frame.Kind)
	}
}
