package output

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/framegrab/pkg/deframe"
	"github.com/rs/zerolog"
)

const frameBufferLength = 8

// FileOutput persists every frame as a sequentially numbered file: text
// frames as plain PBM bitmaps, binary frames verbatim as JPEG.
type FileOutput struct {
	dir      string
	prefix   string
	sentinel string
	count    int
	recvChan chan *deframe.Frame
	metrics  api.WriteAPI
	logger   zerolog.Logger
}

func NewFileOutput(dir, prefix, sentinel string, metrics api.WriteAPI, logger zerolog.Logger) (*FileOutput, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating output directory: %w", err)
		}
	}
	return &FileOutput{
		dir:      dir,
		prefix:   prefix,
		sentinel: sentinel,
		recvChan: make(chan *deframe.Frame, frameBufferLength),
		metrics:  metrics,
		logger:   logger,
	}, nil
}

func (f *FileOutput) Receive() chan<- *deframe.Frame {
	return f.recvChan
}

// Start saves frames until ctx is done. Frames already queued are still
// saved before it returns.
func (f *FileOutput) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case frame := <-f.recvChan:
					if err := f.save(frame); err != nil {
						return err
					}
				default:
					return ctx.Err()
				}
			}
		case frame := <-f.recvChan:
			if err := f.save(frame); err != nil {
				return err
			}
		}
	}
}

func (f *FileOutput) save(frame *deframe.Frame) error {
	name, err := f.write(frame)
	if err != nil {
		return err
	}
	f.logger.Info().
		Str("file", name).
		Uint64("seq", frame.Seq).
		Int("size", frame.Len()).
		Bool("partial", frame.Partial).
		Msg("saved frame")

	go f.metrics.WritePoint(influxdb2.NewPoint("frame.saved",
		map[string]string{
			"kind": frame.Kind.String(),
		},
		map[string]interface{}{
			"size": frame.Len(),
		}, time.Now()))
	return nil
}

func (f *FileOutput) write(frame *deframe.Frame) (string, error) {
	f.count++
	ext := "jpg"
	if frame.Kind == deframe.KindText {
		ext = "pbm"
	}
	name := filepath.Join(f.dir, fmt.Sprintf("%s%03d.%s", f.prefix, f.count, ext))

	out, err := os.Create(name)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", name, err)
	}
	defer out.Close()

	w := bufio.NewWriter(out)
	if frame.Kind == deframe.KindText {
		w.Write(textBody(f.sentinel, frame.Lines))
	} else {
		w.Write(frame.Bytes)
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	return name, out.Close()
}

// textBody rebuilds a text frame as it was sent: the sentinel line, then every
// row with its terminator.
func textBody(sentinel string, lines []string) []byte {
	size := len(sentinel) + 1
	for _, l := range lines {
		size += len(l) + 1
	}
	b := make([]byte, 0, size)
	b = append(b, sentinel...)
	b = append(b, '\n')
	for _, l := range lines {
		b = append(b, l...)
		b = append(b, '\n')
	}
	return b
}
