package viz

import (
	"bytes"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// SizePlotter charts the payload size of the last size frames of one kind.
type SizePlotter struct {
	mu          sync.Mutex
	sizes       []float64
	size        int
	name        string
	unit        string
}

func NewSizePlotter(name, unit string, size int) *SizePlotter {
	return &SizePlotter{
		sizes: make([]float64, 0, size),
		size:  size,
		name:  name,
		unit:  unit,
	}
}

func (s *SizePlotter) Name() string {
	return s.name
}

func (s *SizePlotter) Append(n int) {
	s.mu.Lock()
	s.sizes = append(s.sizes, float64(n))
	if len(s.sizes) > s.size {
		s.sizes = s.sizes[len(s.sizes)-s.size:]
	}
	s.mu.Unlock()
}

// GetImage returns nil until two samples exist.
func (s *SizePlotter) GetImage() *ImageContainer {
	s.mu.Lock()
	sizes := append([]float64(nil), s.sizes...)
	s.mu.Unlock()
	if len(sizes) < 2 {
		return nil
	}

	mean, std := stat.MeanStdDev(sizes, nil)

	p := plotWithDefaults()
	p.Title.Text = fmt.Sprintf("%s (mean %.0f, sd %.0f)", s.name, mean, std)
	p.Y.Label.Text = s.unit
	p.Y.Min = 0
	p.X.Label.Text = "frame"

	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(sizes))
	for i, v := range sizes {
		pts[i] = plotter.XY{X: float64(i), Y: v}
	}
	if err := plotutil.AddLinePoints(p, s.unit, pts); err != nil {
		return nil
	}

	var imageData bytes.Buffer
	w, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil
	}
	if _, err := w.WriteTo(&imageData); err != nil {
		return nil
	}
	return &ImageContainer{name: s.name, data: imageData.Bytes()}
}
