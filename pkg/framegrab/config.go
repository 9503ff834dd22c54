package framegrab

import (
	"github.com/norasector/framegrab/pkg/deframe"
)

type Options struct {
	Engine  deframe.Config
	Outputs []FrameOutput
	// PlotHistory is the number of frames kept in the size plots.
	PlotHistory int
}
