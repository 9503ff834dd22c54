package framegrab

import (
	"context"

	"github.com/norasector/framegrab/pkg/deframe"
)

// FrameOutput handles completed frames.
type FrameOutput interface {
	// Start receives a context and should run in a loop, terminating upon ctx closing or on any errors.
	Start(ctx context.Context) error
	// Receive returns the channel frames are delivered on. Sends block until
	// the output takes the frame.
	Receive() chan<- *deframe.Frame
}
