package device

import (
	"github.com/norasector/framegrab/pkg/deframe"
)

// ErrNoData is returned by Read while the link is open but idle.
var ErrNoData = deframe.ErrNoData

// Device is a byte source attached to the camera. Read follows io.Reader
// except that an idle link reports ErrNoData instead of blocking forever, and
// io.EOF means the link is gone.
type Device interface {
	Read(p []byte) (int, error)
	Close() error
}
