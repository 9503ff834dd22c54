package serial

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/norasector/framegrab/pkg/framegrab/device"
	"go.bug.st/serial"
)

const defaultReadTimeout = 100 * time.Millisecond

type port interface {
	Read(p []byte) (int, error)
	Close() error
}

// SerialDevice reads from a USB CDC / UART port. A read that times out with
// nothing received is reported as device.ErrNoData.
type SerialDevice struct {
	port port
	name string
}

func NewSerialDevice(name string, baudRate int, readTimeout time.Duration) (*SerialDevice, error) {
	p, err := serial.Open(name, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}

	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("setting read timeout on %s: %w", name, err)
	}
	// drop whatever the device sent before we were listening
	if err := p.ResetInputBuffer(); err != nil {
		p.Close()
		return nil, fmt.Errorf("resetting input buffer on %s: %w", name, err)
	}

	return newSerialDevice(name, p), nil
}

func newSerialDevice(name string, p port) *SerialDevice {
	return &SerialDevice{port: p, name: name}
}

func (s *SerialDevice) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if err != nil {
		var portErr *serial.PortError
		if errors.As(err, &portErr) && portErr.Code() == serial.PortClosed {
			return n, io.EOF
		}
		return n, err
	}
	if n == 0 {
		return 0, device.ErrNoData
	}
	return n, nil
}

func (s *SerialDevice) Close() error {
	return s.port.Close()
}

func (s *SerialDevice) String() string {
	return s.name
}
