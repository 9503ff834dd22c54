package device

import (
	"fmt"
	"os"
)

// RecordingDevice copies every byte read from the wrapped device into a
// capture file that the file device can replay later.
type RecordingDevice struct {
	Device
	out *os.File
}

func NewRecordingDevice(dev Device, recordLocation string) (*RecordingDevice, error) {
	out, err := os.Create(recordLocation)
	if err != nil {
		return nil, fmt.Errorf("creating capture file: %w", err)
	}
	return &RecordingDevice{Device: dev, out: out}, nil
}

func (r *RecordingDevice) Read(p []byte) (int, error) {
	n, err := r.Device.Read(p)
	if n > 0 {
		if _, werr := r.out.Write(p[:n]); werr != nil {
			return n, fmt.Errorf("writing capture file: %w", werr)
		}
	}
	return n, err
}

func (r *RecordingDevice) Close() error {
	defer r.out.Close()
	return r.Device.Close()
}
