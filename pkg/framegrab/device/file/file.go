package file

import (
	"os"
	"time"
)

// FileDevice replays a raw capture, handing out at most readSize bytes per
// read and waiting timeBetween between reads to mimic the link's pacing.
type FileDevice struct {
	readFile    *os.File
	readSize    int
	timeBetween time.Duration
	lastRead    time.Time
}

func NewFileDevice(file string, readSize int, timeBetween time.Duration) (*FileDevice, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}

	return &FileDevice{
		readFile:    f,
		readSize:    readSize,
		timeBetween: timeBetween,
	}, nil
}

// Read returns io.EOF once the capture is exhausted.
func (f *FileDevice) Read(p []byte) (int, error) {
	if f.timeBetween > 0 && !f.lastRead.IsZero() {
		if wait := f.timeBetween - time.Since(f.lastRead); wait > 0 {
			time.Sleep(wait)
		}
	}
	f.lastRead = time.Now()

	if f.readSize > 0 && len(p) > f.readSize {
		p = p[:f.readSize]
	}
	return f.readFile.Read(p)
}

func (f *FileDevice) Close() error {
	return f.readFile.Close()
}
