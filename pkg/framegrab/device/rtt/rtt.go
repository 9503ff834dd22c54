package rtt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/norasector/framegrab/pkg/framegrab/device"
	"github.com/rs/zerolog"
)

// DefaultAddress is the J-Link RTT telnet server started alongside a debug
// session.
const DefaultAddress = "localhost:19021"

const (
	defaultReadDeadline = 10 * time.Millisecond
	dialRetryInterval   = 100 * time.Millisecond
)

// RTTDevice reads RTT up-channel 0 through the debug probe's telnet port.
// The port carries the channel's raw bytes with no telnet negotiation, so it
// is read as a plain TCP stream; 0xff is ordinary payload.
type RTTDevice struct {
	conn         net.Conn
	readDeadline time.Duration
}

// NewRTTDevice dials address until the probe server accepts or startTimeout
// elapses. The server only listens once the target's RTT control block has
// been found.
func NewRTTDevice(ctx context.Context, address string, startTimeout, readDeadline time.Duration, logger zerolog.Logger) (*RTTDevice, error) {
	if address == "" {
		address = DefaultAddress
	}
	if readDeadline <= 0 {
		readDeadline = defaultReadDeadline
	}

	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	attempt := 0
	for {
		attempt++
		conn, err := net.DialTimeout("tcp", address, dialRetryInterval*5)
		if err == nil {
			logger.Info().Str("address", address).Int("attempts", attempt).Msg("rtt channel connected")
			return &RTTDevice{conn: conn, readDeadline: readDeadline}, nil
		}
		logger.Debug().Err(err).Str("address", address).Msg("waiting for rtt server")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connecting to rtt server %s: %w", address, err)
		case <-time.After(dialRetryInterval):
		}
	}
}

func (r *RTTDevice) Read(p []byte) (int, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(r.readDeadline)); err != nil {
		return 0, err
	}
	n, err := r.conn.Read(p)
	if err == nil {
		return n, nil
	}

	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		if n > 0 {
			return n, nil
		}
		return 0, device.ErrNoData
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return n, io.EOF
	default:
		return n, err
	}
}

func (r *RTTDevice) Close() error {
	return r.conn.Close()
}
