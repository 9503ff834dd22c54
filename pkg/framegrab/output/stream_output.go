package output

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/framegrab/pkg/deframe"
	"github.com/norasector/framegrab/pkg/framegrab/config"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the forwarded frame message.
const (
	fieldSeq     protowire.Number = 1
	fieldKind    protowire.Number = 2
	fieldPayload protowire.Number = 3
	fieldTime    protowire.Number = 4
	fieldSession protowire.Number = 5
	fieldPartial protowire.Number = 6
)

// FrameUDPOutput forwards frames to remote viewers. Each datagram is a
// little-endian uint32 length followed by a protobuf-encoded frame message.
type FrameUDPOutput struct {
	dests    []config.OutputDestination
	session  string
	sentinel string
	recvChan chan *deframe.Frame
	metrics  api.WriteAPI
}

func NewFrameUDPOutput(dests []config.OutputDestination, session, sentinel string, metrics api.WriteAPI) *FrameUDPOutput {
	return &FrameUDPOutput{
		dests:    dests,
		session:  session,
		sentinel: sentinel,
		recvChan: make(chan *deframe.Frame, frameBufferLength),
		metrics:  metrics,
	}
}

func (s *FrameUDPOutput) Receive() chan<- *deframe.Frame {
	return s.recvChan
}

func (s *FrameUDPOutput) Start(ctx context.Context) error {
	destAddrs := make([]*net.UDPAddr, 0, len(s.dests))
	for _, dest := range s.dests {
		ips, err := net.LookupIP(dest.Host)
		if err != nil {
			return err
		}
		if len(ips) == 0 {
			return fmt.Errorf("no IPs returned for %s", dest.Host)
		}

		destAddr := &net.UDPAddr{IP: ips[0], Port: dest.Port}
		destAddrs = append(destAddrs, destAddr)
		log.Info().IPAddr("dest_ip", destAddr.IP).Int("port", dest.Port).Msg("frame forwarding starting")
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case frame := <-s.recvChan:
					s.forward(conn, destAddrs, frame)
				default:
					return ctx.Err()
				}
			}
		case frame := <-s.recvChan:
			s.forward(conn, destAddrs, frame)
		}
	}
}

func (s *FrameUDPOutput) forward(conn *net.UDPConn, destAddrs []*net.UDPAddr, frame *deframe.Frame) {
	encoded := s.encode(frame)

	var msgBuf bytes.Buffer
	if err := binary.Write(&msgBuf, binary.LittleEndian, uint32(len(encoded))); err != nil {
		log.Warn().Err(err).Msg("error encoding header size")
		return
	}
	msgBuf.Write(encoded)

	sent, dropped := 0, 0
	for _, destAddr := range destAddrs {
		if _, err := conn.WriteToUDP(msgBuf.Bytes(), destAddr); err != nil {
			log.Error().Err(err).Str("dest", destAddr.String()).Msg("error forwarding frame")
			dropped++
			continue
		}
		sent++
	}

	go s.metrics.WritePoint(influxdb2.NewPoint("frame.forwarded",
		map[string]string{
			"kind":    frame.Kind.String(),
			"session": s.session,
		},
		map[string]interface{}{
			"encoded_length": len(encoded),
			"sent":           sent,
			"dropped":        dropped,
		}, time.Now()))
}

func (s *FrameUDPOutput) encode(frame *deframe.Frame) []byte {
	payload := frame.Bytes
	if frame.Kind == deframe.KindText {
		payload = textBody(s.sentinel, frame.Lines)
	}

	b := make([]byte, 0, len(payload)+64)
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, frame.Seq)
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(frame.Kind))
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	b = protowire.AppendTag(b, fieldTime, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(frame.Time.UnixNano()))
	b = protowire.AppendTag(b, fieldSession, protowire.BytesType)
	b = protowire.AppendString(b, s.session)
	b = protowire.AppendTag(b, fieldPartial, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(frame.Partial))
	return b
}
