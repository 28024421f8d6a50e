// Package stream implements a TCP-like stream multiplexed over a
// circuit's RELAY cells: RELAY_BEGIN/RELAY_CONNECTED to open, fragmented
// RELAY_DATA to carry bytes, RELAY_END to close.
package stream

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/pqtor/tor-pq/cell"
	"github.com/pqtor/tor-pq/client"
)

var _ io.ReadWriteCloser = (*Stream)(nil)

var nextStreamID atomic.Uint32

func init() {
	nextStreamID.Store(1)
}

const relayEndReasonDone = 6

// Stream is a byte stream carried over one circuit, identified on the
// wire by a stream ID unique within that circuit.
type Stream struct {
	ID      uint16
	Circuit *client.Circuit
	buf     []byte
	closed  bool
	eof     bool
}

// Begin opens a new stream to target ("host:port") through circ: sends
// RELAY_BEGIN and waits for RELAY_CONNECTED (spec §4.4 item 5).
func Begin(circ *client.Circuit, target string) (*Stream, error) {
	var id uint16
	for {
		raw := nextStreamID.Add(1) - 1
		id = uint16(raw)
		if id != 0 {
			break
		}
		if raw > 0xFFFF {
			return nil, fmt.Errorf("stream ID space exhausted")
		}
	}

	payload := make([]byte, len(target)+1)
	copy(payload, target)

	if err := circ.SendRelay(cell.RelayCmdBegin, id, payload); err != nil {
		return nil, fmt.Errorf("send RELAY_BEGIN: %w", err)
	}

	for {
		relayCmd, respStreamID, data, err := circ.ReceiveRelay()
		if err != nil {
			return nil, fmt.Errorf("receive relay response: %w", err)
		}
		if respStreamID != id {
			continue
		}

		switch relayCmd {
		case cell.RelayCmdConnected:
			return &Stream{ID: id, Circuit: circ}, nil
		case cell.RelayCmdEnd:
			reason := uint8(0)
			if len(data) > 0 {
				reason = data[0]
			}
			return nil, fmt.Errorf("stream rejected: RELAY_END reason=%d", reason)
		default:
			return nil, fmt.Errorf("unexpected relay command %d while waiting for CONNECTED", relayCmd)
		}
	}
}

// Write sends data through the stream as RELAY_DATA cells, fragmenting
// into chunks of up to cell.RelayDataLen bytes (spec §4.4 item 6).
func (s *Stream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, fmt.Errorf("stream closed")
	}

	total := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > cell.RelayDataLen {
			chunk = p[:cell.RelayDataLen]
		}
		if err := s.Circuit.SendRelay(cell.RelayCmdData, s.ID, chunk); err != nil {
			return total, fmt.Errorf("send RELAY_DATA: %w", err)
		}
		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}

// Read receives data for this stream, buffering any excess until the
// next call (spec §4.4 item 7). Cells for other stream IDs are skipped;
// a non-DATA, non-END relay command is skipped as non-fatal.
func (s *Stream) Read(p []byte) (int, error) {
	if s.eof {
		return 0, io.EOF
	}
	if s.closed {
		return 0, fmt.Errorf("stream closed")
	}

	if len(s.buf) > 0 {
		n := copy(p, s.buf)
		s.buf = s.buf[n:]
		return n, nil
	}

	for {
		relayCmd, streamID, data, err := s.Circuit.ReceiveRelay()
		if err != nil {
			return 0, fmt.Errorf("receive relay: %w", err)
		}
		if streamID != s.ID {
			continue
		}

		switch relayCmd {
		case cell.RelayCmdData:
			n := copy(p, data)
			if n < len(data) {
				s.buf = append(s.buf, data[n:]...)
			}
			return n, nil
		case cell.RelayCmdEnd:
			s.eof = true
			return 0, io.EOF
		default:
			continue
		}
	}
}

// Close sends RELAY_END to close the stream.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.Circuit.SendRelay(cell.RelayCmdEnd, s.ID, []byte{relayEndReasonDone})
}
