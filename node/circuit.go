package node

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pqtor/tor-pq/cell"
	"github.com/pqtor/tor-pq/descriptor"
	"github.com/pqtor/tor-pq/link"
	"github.com/pqtor/tor-pq/ntor"
	"github.com/pqtor/tor-pq/onion"
)

// circuitState names where a circuit sits in the per-circuit state
// machine of spec §4.5.
type circuitState uint8

const (
	stateOpen circuitState = iota
	stateExtending
	stateClosing
)

// circuit is one relay's view of a circuit: the near-side link it
// arrived on, the (possibly absent) far-side link it has been extended
// to, and the (possibly absent) bridged TCP target at an Exit. All
// mutation happens under mu, which makes the circuit its own actor: the
// forward-dispatch goroutine (the link's read loop) and the backward
// pump goroutines (from nextLink and targetConn) serialize through it.
type circuit struct {
	mu sync.Mutex

	role descriptor.Role
	id   uint32 // circuit ID on prevLink

	prevLink *link.Link
	nextLink *link.Link
	nextCircID uint32

	targetConn net.Conn

	layer *onion.RelayLayer
	state circuitState
}

func newCircuit(role descriptor.Role, id uint32, prevLink *link.Link, km *ntor.KeyMaterial) (*circuit, error) {
	l, err := onion.NewLayer(packKEnc(km))
	if err != nil {
		return nil, fmt.Errorf("install relay layer: %w", err)
	}
	return &circuit{
		role:     role,
		id:       id,
		prevLink: prevLink,
		layer:    onion.NewRelayLayer(l),
		state:    stateOpen,
	}, nil
}

// packKEnc assembles the 80-byte K_enc bundle an onion layer is built
// from out of a handshake's derived KeyMaterial.
func packKEnc(km *ntor.KeyMaterial) [80]byte {
	var kEnc [80]byte
	copy(kEnc[0:32], km.Kf[:])
	copy(kEnc[32:64], km.Kb[:])
	copy(kEnc[64:72], km.IVf[:])
	copy(kEnc[72:80], km.IVb[:])
	return kEnc
}

// handleCircuitCell processes one forward (prevLink-arriving) RELAY or
// RELAY_EARLY cell for c (spec §4.5 "OPEN, forward RELAY/RELAY_EARLY
// arrival from prev_fd").
func (s *Server) handleCircuitCell(c *circuit, incoming cell.Cell) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosing {
		return
	}

	payload := append([]byte(nil), incoming.Payload()...)
	peeled, recognized := c.layer.Peel(payload)

	if !recognized {
		c.forwardUnrecognizedLocked(incoming.Command(), peeled)
		return
	}

	sub, err := cell.UnpackRelaySubcell(peeled)
	if err != nil {
		s.Logger.Debug("malformed relay sub-cell", "error", err)
		return
	}

	switch sub.RelayCommand {
	case cell.RelayCmdExtend2:
		s.handleExtend2Locked(c, sub)
	case cell.RelayCmdBegin:
		s.handleBeginLocked(c, sub)
	case cell.RelayCmdData:
		s.handleDataLocked(c, sub)
	default:
		s.Logger.Debug("ignoring relay sub-command", "cmd", sub.RelayCommand)
	}
}

// forwardUnrecognizedLocked rebuilds the cell with the peeled payload
// and forwards it to the next hop untouched: no layer is added or
// removed (spec §4.5 invariant).
func (c *circuit) forwardUnrecognizedLocked(cmd uint8, peeled []byte) {
	if c.nextLink == nil {
		return
	}
	var out cell.Cell
	if cmd == cell.CmdRelayEarly {
		out = cell.NewRelayEarlyCell(c.nextCircID, peeled)
	} else {
		out = cell.NewRelayCell(c.nextCircID, peeled)
	}
	_ = c.nextLink.WriteCell(out)
}

// handleExtend2Locked services an EXTEND2 sub-cell: dial the named next
// hop, forward the handshake data verbatim as CREATE2, and relay the
// CREATED2 reply back as EXTENDED2 (spec §4.5).
func (s *Server) handleExtend2Locked(c *circuit, sub *cell.RelaySubcell) {
	c.state = stateExtending

	ext, err := cell.ParseExtend2Payload(sub.Data)
	if err != nil {
		s.Logger.Debug("malformed EXTEND2", "error", err)
		s.failExtendLocked(c)
		return
	}

	next := descriptor.NodeInfo{Hostname: ext.Hostname, Port: ext.Port}
	nextLink, err := link.Dial(next.Address(), s.Logger)
	if err != nil {
		s.Logger.Debug("dial next hop failed", "addr", next.Address(), "error", err)
		s.failExtendLocked(c)
		return
	}

	nextCircID, err := allocateRelayCircID()
	if err != nil {
		s.Logger.Debug("allocate next circuit ID failed", "error", err)
		nextLink.Close()
		s.failExtendLocked(c)
		return
	}

	_ = nextLink.SetDeadline(time.Now().Add(handshakeTimeout))
	if err := nextLink.WriteCell(cell.NewCreate2Cell(nextCircID, ext.HandshakeData)); err != nil {
		s.Logger.Debug("forward CREATE2 failed", "error", err)
		nextLink.Close()
		s.failExtendLocked(c)
		return
	}

	resp, err := nextLink.Reader.ReadCell()
	if err != nil {
		s.Logger.Debug("read CREATED2 failed", "error", err)
		nextLink.Close()
		s.failExtendLocked(c)
		return
	}
	_ = nextLink.SetDeadline(time.Time{})

	if resp.Command() == cell.CmdDestroy {
		s.Logger.Debug("next hop destroyed circuit during extend")
		nextLink.Close()
		s.failExtendLocked(c)
		return
	}
	reply, err := cell.ParseCreated2Cell(resp)
	if err != nil {
		s.Logger.Debug("parse CREATED2 failed", "error", err)
		nextLink.Close()
		s.failExtendLocked(c)
		return
	}

	c.nextLink = nextLink
	c.nextCircID = nextCircID
	c.state = stateOpen
	s.mu.Lock()
	s.byNext[circuitKey{nextLink, nextCircID}] = c
	s.mu.Unlock()

	extended := &cell.RelaySubcell{RelayCommand: cell.RelayCmdExtended2, StreamID: 0, Data: reply}
	back := c.layer.AddBack(extended.Pack())
	if err := c.prevLink.WriteCell(cell.NewRelayCell(c.id, back)); err != nil {
		s.Logger.Debug("write EXTENDED2 failed", "error", err)
		return
	}

	go s.pumpNext(c)
	s.Logger.Info("circuit extended", "addr", next.Address())
}

func (s *Server) failExtendLocked(c *circuit) {
	c.state = stateOpen
	_ = c.prevLink.WriteCell(cell.NewDestroyCell(c.id, cell.DestroyReasonConnectFailed))
	go s.teardownCircuit(c)
}

// handleBeginLocked services a RELAY_BEGIN sub-cell: Exit-only, opens a
// TCP leg to the named application target.
func (s *Server) handleBeginLocked(c *circuit, sub *cell.RelaySubcell) {
	if c.role != descriptor.RoleExit {
		s.Logger.Debug("ignoring BEGIN at non-Exit role")
		return
	}
	target := trimNUL(sub.Data)

	conn, err := net.DialTimeout("tcp", target, dialTimeout)
	if err != nil {
		s.Logger.Debug("dial target failed", "target", target, "error", err)
		end := &cell.RelaySubcell{RelayCommand: cell.RelayCmdEnd, StreamID: sub.StreamID, Data: []byte{0}}
		back := c.layer.AddBack(end.Pack())
		_ = c.prevLink.WriteCell(cell.NewRelayCell(c.id, back))
		return
	}
	c.targetConn = conn

	connected := &cell.RelaySubcell{RelayCommand: cell.RelayCmdConnected, StreamID: sub.StreamID}
	back := c.layer.AddBack(connected.Pack())
	if err := c.prevLink.WriteCell(cell.NewRelayCell(c.id, back)); err != nil {
		s.Logger.Debug("write CONNECTED failed", "error", err)
		conn.Close()
		c.targetConn = nil
		return
	}

	go s.pumpTarget(c, sub.StreamID)
	s.Logger.Info("stream opened to target", "target", target)
}

// handleDataLocked forwards a recognized DATA sub-cell either to the
// next hop (if this circuit has been extended) or, at the Exit, writes
// it straight to the bridged target connection (spec §4.5).
func (s *Server) handleDataLocked(c *circuit, sub *cell.RelaySubcell) {
	if c.nextLink != nil {
		out := cell.NewRelayCell(c.nextCircID, sub.Pack())
		_ = c.nextLink.WriteCell(out)
		return
	}
	if c.role == descriptor.RoleExit && c.targetConn != nil {
		if _, err := c.targetConn.Write(sub.Data); err != nil {
			s.Logger.Debug("write to target failed", "error", err)
		}
		return
	}
	s.Logger.Debug("DATA with no forwarding destination")
}

// pumpNext ferries cells arriving on c's far-side link back toward the
// near side, adding one backward layer per cell (spec §4.5 "OPEN, cell
// arrival from next_fd").
func (s *Server) pumpNext(c *circuit) {
	for {
		incoming, err := c.nextLink.Reader.ReadCell()
		if err != nil {
			s.teardownCircuit(c)
			return
		}

		c.mu.Lock()
		if c.state == stateClosing {
			c.mu.Unlock()
			return
		}
		switch incoming.Command() {
		case cell.CmdDestroy:
			c.mu.Unlock()
			reason, _ := cell.ParseDestroyCell(incoming)
			_ = c.prevLink.WriteCell(cell.NewDestroyCell(c.id, reason))
			s.teardownCircuit(c)
			return
		case cell.CmdRelay, cell.CmdRelayEarly:
			back := c.layer.AddBack(append([]byte(nil), incoming.Payload()...))
			err := c.prevLink.WriteCell(cell.NewRelayCell(c.id, back))
			c.mu.Unlock()
			if err != nil {
				s.teardownCircuit(c)
				return
			}
		default:
			c.mu.Unlock()
		}
	}
}

// pumpTarget ferries bytes read from c's bridged target connection back
// toward the near side as RELAY_DATA cells (spec §4.5 "OPEN, readable
// bytes on target_fd").
func (s *Server) pumpTarget(c *circuit, streamID uint16) {
	buf := make([]byte, cell.RelayDataLen)
	for {
		n, err := c.targetConn.Read(buf)
		if n > 0 {
			c.mu.Lock()
			if c.state != stateClosing {
				sub := &cell.RelaySubcell{RelayCommand: cell.RelayCmdData, StreamID: streamID, Data: append([]byte(nil), buf[:n]...)}
				back := c.layer.AddBack(sub.Pack())
				_ = c.prevLink.WriteCell(cell.NewRelayCell(c.id, back))
			}
			c.mu.Unlock()
		}
		if err != nil {
			if err != io.EOF {
				s.Logger.Debug("read from target failed", "error", err)
			}
			return
		}
	}
}

// teardownCircuit marks c closing, closes its far-side link and target
// connection, and removes it from both of the server's circuit tables
// (spec §4.5 "Any error or DESTROY → CLOSING"). The near-side link is
// shared with other circuits and stays open. The circuit's onion layer
// is not zeroized.
func (s *Server) teardownCircuit(c *circuit) {
	c.mu.Lock()
	if c.state == stateClosing {
		c.mu.Unlock()
		return
	}
	c.state = stateClosing
	nextLink := c.nextLink
	targetConn := c.targetConn
	c.mu.Unlock()

	if nextLink != nil {
		nextLink.Close()
	}
	if targetConn != nil {
		targetConn.Close()
	}
	s.removeCircuit(c)
}

func trimNUL(b []byte) string {
	for i, ch := range b {
		if ch == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
