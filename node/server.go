// Package node implements the relay engine (C6): a role-parameterized
// (Guard, Middle, Exit) server that terminates CREATE2, chains EXTEND2
// to the next hop, ferries RELAY cells in both directions peeling or
// adding exactly one onion layer per traversal, and — at the Exit —
// bridges RELAY_BEGIN/RELAY_DATA to a plain TCP connection to the
// application target. The Exit sends RELAY_END only when dialing the
// target fails; an incoming RELAY_END is ignored.
package node

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pqtor/tor-pq/cell"
	"github.com/pqtor/tor-pq/descriptor"
	"github.com/pqtor/tor-pq/link"
	"github.com/pqtor/tor-pq/ntor"
)

// maxConns bounds the number of connections served concurrently,
// following the same accept-loop-plus-semaphore shape as the SOCKS
// front end.
const maxConns = 256

// dialTimeout bounds the relay's own outbound connect to the next hop
// or, at the Exit, to the application target.
const dialTimeout = 10 * time.Second

// handshakeTimeout bounds the relay's wait for CREATED2 from the next
// hop while servicing an EXTEND2 (spec §5 reference value: 5s).
const handshakeTimeout = 5 * time.Second

// circuitKey identifies a circuit by the link it rides and its circuit
// ID on that link. Circuit IDs are only unique per link, so the relay's
// two routing tables (by the client/upstream-facing link, and by the
// relay's own downstream link) are both keyed this way.
type circuitKey struct {
	link   *link.Link
	circID uint32
}

// Server is a relay node for one role (Guard, Middle, or Exit).
type Server struct {
	Role       descriptor.Role
	Variant    ntor.Variant
	Identity   [20]byte
	ServerKey  ntor.ClassicServerKey // used only when Variant == VariantClassic
	ListenAddr string
	Logger     *slog.Logger

	ln  net.Listener
	sem chan struct{}

	mu      sync.Mutex
	byPrev  map[circuitKey]*circuit
	byNext  map[circuitKey]*circuit
}

// ListenAndServe binds s.ListenAddr and starts accepting connections.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln, allowing the caller to create the
// listener first and learn the bound address (e.g. in tests) before
// serving begins.
func (s *Server) Serve(ln net.Listener) error {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	s.byPrev = make(map[circuitKey]*circuit)
	s.byNext = make(map[circuitKey]*circuit)
	s.sem = make(chan struct{}, maxConns)

	s.ln = ln
	s.Logger.Info("relay listening", "addr", ln.Addr().String(), "role", s.Role.String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		s.sem <- struct{}{}
		go func() {
			defer func() { <-s.sem }()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

// handleConn services one incoming link: it may carry a handful of
// circuits over its lifetime, each dispatched to its own circuit state
// once CREATE2 establishes it.
func (s *Server) handleConn(conn net.Conn) {
	prevLink := link.Wrap(conn)
	defer prevLink.Close()

	for {
		incoming, err := prevLink.Reader.ReadCell()
		if err != nil {
			s.teardownLink(prevLink)
			return
		}

		switch incoming.Command() {
		case cell.CmdCreate2:
			s.handleCreate2(prevLink, incoming)
		case cell.CmdRelay, cell.CmdRelayEarly:
			s.dispatchFromPrev(prevLink, incoming)
		case cell.CmdDestroy:
			s.destroyFromPrev(prevLink, incoming.CircID())
		case cell.CmdPadding:
			continue
		default:
			s.Logger.Debug("ignoring unexpected cell", "cmd", incoming.Command())
		}
	}
}

func (s *Server) handleCreate2(prevLink *link.Link, incoming cell.Cell) {
	circID := incoming.CircID()
	_, onionskin, err := cell.ParseCreate2Cell(incoming)
	if err != nil {
		s.Logger.Debug("malformed CREATE2", "error", err)
		return
	}

	reply, km, err := ntor.ServerRespond(s.Variant, s.Identity, onionskin, s.ServerKey)
	if err != nil {
		s.Logger.Debug("handshake failed", "error", err)
		_ = prevLink.WriteCell(cell.NewDestroyCell(circID, cell.DestroyReasonProtocol))
		return
	}
	defer km.Close()

	c, err := newCircuit(s.Role, circID, prevLink, km)
	if err != nil {
		s.Logger.Debug("install layer failed", "error", err)
		_ = prevLink.WriteCell(cell.NewDestroyCell(circID, cell.DestroyReasonInternal))
		return
	}

	s.mu.Lock()
	s.byPrev[circuitKey{prevLink, circID}] = c
	s.mu.Unlock()

	if err := prevLink.WriteCell(cell.NewCreated2Cell(circID, reply)); err != nil {
		s.Logger.Debug("write CREATED2 failed", "error", err)
		s.removeCircuit(c)
		return
	}
	s.Logger.Info("circuit opened", "circID", fmt.Sprintf("0x%08x", circID), "role", s.Role.String())
}

func (s *Server) dispatchFromPrev(prevLink *link.Link, incoming cell.Cell) {
	s.mu.Lock()
	c := s.byPrev[circuitKey{prevLink, incoming.CircID()}]
	s.mu.Unlock()
	if c == nil {
		s.Logger.Debug("cell for unknown circuit", "circID", incoming.CircID())
		return
	}
	s.handleCircuitCell(c, incoming)
}

func (s *Server) destroyFromPrev(prevLink *link.Link, circID uint32) {
	s.mu.Lock()
	c := s.byPrev[circuitKey{prevLink, circID}]
	s.mu.Unlock()
	if c == nil {
		return
	}
	s.teardownCircuit(c)
}

// teardownLink tears down every circuit whose client/upstream-facing
// link just closed.
func (s *Server) teardownLink(l *link.Link) {
	s.mu.Lock()
	var victims []*circuit
	for k, c := range s.byPrev {
		if k.link == l {
			victims = append(victims, c)
		}
	}
	s.mu.Unlock()
	for _, c := range victims {
		s.teardownCircuit(c)
	}
}

func (s *Server) removeCircuit(c *circuit) {
	s.mu.Lock()
	delete(s.byPrev, circuitKey{c.prevLink, c.id})
	if c.nextLink != nil {
		delete(s.byNext, circuitKey{c.nextLink, c.nextCircID})
	}
	s.mu.Unlock()
}

// allocateRelayCircID picks a circuit ID for the relay's own dial to
// the next hop.
func allocateRelayCircID() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	id := binary.BigEndian.Uint32(buf[:])
	id &^= 0x80000000
	if id == 0 {
		id = 1
	}
	return id, nil
}
