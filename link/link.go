// Package link manages the plain TCP connection-plus-cell-stream pairing
// to a peer. Real Tor's TLS/CERTS/AUTH_CHALLENGE/NETINFO link handshake
// is out of scope here: relay identity is authenticated at the ntor
// layer (relay_id binding, AUTH verification), not by a link-layer
// certificate chain, so a link is nothing more than a dialed connection
// plus a cell reader/writer.
package link

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pqtor/tor-pq/cell"
)

// Link is an established connection to a peer, paired with cell framing.
// A single link may carry more than one circuit (a relay's link to the
// previous hop, in particular), so writes and circuit-ID bookkeeping are
// mutex-guarded independently of whatever per-circuit locking a caller
// layers on top.
type Link struct {
	conn net.Conn
	// Reader frames cells read from conn. Reads are never concurrent in
	// this system (exactly one goroutine owns a link's read loop), so
	// Reader is unguarded.
	Reader *cell.Reader
	// Writer frames cells written to conn; wmu serializes WriteCell
	// across circuits sharing this link.
	Writer *cell.Writer
	wmu    sync.Mutex
	// PeerAddr is the address dialed to reach this link.
	PeerAddr string

	idMu sync.Mutex
	// CircIDs tracks circuit IDs allocated on this link, to prevent
	// collisions between circuits sharing a connection.
	CircIDs map[uint32]bool
}

// WriteCell writes c to the link, serialized against any other circuit
// sharing this link.
func (l *Link) WriteCell(c cell.Cell) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	return l.Writer.WriteCell(c)
}

// ClaimCircID registers a circuit ID on this link. Returns false if
// already in use.
func (l *Link) ClaimCircID(id uint32) bool {
	l.idMu.Lock()
	defer l.idMu.Unlock()
	if l.CircIDs == nil {
		l.CircIDs = make(map[uint32]bool)
	}
	if l.CircIDs[id] {
		return false
	}
	l.CircIDs[id] = true
	return true
}

// ReleaseCircID removes a circuit ID from this link's tracking.
func (l *Link) ReleaseCircID(id uint32) {
	l.idMu.Lock()
	defer l.idMu.Unlock()
	delete(l.CircIDs, id)
}

// SetDeadline sets a deadline on the underlying connection.
func (l *Link) SetDeadline(t time.Time) error {
	return l.conn.SetDeadline(t)
}

// Close closes the underlying connection.
func (l *Link) Close() error {
	return l.conn.Close()
}

// Dial opens a connection to addr ("host:port") and wraps it as a Link.
// No handshake is performed at this layer; the caller drives CREATE2 or
// server-side accept handling on top of the returned cell stream.
func Dial(addr string, logger *slog.Logger) (*Link, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("dialing", "addr", addr)
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("tcp dial: %w", err)
	}

	br := bufio.NewReader(conn)
	cr := cell.NewReader(br)
	cw := cell.NewWriter(conn)

	return &Link{
		conn:     conn,
		Reader:   cr,
		Writer:   cw,
		PeerAddr: addr,
	}, nil
}

// Wrap adapts an already-accepted connection (the relay-side accept
// path) into a Link.
func Wrap(conn net.Conn) *Link {
	br := bufio.NewReader(conn)
	return &Link{
		conn:     conn,
		Reader:   cell.NewReader(br),
		Writer:   cell.NewWriter(conn),
		PeerAddr: conn.RemoteAddr().String(),
	}
}
