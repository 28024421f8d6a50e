// Package client implements the circuit builder: establishing a circuit
// through a Guard via CREATE2/CREATED2, extending it through Middle and
// Exit hops via EXTEND2/EXTENDED2, and sending/receiving RELAY cells
// through the resulting onion layers.
package client

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pqtor/tor-pq/cell"
	"github.com/pqtor/tor-pq/descriptor"
	"github.com/pqtor/tor-pq/link"
	"github.com/pqtor/tor-pq/ntor"
	"github.com/pqtor/tor-pq/onion"
)

// maxRelayEarly bounds the number of RELAY_EARLY cells a circuit will
// send. The protocol does not require a cap, but an unbounded count of
// EXTEND2 cells down one circuit is never useful and a bound costs
// nothing to carry forward as a safety margin.
const maxRelayEarly = 8

// handshakeTimeout bounds how long the client waits for CREATED2 or
// EXTENDED2 before giving up on the circuit (spec §5: "reference value
// 5s" for the analogous relay-side wait; the client applies the same
// budget to its own handshake round trips).
const handshakeTimeout = 5 * time.Second

// Circuit is an established, possibly-still-extending circuit over a
// link. Reads and writes are independently mutex-protected so a
// reader goroutine and a writer goroutine can share one circuit safely;
// within each direction, cells are strictly ordered because the layered
// keystreams must be consumed in order.
type Circuit struct {
	rmu sync.Mutex
	wmu sync.Mutex

	ID      uint32
	Link    *link.Link
	Variant ntor.Variant

	layers         onion.ClientLayers
	numHops        int
	relayEarlySent int
}

// Create performs a CREATE2/CREATED2 handshake against guard, using
// the given handshake variant, and returns a one-hop circuit.
func Create(l *link.Link, variant ntor.Variant, guard descriptor.NodeInfo, logger *slog.Logger) (*Circuit, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var circID uint32
	for attempts := 0; attempts < 16; attempts++ {
		id, err := allocateCircID()
		if err != nil {
			return nil, fmt.Errorf("allocate circuit ID: %w", err)
		}
		if l.ClaimCircID(id) {
			circID = id
			break
		}
	}
	if circID == 0 {
		return nil, fmt.Errorf("failed to allocate unique circuit ID after 16 attempts")
	}
	logger.Info("circuit ID allocated", "circID", fmt.Sprintf("0x%08x", circID))

	onionskin, hs, err := ntor.ClientCreate(variant, guard.Identity)
	if err != nil {
		return nil, fmt.Errorf("ntor handshake init: %w", err)
	}
	defer hs.Close()

	create2 := cell.NewCreate2Cell(circID, onionskin)

	_ = l.SetDeadline(time.Now().Add(handshakeTimeout))
	defer l.SetDeadline(time.Time{})

	logger.Debug("sending CREATE2", "circID", fmt.Sprintf("0x%08x", circID))
	if err := l.WriteCell(create2); err != nil {
		return nil, fmt.Errorf("send CREATE2: %w", err)
	}

	resp, err := l.Reader.ReadCell()
	if err != nil {
		return nil, fmt.Errorf("read CREATED2: %w", err)
	}

	if resp.Command() == cell.CmdDestroy {
		reason, _ := cell.ParseDestroyCell(resp)
		return nil, fmt.Errorf("guard sent DESTROY (reason=%d) instead of CREATED2", reason)
	}
	reply, err := cell.ParseCreated2Cell(resp)
	if err != nil {
		return nil, fmt.Errorf("parse CREATED2: %w", err)
	}

	km, err := hs.Finish(reply)
	if err != nil {
		return nil, fmt.Errorf("ntor finish: %w", err)
	}
	defer km.Close()
	logger.Info("ntor handshake complete", "variant", variant.String())

	layer, err := onion.NewLayer(packKEnc(km))
	if err != nil {
		return nil, fmt.Errorf("install guard layer: %w", err)
	}

	c := &Circuit{ID: circID, Link: l, Variant: variant}
	c.layers.Install(0, layer)
	c.numHops = 1
	return c, nil
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

// SendRelay encrypts and sends a RELAY cell through the circuit.
func (c *Circuit) SendRelay(relayCmd uint8, streamID uint16, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	relayCell, err := c.encryptRelayLocked(cell.CmdRelay, relayCmd, streamID, data)
	if err != nil {
		return fmt.Errorf("encrypt relay: %w", err)
	}
	return c.Link.WriteCell(relayCell)
}

// sendRelayEarlyLocked encrypts and sends a RELAY_EARLY cell. Caller
// must hold c.wmu.
func (c *Circuit) sendRelayEarlyLocked(relayCmd uint8, streamID uint16, data []byte) error {
	if c.relayEarlySent >= maxRelayEarly {
		return fmt.Errorf("RELAY_EARLY budget exhausted (%d/%d)", c.relayEarlySent, maxRelayEarly)
	}
	relayCell, err := c.encryptRelayLocked(cell.CmdRelayEarly, relayCmd, streamID, data)
	if err != nil {
		return fmt.Errorf("encrypt relay_early: %w", err)
	}
	c.relayEarlySent++
	return c.Link.WriteCell(relayCell)
}

// ReceiveRelay reads and decrypts the next RELAY/RELAY_EARLY cell,
// skipping PADDING and failing on DESTROY.
func (c *Circuit) ReceiveRelay() (relayCmd uint8, streamID uint16, data []byte, err error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	for {
		incoming, err := c.Link.Reader.ReadCell()
		if err != nil {
			return 0, 0, nil, fmt.Errorf("read cell: %w", err)
		}

		switch incoming.Command() {
		case cell.CmdPadding:
			continue
		case cell.CmdDestroy:
			reason, _ := cell.ParseDestroyCell(incoming)
			return 0, 0, nil, fmt.Errorf("circuit destroyed by peer (reason=%d)", reason)
		case cell.CmdRelay, cell.CmdRelayEarly:
			return c.decryptRelayLocked(incoming)
		default:
			return 0, 0, nil, fmt.Errorf("unexpected cell command %d on circuit", incoming.Command())
		}
	}
}

// Destroy sends a DESTROY cell carrying reason to tear down the circuit.
// The installed onion layers are left in place and are not zeroized.
func (c *Circuit) Destroy(reason cell.DestroyReason) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.Link.WriteCell(cell.NewDestroyCell(c.ID, reason))
}

func allocateCircID() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	circID := binary.BigEndian.Uint32(buf[:])
	circID &^= 0x80000000 // client-chosen, non-zero, positive 31-bit space, high bit clear
	if circID == 0 {
		circID = 1
	}
	return circID, nil
}
