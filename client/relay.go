package client

import (
	"fmt"

	"github.com/pqtor/tor-pq/cell"
)

// encryptRelayLocked builds a RELAY sub-cell, encrypts it through every
// installed layer (innermost first), and wraps it in a fixed cell with
// the given outer command (RELAY or RELAY_EARLY). Caller must hold c.wmu.
func (c *Circuit) encryptRelayLocked(outerCmd uint8, relayCmd uint8, streamID uint16, data []byte) (cell.Cell, error) {
	if c.numHops == 0 {
		return nil, fmt.Errorf("circuit has no hops")
	}
	sub := &cell.RelaySubcell{
		RelayCommand: relayCmd,
		StreamID:     streamID,
		Data:         data,
	}
	payload := sub.Pack()
	encrypted := c.layers.Encrypt(payload)

	var out cell.Cell
	if outerCmd == cell.CmdRelayEarly {
		out = cell.NewRelayEarlyCell(c.ID, encrypted)
	} else {
		out = cell.NewRelayCell(c.ID, encrypted)
	}
	return out, nil
}

// decryptRelayLocked unwinds the circuit's backward layers from the
// incoming cell's payload and parses the result as a RELAY sub-cell.
// Caller must hold c.rmu.
func (c *Circuit) decryptRelayLocked(incoming cell.Cell) (relayCmd uint8, streamID uint16, data []byte, err error) {
	if c.numHops == 0 {
		return 0, 0, nil, fmt.Errorf("circuit has no hops")
	}
	payload := append([]byte(nil), incoming.Payload()...)
	decrypted := c.layers.Decrypt(payload)

	sub, err := cell.UnpackRelaySubcell(decrypted)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("unpack relay sub-cell: %w", err)
	}
	return sub.RelayCommand, sub.StreamID, sub.Data, nil
}
