package client

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pqtor/tor-pq/cell"
	"github.com/pqtor/tor-pq/descriptor"
	"github.com/pqtor/tor-pq/ntor"
	"github.com/pqtor/tor-pq/onion"
)

// Extend extends the circuit by one hop toward next, encrypting the
// EXTEND2 RELAY_EARLY cell through every layer installed so far and
// installing a new layer at the resulting hop index on success.
func (c *Circuit) Extend(next descriptor.NodeInfo, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	onionskin, hs, err := ntor.ClientCreate(c.Variant, next.Identity)
	if err != nil {
		return fmt.Errorf("ntor handshake init: %w", err)
	}
	defer hs.Close()

	ext := &cell.Extend2Payload{
		Hostname:      next.Hostname,
		Port:          next.Port,
		HandshakeType: cell.HandshakeType,
		HandshakeData: onionskin,
	}
	payload, err := ext.Pack()
	if err != nil {
		return fmt.Errorf("pack EXTEND2: %w", err)
	}

	_ = c.Link.SetDeadline(time.Now().Add(handshakeTimeout))
	defer c.Link.SetDeadline(time.Time{})

	c.wmu.Lock()
	layerIdx := c.numHops
	err = c.sendRelayEarlyLocked(cell.RelayCmdExtend2, 0, payload)
	c.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("send EXTEND2: %w", err)
	}
	logger.Debug("sent EXTEND2", "to", next.Address())

	relayCmd, _, data, err := c.ReceiveRelay()
	if err != nil {
		return fmt.Errorf("receive EXTENDED2: %w", err)
	}
	if relayCmd != cell.RelayCmdExtended2 {
		return fmt.Errorf("expected EXTENDED2 (%d), got relay command %d", cell.RelayCmdExtended2, relayCmd)
	}

	km, err := hs.Finish(data)
	if err != nil {
		return fmt.Errorf("ntor finish for new hop: %w", err)
	}
	defer km.Close()

	layer, err := onion.NewLayer(packKEnc(km))
	if err != nil {
		return fmt.Errorf("install new layer: %w", err)
	}

	c.wmu.Lock()
	c.rmu.Lock()
	c.layers.Install(layerIdx, layer)
	c.numHops++
	c.rmu.Unlock()
	c.wmu.Unlock()

	logger.Info("circuit extended", "hops", c.numHops)
	return nil
}
