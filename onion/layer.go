// Package onion implements the per-hop AES-256-CTR stream-cipher layers
// a circuit is built from: up to three client-side layers composed in
// onion order, and the single layer a relay holds for its own hop.
package onion

import (
	"crypto/cipher"
	"fmt"

	"github.com/pqtor/tor-pq/primitives"
)

// Layer holds the forward and backward AES-256-CTR stream states derived
// from one handshake's K_enc.
type Layer struct {
	forward  cipher.Stream
	backward cipher.Stream
}

// UnpackKeyMaterial builds the forward/backward stream ciphers from an
// 80-byte K_enc bundle: Kf(32) ‖ Kb(32) ‖ IVf(8) ‖ IVb(8). The two 8-byte
// IVs are zero-padded to a full 16-byte AES counter block (spec §4.3,
// Design Note (d) — this system derives only 8 bytes of IV from the KDF
// rather than a full counter block, a documented simplification).
func UnpackKeyMaterial(kEnc [80]byte) (fwd, bwd cipher.Stream, err error) {
	kf := kEnc[0:32]
	kb := kEnc[32:64]

	var ivf, ivb [16]byte
	copy(ivf[:8], kEnc[64:72])
	copy(ivb[:8], kEnc[72:80])

	fwd, err = primitives.NewAES256CTR(kf, ivf[:])
	if err != nil {
		return nil, nil, fmt.Errorf("onion layer forward stream: %w", err)
	}
	bwd, err = primitives.NewAES256CTR(kb, ivb[:])
	if err != nil {
		return nil, nil, fmt.Errorf("onion layer backward stream: %w", err)
	}
	return fwd, bwd, nil
}

// NewLayer builds a Layer from an 80-byte K_enc bundle.
func NewLayer(kEnc [80]byte) (*Layer, error) {
	fwd, bwd, err := UnpackKeyMaterial(kEnc)
	if err != nil {
		return nil, err
	}
	return &Layer{forward: fwd, backward: bwd}, nil
}

// EncryptForward XORs payload with this layer's forward keystream,
// in place, and returns it.
func (l *Layer) EncryptForward(payload []byte) []byte {
	l.forward.XORKeyStream(payload, payload)
	return payload
}

// DecryptBackward XORs payload with this layer's backward keystream,
// in place, and returns it.
func (l *Layer) DecryptBackward(payload []byte) []byte {
	l.backward.XORKeyStream(payload, payload)
	return payload
}

// recognized reports whether a peeled RELAY sub-cell payload is
// addressed to the relay holding this layer: spec §4.3's
// `payload'[1..3] == 0` shortcut, deliberately not a running digest
// (spec §9 Design Note (b), an explicit known deviation from production
// Tor's recognized-cell verification).
func recognized(payload []byte) bool {
	return payload[1] == 0 && payload[2] == 0
}

// ClientLayers is the fixed, up-to-three-hop layer stack a client
// circuit holds: index 0 is Guard, 1 is Middle, 2 is Exit. Layers are
// installed in order as the circuit extends; unset indices are nil.
type ClientLayers [3]*Layer

// Install sets the layer at idx (0=Guard, 1=Middle, 2=Exit).
func (c *ClientLayers) Install(idx int, l *Layer) {
	c[idx] = l
}

// Encrypt applies each active layer's forward keystream from the
// innermost (Exit) outward to the outermost (Guard), the order a relay
// peeling Guard-first will correctly unwind.
func (c *ClientLayers) Encrypt(payload []byte) []byte {
	for i := 2; i >= 0; i-- {
		if c[i] != nil {
			payload = c[i].EncryptForward(payload)
		}
	}
	return payload
}

// Decrypt applies each active layer's backward keystream from the
// outermost (Guard) inward to the innermost (Exit), unwinding the order
// each relay added its own backward layer in.
func (c *ClientLayers) Decrypt(payload []byte) []byte {
	for i := 0; i < 3; i++ {
		if c[i] != nil {
			payload = c[i].DecryptBackward(payload)
		}
	}
	return payload
}

// RelayLayer wraps the single layer a relay holds for one circuit hop.
type RelayLayer struct {
	layer *Layer
}

// NewRelayLayer wraps a Layer for relay-side peel/add-back use.
func NewRelayLayer(l *Layer) *RelayLayer {
	return &RelayLayer{layer: l}
}

// Peel XORs payload with the forward keystream and reports whether the
// result is recognized as addressed to this relay.
func (r *RelayLayer) Peel(payload []byte) (out []byte, isRecognized bool) {
	out = r.layer.EncryptForward(payload)
	return out, recognized(out)
}

// AddBack XORs payload with the backward keystream, the operation a
// relay performs when sending a cell toward the client.
func (r *RelayLayer) AddBack(payload []byte) []byte {
	return r.layer.DecryptBackward(payload)
}
