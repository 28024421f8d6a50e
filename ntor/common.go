// Package ntor implements the three handshake variants this system
// negotiates over CREATE2/CREATED2: Classic-NTOR (X25519 only), PQ-NTOR
// (Kyber-512 only), and Hybrid-NTOR (Kyber-512 combined with an ephemeral
// X25519 exchange). All three share a common shape: ClientCreate produces
// an onionskin plus client state, ServerRespond consumes an onionskin and
// returns a reply plus derived keys, and ClientState.Finish consumes the
// reply and returns the same derived keys or an authentication error.
package ntor

import (
	"errors"
	"fmt"

	"github.com/pqtor/tor-pq/primitives"
)

// RelayIDSize is the length of the per-node identifier bound into every
// handshake transcript.
const RelayIDSize = 20

// Variant selects which of the three handshakes, and so which onionskin
// layout, a node runs. All three share the same CREATE2 htype, so the
// variant is set by node configuration rather than read from the wire.
type Variant uint8

const (
	VariantClassic Variant = iota
	VariantPQ
	VariantHybrid
)

func (v Variant) String() string {
	switch v {
	case VariantClassic:
		return "classic-ntor"
	case VariantPQ:
		return "pq-ntor"
	case VariantHybrid:
		return "hybrid-ntor"
	default:
		return fmt.Sprintf("unknown-variant(%d)", uint8(v))
	}
}

// Sentinel errors covering the handshake failure taxonomy.
var (
	ErrRelayIDMismatch = errors.New("ntor: relay_id mismatch")
	ErrDecapFailed     = errors.New("ntor: KEM decapsulation failed")
	ErrAuthFailed      = errors.New("ntor: AUTH verification failed")
	ErrMalformed       = errors.New("ntor: malformed handshake message")
)

// KeyMaterial is the key bundle every variant derives: a 32-byte K_auth
// used only during the handshake, plus the 80-byte K_enc split into the
// forward/backward stream keys and initial counter blocks an onion layer
// is built from.
type KeyMaterial struct {
	KAuth [32]byte
	Kf    [32]byte
	Kb    [32]byte
	IVf   [8]byte
	IVb   [8]byte
}

// Close zeroizes all derived key material.
func (km *KeyMaterial) Close() {
	if km == nil {
		return
	}
	primitives.Zero(km.KAuth[:])
	primitives.Zero(km.Kf[:])
	primitives.Zero(km.Kb[:])
	primitives.Zero(km.IVf[:])
	primitives.Zero(km.IVb[:])
}

// deriveKeys runs HKDF-SHA256(salt, ikm, info) and splits 112 bytes of
// output into K_auth (32 bytes) followed by K_enc (80 bytes: Kf ‖ Kb ‖
// IVf ‖ IVb).
func deriveKeys(salt, ikm, info []byte) (*KeyMaterial, error) {
	out, err := primitives.HKDFExpand(salt, ikm, info, 32+80)
	if err != nil {
		return nil, fmt.Errorf("derive handshake keys: %w", err)
	}
	defer primitives.Zero(out)

	km := &KeyMaterial{}
	copy(km.KAuth[:], out[0:32])
	copy(km.Kf[:], out[32:64])
	copy(km.Kb[:], out[64:96])
	copy(km.IVf[:], out[96:104])
	copy(km.IVb[:], out[104:112])
	return km, nil
}

// computeAuth computes AUTH = HMAC-SHA256(K_auth, transcript ‖ "server"),
// the construction shared by all three variants.
func computeAuth(kAuth, transcript []byte) []byte {
	msg := make([]byte, 0, len(transcript)+len("server"))
	msg = append(msg, transcript...)
	msg = append(msg, "server"...)
	return primitives.HMACSHA256(kAuth, msg)
}

func checkRelayID(got, want []byte) error {
	if !primitives.ConstantTimeCompare(got, want) {
		return ErrRelayIDMismatch
	}
	return nil
}

// ClientState is the common shape of the three client-side handshake
// states: each holds ephemeral key material until Finish consumes the
// server's reply (or Close discards it on a failed circuit build).
type ClientState interface {
	Finish(reply []byte) (*KeyMaterial, error)
	Close()
}

// ClientCreate starts the client side of the handshake variant named by
// v against a relay identified by relayID, returning the onionskin to
// embed in CREATE2/EXTEND2 and the state needed to finish the handshake
// once a reply arrives. This is the single entry point circuit-building
// code uses; callers never need to know which concrete variant type
// they're holding.
func ClientCreate(v Variant, relayID [20]byte) (onionskin []byte, state ClientState, err error) {
	switch v {
	case VariantClassic:
		return ClassicClientCreate(relayID)
	case VariantPQ:
		return PQClientCreate(relayID)
	case VariantHybrid:
		return HybridClientCreate(relayID)
	default:
		return nil, nil, fmt.Errorf("%w: unknown variant %s", ErrMalformed, v)
	}
}

// ServerRespond runs the server side of the handshake variant named by v
// against an onionskin, using key for Classic-NTOR (ignored by the two
// fully-ephemeral variants).
func ServerRespond(v Variant, identity [20]byte, onionskin []byte, key ClassicServerKey) (reply []byte, keys *KeyMaterial, err error) {
	switch v {
	case VariantClassic:
		return ClassicServerRespond(identity, onionskin, key)
	case VariantPQ:
		return PQServerRespond(identity, onionskin)
	case VariantHybrid:
		return HybridServerRespond(identity, onionskin)
	default:
		return nil, nil, fmt.Errorf("%w: unknown variant %s", ErrMalformed, v)
	}
}
