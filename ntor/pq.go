package ntor

import (
	"fmt"

	"github.com/cloudflare/circl/kem"

	"github.com/pqtor/tor-pq/primitives"
)

// PQClientState is the client-side handshake state held between
// PQClientCreate and Finish.
type PQClientState struct {
	priv    kem.PrivateKey
	pub     kem.PublicKey
	pubRaw  []byte
	relayID [20]byte
}

// Close drops references to the held Kyber keypair so it can be
// collected; circl's kem.PrivateKey is an opaque third-party type with no
// exported zeroization hook, so this is the best available cleanup for
// it (the raw bytes this system derives itself — K_auth, K_enc, the KEM
// shared secret — are zeroized explicitly in Finish).
func (s *PQClientState) Close() {
	if s == nil {
		return
	}
	s.priv = nil
	s.pub = nil
	primitives.Zero(s.pubRaw)
}

// PQClientCreate builds a PQ-NTOR onionskin: pk_c ‖ relay_id.
func PQClientCreate(relayID [20]byte) (onionskin []byte, state *PQClientState, err error) {
	pub, priv, err := primitives.GenerateKEMKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("pq-ntor client create: %w", err)
	}
	pubRaw, err := primitives.MarshalKEMPublicKey(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("pq-ntor client create: %w", err)
	}

	onionskin = make([]byte, 0, len(pubRaw)+RelayIDSize)
	onionskin = append(onionskin, pubRaw...)
	onionskin = append(onionskin, relayID[:]...)

	state = &PQClientState{priv: priv, pub: pub, pubRaw: pubRaw, relayID: relayID}
	return onionskin, state, nil
}

// PQServerRespond runs the PQ-NTOR server half. PQ-NTOR has no persistent
// server key: the server encapsulates against the client's one-time
// Kyber public key carried in the onionskin.
func PQServerRespond(identity [20]byte, onionskin []byte) (reply []byte, keys *KeyMaterial, err error) {
	if len(onionskin) <= RelayIDSize {
		return nil, nil, fmt.Errorf("pq-ntor onionskin: %w", ErrMalformed)
	}
	split := len(onionskin) - RelayIDSize
	pkBytes := onionskin[:split]
	gotID := onionskin[split:]
	if err := checkRelayID(gotID, identity[:]); err != nil {
		return nil, nil, err
	}

	pubC, err := primitives.UnmarshalKEMPublicKey(pkBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("pq-ntor server unmarshal client key: %w", err)
	}

	ct, ssK, err := primitives.KEMEncapsulate(pubC)
	if err != nil {
		return nil, nil, fmt.Errorf("pq-ntor server encapsulate: %w", err)
	}
	defer primitives.Zero(ssK)

	transcript := make([]byte, 0, len(pkBytes)+len(ct)+RelayIDSize)
	transcript = append(transcript, pkBytes...)
	transcript = append(transcript, ct...)
	transcript = append(transcript, gotID...)

	keys, err = deriveKeys(nil, ssK, transcript)
	if err != nil {
		return nil, nil, fmt.Errorf("pq-ntor server derive: %w", err)
	}
	auth := computeAuth(keys.KAuth[:], transcript)

	reply = make([]byte, 0, len(ct)+32)
	reply = append(reply, ct...)
	reply = append(reply, auth...)
	return reply, keys, nil
}

// Finish consumes the server's reply, decapsulates the KEM ciphertext,
// verifies AUTH in constant time, and returns the derived keys. On any
// failure — decapsulation or AUTH mismatch — the client's Kyber keypair
// is dropped before returning.
func (s *PQClientState) Finish(reply []byte) (keys *KeyMaterial, err error) {
	defer s.Close()

	if len(reply) <= 32 {
		return nil, fmt.Errorf("pq-ntor reply: %w", ErrMalformed)
	}
	split := len(reply) - 32
	ct := reply[:split]
	gotAuth := reply[split:]

	ssK, err := primitives.KEMDecapsulate(s.priv, ct)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecapFailed, err)
	}
	defer primitives.Zero(ssK)

	transcript := make([]byte, 0, len(s.pubRaw)+len(ct)+RelayIDSize)
	transcript = append(transcript, s.pubRaw...)
	transcript = append(transcript, ct...)
	transcript = append(transcript, s.relayID[:]...)

	keys, err = deriveKeys(nil, ssK, transcript)
	if err != nil {
		return nil, fmt.Errorf("pq-ntor client derive: %w", err)
	}

	wantAuth := computeAuth(keys.KAuth[:], transcript)
	if !primitives.ConstantTimeCompare(gotAuth, wantAuth) {
		keys.Close()
		return nil, ErrAuthFailed
	}
	return keys, nil
}
