package ntor

import (
	"fmt"

	"github.com/pqtor/tor-pq/primitives"
)

const (
	classicOnionskinLen = 32 + RelayIDSize // 52
	classicReplyLen     = 32 + 32          // 64
)

// ClassicServerKey is the persistent X25519 keypair a relay loads once at
// startup to run the server half of Classic-NTOR. PQ-NTOR and Hybrid-NTOR
// have no equivalent: both are fully ephemeral on the server side.
type ClassicServerKey struct {
	Priv [32]byte
	Pub  [32]byte
}

// ClassicClientState is the client-side handshake state held between
// ClientCreate and Finish.
type ClassicClientState struct {
	priv     [32]byte
	pub      [32]byte
	relayID  [20]byte
	finished bool
}

// Close zeroizes the held ephemeral private key.
func (s *ClassicClientState) Close() {
	if s == nil {
		return
	}
	primitives.Zero(s.priv[:])
}

// ClassicClientCreate builds a Classic-NTOR onionskin: X25519_pk_c ‖
// relay_id (52 bytes).
func ClassicClientCreate(relayID [20]byte) (onionskin []byte, state *ClassicClientState, err error) {
	priv, pub, err := primitives.GenerateX25519KeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("classic-ntor client create: %w", err)
	}
	onionskin = make([]byte, 0, classicOnionskinLen)
	onionskin = append(onionskin, pub[:]...)
	onionskin = append(onionskin, relayID[:]...)
	state = &ClassicClientState{priv: priv, pub: pub, relayID: relayID}
	return onionskin, state, nil
}

// ClassicServerRespond runs the Classic-NTOR server half against a
// persistent static keypair, returning the 64-byte reply and the derived
// keys.
func ClassicServerRespond(identity [20]byte, onionskin []byte, key ClassicServerKey) (reply []byte, keys *KeyMaterial, err error) {
	if len(onionskin) != classicOnionskinLen {
		return nil, nil, fmt.Errorf("classic-ntor onionskin: %w", ErrMalformed)
	}
	var pubC [32]byte
	copy(pubC[:], onionskin[0:32])
	var gotID [20]byte
	copy(gotID[:], onionskin[32:52])
	if err := checkRelayID(gotID[:], identity[:]); err != nil {
		return nil, nil, err
	}

	shared, err := primitives.X25519SharedSecret(key.Priv, pubC)
	if err != nil {
		return nil, nil, fmt.Errorf("classic-ntor server ecdh: %w", err)
	}

	transcript := make([]byte, 0, 32+20+32)
	transcript = append(transcript, pubC[:]...)
	transcript = append(transcript, gotID[:]...)
	transcript = append(transcript, key.Pub[:]...)

	keys, err = deriveKeys(transcript, shared, []byte("classic-ntor-keys"))
	if err != nil {
		return nil, nil, fmt.Errorf("classic-ntor server derive: %w", err)
	}
	auth := computeAuth(keys.KAuth[:], transcript)

	reply = make([]byte, 0, classicReplyLen)
	reply = append(reply, key.Pub[:]...)
	reply = append(reply, auth...)
	return reply, keys, nil
}

// Finish consumes the server's reply, verifies AUTH in constant time, and
// returns the derived keys. On any failure — including AUTH mismatch —
// the client state's ephemeral private key is zeroized before returning.
func (s *ClassicClientState) Finish(reply []byte) (keys *KeyMaterial, err error) {
	defer s.Close()

	if len(reply) != classicReplyLen {
		return nil, fmt.Errorf("classic-ntor reply: %w", ErrMalformed)
	}
	var pubS [32]byte
	copy(pubS[:], reply[0:32])
	gotAuth := reply[32:64]

	shared, err := primitives.X25519SharedSecret(s.priv, pubS)
	if err != nil {
		return nil, fmt.Errorf("classic-ntor client ecdh: %w", err)
	}

	transcript := make([]byte, 0, 32+20+32)
	transcript = append(transcript, s.pub[:]...)
	transcript = append(transcript, s.relayID[:]...)
	transcript = append(transcript, pubS[:]...)

	keys, err = deriveKeys(transcript, shared, []byte("classic-ntor-keys"))
	if err != nil {
		return nil, fmt.Errorf("classic-ntor client derive: %w", err)
	}

	wantAuth := computeAuth(keys.KAuth[:], transcript)
	if !primitives.ConstantTimeCompare(gotAuth, wantAuth) {
		keys.Close()
		return nil, ErrAuthFailed
	}
	return keys, nil
}
