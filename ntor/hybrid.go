package ntor

import (
	"fmt"

	"github.com/cloudflare/circl/kem"

	"github.com/pqtor/tor-pq/primitives"
)

// HybridClientState is the client-side handshake state held between
// HybridClientCreate and Finish.
type HybridClientState struct {
	kemPriv   kem.PrivateKey
	kemPub    kem.PublicKey
	kemPubRaw []byte
	xPriv     [32]byte
	xPub      [32]byte
	relayID   [20]byte
}

// Close drops the Kyber keypair reference (best-effort cleanup for circl's
// opaque type, as in PQClientState) and zeroizes the X25519 private key.
func (s *HybridClientState) Close() {
	if s == nil {
		return
	}
	s.kemPriv = nil
	s.kemPub = nil
	primitives.Zero(s.kemPubRaw)
	primitives.Zero(s.xPriv[:])
}

// HybridClientCreate builds a Hybrid-NTOR onionskin: pk_Kyber_c ‖
// pk_X25519_c ‖ relay_id.
func HybridClientCreate(relayID [20]byte) (onionskin []byte, state *HybridClientState, err error) {
	kemPub, kemPriv, err := primitives.GenerateKEMKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("hybrid-ntor client create: %w", err)
	}
	kemPubRaw, err := primitives.MarshalKEMPublicKey(kemPub)
	if err != nil {
		return nil, nil, fmt.Errorf("hybrid-ntor client create: %w", err)
	}
	xPriv, xPub, err := primitives.GenerateX25519KeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("hybrid-ntor client create: %w", err)
	}

	onionskin = make([]byte, 0, len(kemPubRaw)+32+RelayIDSize)
	onionskin = append(onionskin, kemPubRaw...)
	onionskin = append(onionskin, xPub[:]...)
	onionskin = append(onionskin, relayID[:]...)

	state = &HybridClientState{
		kemPriv: kemPriv, kemPub: kemPub, kemPubRaw: kemPubRaw,
		xPriv: xPriv, xPub: xPub, relayID: relayID,
	}
	return onionskin, state, nil
}

func combineSharedSecrets(ssK, ssX []byte) ([]byte, error) {
	ikm := make([]byte, 0, len(ssK)+len(ssX))
	ikm = append(ikm, ssK...)
	ikm = append(ikm, ssX...)
	defer primitives.Zero(ikm)
	ssH, err := primitives.HKDFExpand(nil, ikm, []byte("hybrid-ntor-combine"), 32)
	if err != nil {
		return nil, fmt.Errorf("hybrid-ntor combine shared secrets: %w", err)
	}
	return ssH, nil
}

// HybridServerRespond runs the Hybrid-NTOR server half. Like PQ-NTOR,
// Hybrid-NTOR has no persistent server key: the server encapsulates
// against the client's one-time Kyber public key and additionally
// generates a fresh X25519 keypair for this handshake only.
func HybridServerRespond(identity [20]byte, onionskin []byte) (reply []byte, keys *KeyMaterial, err error) {
	kemPubLen := primitives.KEMPublicKeySize
	wantLen := kemPubLen + 32 + RelayIDSize
	if len(onionskin) != wantLen {
		return nil, nil, fmt.Errorf("hybrid-ntor onionskin: %w", ErrMalformed)
	}
	kemPubRaw := onionskin[0:kemPubLen]
	var pubXC [32]byte
	copy(pubXC[:], onionskin[kemPubLen:kemPubLen+32])
	gotID := onionskin[kemPubLen+32 : kemPubLen+32+RelayIDSize]
	if err := checkRelayID(gotID, identity[:]); err != nil {
		return nil, nil, err
	}

	kemPubC, err := primitives.UnmarshalKEMPublicKey(kemPubRaw)
	if err != nil {
		return nil, nil, fmt.Errorf("hybrid-ntor server unmarshal client kyber key: %w", err)
	}
	ct, ssK, err := primitives.KEMEncapsulate(kemPubC)
	if err != nil {
		return nil, nil, fmt.Errorf("hybrid-ntor server encapsulate: %w", err)
	}
	defer primitives.Zero(ssK)

	xPrivS, pubXS, err := primitives.GenerateX25519KeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("hybrid-ntor server ephemeral x25519: %w", err)
	}
	defer primitives.Zero(xPrivS[:])

	ssX, err := primitives.X25519SharedSecret(xPrivS, pubXC)
	if err != nil {
		return nil, nil, fmt.Errorf("hybrid-ntor server ecdh: %w", err)
	}
	defer primitives.Zero(ssX)

	ssH, err := combineSharedSecrets(ssK, ssX)
	if err != nil {
		return nil, nil, err
	}
	defer primitives.Zero(ssH)

	transcript := make([]byte, 0, kemPubLen+32+len(ct)+32+RelayIDSize)
	transcript = append(transcript, kemPubRaw...)
	transcript = append(transcript, pubXC[:]...)
	transcript = append(transcript, ct...)
	transcript = append(transcript, pubXS[:]...)
	transcript = append(transcript, gotID...)

	salt := primitives.SHA256Sum(transcript)
	keys, err = deriveKeys(salt[:], ssH, []byte("hybrid-ntor-keys"))
	if err != nil {
		return nil, nil, fmt.Errorf("hybrid-ntor server derive: %w", err)
	}
	auth := computeAuth(keys.KAuth[:], transcript)

	reply = make([]byte, 0, len(ct)+32+32)
	reply = append(reply, ct...)
	reply = append(reply, pubXS[:]...)
	reply = append(reply, auth...)
	return reply, keys, nil
}

// Finish consumes the server's reply, decapsulates the KEM ciphertext,
// runs the ephemeral ECDH, combines both shared secrets, verifies AUTH in
// constant time, and returns the derived keys. On any failure the
// client's ephemeral key material is dropped/zeroized before returning.
func (s *HybridClientState) Finish(reply []byte) (keys *KeyMaterial, err error) {
	defer s.Close()

	ctLen := primitives.KEMCiphertextSize
	wantLen := ctLen + 32 + 32
	if len(reply) != wantLen {
		return nil, fmt.Errorf("hybrid-ntor reply: %w", ErrMalformed)
	}
	ct := reply[0:ctLen]
	var pubXS [32]byte
	copy(pubXS[:], reply[ctLen:ctLen+32])
	gotAuth := reply[ctLen+32 : ctLen+64]

	ssK, err := primitives.KEMDecapsulate(s.kemPriv, ct)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecapFailed, err)
	}
	defer primitives.Zero(ssK)

	ssX, err := primitives.X25519SharedSecret(s.xPriv, pubXS)
	if err != nil {
		return nil, fmt.Errorf("hybrid-ntor client ecdh: %w", err)
	}
	defer primitives.Zero(ssX)

	ssH, err := combineSharedSecrets(ssK, ssX)
	if err != nil {
		return nil, err
	}
	defer primitives.Zero(ssH)

	transcript := make([]byte, 0, len(s.kemPubRaw)+32+len(ct)+32+RelayIDSize)
	transcript = append(transcript, s.kemPubRaw...)
	transcript = append(transcript, s.xPub[:]...)
	transcript = append(transcript, ct...)
	transcript = append(transcript, pubXS[:]...)
	transcript = append(transcript, s.relayID[:]...)

	salt := primitives.SHA256Sum(transcript)
	keys, err = deriveKeys(salt[:], ssH, []byte("hybrid-ntor-keys"))
	if err != nil {
		return nil, fmt.Errorf("hybrid-ntor client derive: %w", err)
	}

	wantAuth := computeAuth(keys.KAuth[:], transcript)
	if !primitives.ConstantTimeCompare(gotAuth, wantAuth) {
		keys.Close()
		return nil, ErrAuthFailed
	}
	return keys, nil
}
