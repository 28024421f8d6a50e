package primitives

import (
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// X25519KeySize is the size of an X25519 public or private key.
const X25519KeySize = 32

// GenerateX25519KeyPair creates a fresh X25519 ephemeral keypair.
func GenerateX25519KeyPair() (priv, pub [X25519KeySize]byte, err error) {
	if err := RandomBytes(priv[:]); err != nil {
		return priv, pub, fmt.Errorf("generate x25519 private key: %w", err)
	}
	pubSlice, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, fmt.Errorf("compute x25519 public key: %w", err)
	}
	copy(pub[:], pubSlice)
	return priv, pub, nil
}

// X25519SharedSecret computes the ECDH shared point for (priv, peerPub).
// It rejects all-zero output, the standard check against a peer supplying
// a low-order point that would otherwise force a known shared secret.
func X25519SharedSecret(priv, peerPub [X25519KeySize]byte) ([]byte, error) {
	shared, err := curve25519.X25519(priv[:], peerPub[:])
	if err != nil {
		return nil, fmt.Errorf("x25519 scalar multiplication: %w", err)
	}
	if isZero(shared) {
		return nil, fmt.Errorf("x25519 shared secret is the all-zero point")
	}
	return shared, nil
}

func isZero(b []byte) bool {
	var acc byte
	for _, v := range b {
		acc |= v
	}
	return acc == 0
}
