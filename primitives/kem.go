// Package primitives is a uniform façade over the cryptographic building
// blocks the handshake family and onion layers are built from: the
// Kyber-512 KEM, X25519 ECDH, HMAC-SHA256, HKDF-SHA256, AES-256-CTR,
// SHA-256, a CSPRNG, constant-time comparison, and zeroization.
package primitives

import (
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/kyber/kyber512"
)

// KEMScheme is the Kyber-512 scheme used throughout this system.
var KEMScheme = kyber512.Scheme()

// KEMPublicKeySize, KEMPrivateKeySize, and KEMCiphertextSize are the
// Kyber-512 wire sizes, queried once from the scheme rather than hardcoded.
var (
	KEMPublicKeySize  = KEMScheme.PublicKeySize()
	KEMPrivateKeySize = KEMScheme.PrivateKeySize()
	KEMCiphertextSize = KEMScheme.CiphertextSize()
	KEMSharedKeySize  = KEMScheme.SharedKeySize()
)

// GenerateKEMKeyPair creates a fresh Kyber-512 keypair.
func GenerateKEMKeyPair() (pub kem.PublicKey, priv kem.PrivateKey, err error) {
	pub, priv, err = KEMScheme.GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("kyber512 keygen: %w", err)
	}
	return pub, priv, nil
}

// MarshalKEMPublicKey serializes a Kyber-512 public key to its fixed-size
// wire form.
func MarshalKEMPublicKey(pub kem.PublicKey) ([]byte, error) {
	b, err := pub.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal kyber512 public key: %w", err)
	}
	return b, nil
}

// UnmarshalKEMPublicKey parses a Kyber-512 public key from its wire form.
func UnmarshalKEMPublicKey(buf []byte) (kem.PublicKey, error) {
	if len(buf) != KEMPublicKeySize {
		return nil, fmt.Errorf("kyber512 public key: want %d bytes, got %d", KEMPublicKeySize, len(buf))
	}
	pub, err := KEMScheme.UnmarshalBinaryPublicKey(buf)
	if err != nil {
		return nil, fmt.Errorf("unmarshal kyber512 public key: %w", err)
	}
	return pub, nil
}

// KEMEncapsulate encapsulates a fresh shared secret against a peer's
// Kyber-512 public key, returning the ciphertext to send and the shared
// secret to derive keys from.
func KEMEncapsulate(pub kem.PublicKey) (ciphertext, sharedSecret []byte, err error) {
	ct, ss, err := KEMScheme.Encapsulate(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("kyber512 encapsulate: %w", err)
	}
	return ct, ss, nil
}

// KEMDecapsulate recovers the shared secret from a ciphertext using our
// Kyber-512 private key.
func KEMDecapsulate(priv kem.PrivateKey, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) != KEMCiphertextSize {
		return nil, fmt.Errorf("kyber512 ciphertext: want %d bytes, got %d", KEMCiphertextSize, len(ciphertext))
	}
	ss, err := KEMScheme.Decapsulate(priv, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("kyber512 decapsulate: %w", err)
	}
	return ss, nil
}

// RandomBytes fills buf with CSPRNG output. X25519 key generation routes
// through it; Kyber-512 key generation and encapsulation draw randomness
// inside circl instead.
func RandomBytes(buf []byte) error {
	if _, err := io.ReadFull(randReader, buf); err != nil {
		return fmt.Errorf("read random bytes: %w", err)
	}
	return nil
}
