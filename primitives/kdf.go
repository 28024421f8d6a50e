package primitives

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SHA256Size is the output size of SHA-256.
const SHA256Size = sha256.Size

// HKDFExpand derives outLen bytes via HKDF-SHA256(salt, ikm, info).
func HKDFExpand(salt, ikm, info []byte, outLen int) ([]byte, error) {
	kdf := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, outLen)
	if _, err := io.ReadFull(kdf, out); err != nil {
		return nil, fmt.Errorf("hkdf-sha256 expand: %w", err)
	}
	return out, nil
}

// HMACSHA256 computes HMAC-SHA256(key, msg).
func HMACSHA256(key, msg []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	return h.Sum(nil)
}

// SHA256Sum computes the SHA-256 digest of msg.
func SHA256Sum(msg []byte) [SHA256Size]byte {
	return sha256.Sum256(msg)
}

// ConstantTimeCompare reports whether a and b are equal, in time
// independent of their contents (but not their lengths). Required by
// spec invariant I6 for AUTH verification.
func ConstantTimeCompare(a, b []byte) bool {
	return hmac.Equal(a, b)
}
