package primitives

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// AESKeySize is the key size for AES-256-CTR.
const AESKeySize = 32

// AESBlockSize is the AES block size, and so the CTR counter-block size.
const AESBlockSize = aes.BlockSize

// NewAES256CTR builds an AES-256-CTR keystream from a 32-byte key and a
// 16-byte initial counter block.
func NewAES256CTR(key, iv []byte) (cipher.Stream, error) {
	if len(key) != AESKeySize {
		return nil, fmt.Errorf("AES-256-CTR key: want %d bytes, got %d", AESKeySize, len(key))
	}
	if len(iv) != AESBlockSize {
		return nil, fmt.Errorf("AES-256-CTR iv: want %d bytes, got %d", AESBlockSize, len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("AES-256-CTR cipher init: %w", err)
	}
	return cipher.NewCTR(block, iv), nil
}
