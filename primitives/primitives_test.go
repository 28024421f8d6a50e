package primitives

import (
	"bytes"
	"testing"
)

func TestX25519RoundTrip(t *testing.T) {
	aPriv, aPub, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("generate a: %v", err)
	}
	bPriv, bPub, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("generate b: %v", err)
	}

	ab, err := X25519SharedSecret(aPriv, bPub)
	if err != nil {
		t.Fatalf("a shared: %v", err)
	}
	ba, err := X25519SharedSecret(bPriv, aPub)
	if err != nil {
		t.Fatalf("b shared: %v", err)
	}
	if !bytes.Equal(ab, ba) {
		t.Fatal("shared secrets do not match")
	}
}

func TestX25519RejectsZeroPoint(t *testing.T) {
	var priv, zeroPub [X25519KeySize]byte
	if _, err := X25519SharedSecret(priv, zeroPub); err == nil {
		t.Fatal("expected error for all-zero peer public key")
	}
}

func TestKyberKEMRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKEMKeyPair()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}

	ct, ss1, err := KEMEncapsulate(pub)
	if err != nil {
		t.Fatalf("encapsulate: %v", err)
	}
	ss2, err := KEMDecapsulate(priv, ct)
	if err != nil {
		t.Fatalf("decapsulate: %v", err)
	}
	if !bytes.Equal(ss1, ss2) {
		t.Fatal("shared secrets do not match")
	}
}

func TestKyberPublicKeyMarshalRoundTrip(t *testing.T) {
	pub, _, err := GenerateKEMKeyPair()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	buf, err := MarshalKEMPublicKey(pub)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(buf) != KEMPublicKeySize {
		t.Fatalf("marshaled length %d, want %d", len(buf), KEMPublicKeySize)
	}
	pub2, err := UnmarshalKEMPublicKey(buf)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !pub.Equal(pub2) {
		t.Fatal("round-tripped public key does not match")
	}
}

func TestHKDFExpandDeterministic(t *testing.T) {
	out1, err := HKDFExpand([]byte("salt"), []byte("ikm"), []byte("info"), 64)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	out2, err := HKDFExpand([]byte("salt"), []byte("ikm"), []byte("info"), 64)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if !bytes.Equal(out1, out2) {
		t.Fatal("HKDF output not deterministic for identical inputs")
	}
	out3, _ := HKDFExpand([]byte("salt"), []byte("ikm2"), []byte("info"), 64)
	if bytes.Equal(out1, out3) {
		t.Fatal("HKDF output identical for different ikm")
	}
}

func TestAES256CTRRoundTrip(t *testing.T) {
	key := make([]byte, AESKeySize)
	iv := make([]byte, AESBlockSize)
	for i := range key {
		key[i] = byte(i)
	}

	enc, err := NewAES256CTR(key, iv)
	if err != nil {
		t.Fatalf("new enc stream: %v", err)
	}
	dec, err := NewAES256CTR(key, iv)
	if err != nil {
		t.Fatalf("new dec stream: %v", err)
	}

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	ciphertext := make([]byte, len(plaintext))
	enc.XORKeyStream(ciphertext, plaintext)
	if bytes.Equal(ciphertext, plaintext) {
		t.Fatal("ciphertext equals plaintext")
	}

	recovered := make([]byte, len(ciphertext))
	dec.XORKeyStream(recovered, ciphertext)
	if !bytes.Equal(recovered, plaintext) {
		t.Fatal("round trip did not recover plaintext")
	}
}

func TestZero(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	Zero(b)
	for _, v := range b {
		if v != 0 {
			t.Fatal("Zero left a nonzero byte")
		}
	}
}

func TestConstantTimeCompare(t *testing.T) {
	if !ConstantTimeCompare([]byte("abc"), []byte("abc")) {
		t.Fatal("expected equal")
	}
	if ConstantTimeCompare([]byte("abc"), []byte("abd")) {
		t.Fatal("expected not equal")
	}
}
