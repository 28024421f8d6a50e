package onion

import (
	"bytes"
	"testing"

	"github.com/pqtor/tor-pq/cell"
	"github.com/pqtor/tor-pq/primitives"
)

func testKEnc(seed byte) [80]byte {
	var k [80]byte
	for i := range k {
		k[i] = seed + byte(i)
	}
	return k
}

func TestSingleLayerRoundTrip(t *testing.T) {
	kEnc := testKEnc(0x10)
	clientLayer, err := NewLayer(kEnc)
	if err != nil {
		t.Fatalf("client layer: %v", err)
	}
	relayLayer, err := NewLayer(kEnc)
	if err != nil {
		t.Fatalf("relay layer: %v", err)
	}

	plaintext := make([]byte, cell.FixedCellPayloadLen)
	for i := range plaintext {
		plaintext[i] = byte(i)
	}
	original := append([]byte(nil), plaintext...)

	encrypted := clientLayer.EncryptForward(append([]byte(nil), plaintext...))
	if bytes.Equal(encrypted, original) {
		t.Fatal("ciphertext equals plaintext")
	}

	relay := NewRelayLayer(relayLayer)
	peeled, _ := relay.Peel(encrypted)
	if !bytes.Equal(peeled, original) {
		t.Fatal("relay peel did not recover plaintext")
	}
}

func TestThreeLayerClientRoundTrip(t *testing.T) {
	guardK := testKEnc(0x01)
	middleK := testKEnc(0x02)
	exitK := testKEnc(0x03)

	guardLayer, _ := NewLayer(guardK)
	middleLayer, _ := NewLayer(middleK)
	exitLayer, _ := NewLayer(exitK)

	var client ClientLayers
	client.Install(0, guardLayer)
	client.Install(1, middleLayer)
	client.Install(2, exitLayer)

	plaintext := make([]byte, cell.FixedCellPayloadLen)
	for i := range plaintext {
		plaintext[i] = byte(i * 3)
	}
	original := append([]byte(nil), plaintext...)

	encrypted := client.Encrypt(append([]byte(nil), plaintext...))

	guardRelayLayer, _ := NewLayer(guardK)
	middleRelayLayer, _ := NewLayer(middleK)
	exitRelayLayer, _ := NewLayer(exitK)

	atGuard, recognizedAtGuard := NewRelayLayer(guardRelayLayer).Peel(encrypted)
	if recognizedAtGuard {
		t.Fatal("guard should not recognize a 3-layer-wrapped cell")
	}
	atMiddle, recognizedAtMiddle := NewRelayLayer(middleRelayLayer).Peel(atGuard)
	if recognizedAtMiddle {
		t.Fatal("middle should not recognize a 2-layer-wrapped cell")
	}
	atExit, recognizedAtExit := NewRelayLayer(exitRelayLayer).Peel(atMiddle)
	if !recognizedAtExit {
		t.Fatal("exit should recognize the fully-peeled cell")
	}
	if !bytes.Equal(atExit, original) {
		t.Fatal("three-layer peel did not recover plaintext")
	}
}

func TestClientDecryptUnwindsBackwardLayers(t *testing.T) {
	guardK := testKEnc(0x04)
	middleK := testKEnc(0x05)
	exitK := testKEnc(0x06)

	var client ClientLayers
	guardLayer, _ := NewLayer(guardK)
	middleLayer, _ := NewLayer(middleK)
	exitLayer, _ := NewLayer(exitK)
	client.Install(0, guardLayer)
	client.Install(1, middleLayer)
	client.Install(2, exitLayer)

	plaintext := make([]byte, cell.FixedCellPayloadLen)
	for i := range plaintext {
		plaintext[i] = byte(255 - i)
	}
	original := append([]byte(nil), plaintext...)

	guardRelay, _ := NewLayer(guardK)
	middleRelay, _ := NewLayer(middleK)
	exitRelay, _ := NewLayer(exitK)

	atExit := NewRelayLayer(exitRelay).AddBack(append([]byte(nil), plaintext...))
	atMiddle := NewRelayLayer(middleRelay).AddBack(atExit)
	atClient := NewRelayLayer(guardRelay).AddBack(atMiddle)

	decrypted := client.Decrypt(atClient)
	if !bytes.Equal(decrypted, original) {
		t.Fatal("client decrypt did not recover plaintext through three backward layers")
	}
}

func TestUnpackKeyMaterialPadsIV(t *testing.T) {
	kEnc := testKEnc(0x20)
	fwd, bwd, err := UnpackKeyMaterial(kEnc)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if fwd == nil || bwd == nil {
		t.Fatal("expected non-nil stream ciphers")
	}

	var ivf, ivb [16]byte
	copy(ivf[:8], kEnc[64:72])
	copy(ivb[:8], kEnc[72:80])
	wantFwd, _ := primitives.NewAES256CTR(kEnc[0:32], ivf[:])
	wantBwd, _ := primitives.NewAES256CTR(kEnc[32:64], ivb[:])
	got, want := make([]byte, 64), make([]byte, 64)
	fwd.XORKeyStream(got, got)
	wantFwd.XORKeyStream(want, want)
	if !bytes.Equal(got, want) {
		t.Fatal("forward stream does not use IVf zero-padded to 16 bytes")
	}
	got, want = make([]byte, 64), make([]byte, 64)
	bwd.XORKeyStream(got, got)
	wantBwd.XORKeyStream(want, want)
	if !bytes.Equal(got, want) {
		t.Fatal("backward stream does not use IVb zero-padded to 16 bytes")
	}
}
