package cell

import (
	"bufio"
	"bytes"
	"testing"
)

func TestIsVariableLength(t *testing.T) {
	if IsVariableLength(CmdRelay) {
		t.Fatal("RELAY should be fixed")
	}
	if !IsVariableLength(CmdVersions) {
		t.Fatal("VERSIONS should be variable")
	}
	if !IsVariableLength(CmdPaddingNegotiate) {
		t.Fatal("PADDING_NEGOTIATE should be variable")
	}
	if IsVariableLength(CmdNetInfo) {
		t.Fatal("NETINFO should be fixed")
	}
}

func TestFixedCellRoundTrip(t *testing.T) {
	c := NewFixedCell(0x80000001, CmdNetInfo)
	c.Payload()[0] = 0xAB
	if len(c) != FixedCellLen {
		t.Fatalf("expected %d bytes, got %d", FixedCellLen, len(c))
	}
	if c.CircID() != 0x80000001 {
		t.Fatal("circID mismatch")
	}
	if c.Command() != CmdNetInfo {
		t.Fatal("command mismatch")
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteCell(c); err != nil {
		t.Fatal(err)
	}
	r := NewReader(bufio.NewReader(&buf))
	got, err := r.ReadCell()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(c, got) {
		t.Fatal("round-trip mismatch")
	}
}

func TestVarCellRoundTrip(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}
	c := NewVarCell(7, CmdPaddingNegotiate, payload)
	if c.Command() != CmdPaddingNegotiate {
		t.Fatal("command mismatch")
	}
	if c.PayloadLen() != 3 {
		t.Fatalf("payload len: got %d", c.PayloadLen())
	}
	if c.CircID() != 7 {
		t.Fatal("circID mismatch")
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteCell(c); err != nil {
		t.Fatal(err)
	}
	r := NewReader(bufio.NewReader(&buf))
	got, err := r.ReadCell()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(c, got) {
		t.Fatal("round-trip mismatch")
	}
}

func TestCreate2RoundTrip(t *testing.T) {
	onionskin := bytes.Repeat([]byte{0x42}, 800)
	c := NewCreate2Cell(123, onionskin)

	htype, data, err := ParseCreate2Cell(c)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if htype != HandshakeType {
		t.Fatalf("htype = %d, want %d", htype, HandshakeType)
	}
	if !bytes.Equal(data, onionskin) {
		t.Fatal("handshake data mismatch")
	}
}

func TestCreated2RoundTrip(t *testing.T) {
	reply := bytes.Repeat([]byte{0x99}, 900)
	c := NewCreated2Cell(5, reply)

	got, err := ParseCreated2Cell(c)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !bytes.Equal(got, reply) {
		t.Fatal("reply mismatch")
	}
}

func TestDestroyCellRoundTrip(t *testing.T) {
	c := NewDestroyCell(42, DestroyReasonConnectFailed)
	reason, err := ParseDestroyCell(c)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if reason != DestroyReasonConnectFailed {
		t.Fatalf("reason = %d, want %d", reason, DestroyReasonConnectFailed)
	}
}

func TestParseCreate2WrongCommand(t *testing.T) {
	c := NewFixedCell(1, CmdDestroy)
	if _, _, err := ParseCreate2Cell(c); err == nil {
		t.Fatal("expected error for wrong command")
	}
}

func TestRelaySubcellRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte{0x07}, 50)
	r := &RelaySubcell{
		RelayCommand: RelayCmdData,
		Recognized:   0,
		StreamID:     99,
		Data:         data,
	}
	packed := r.Pack()
	if len(packed) != FixedCellPayloadLen {
		t.Fatalf("packed length = %d, want %d", len(packed), FixedCellPayloadLen)
	}

	got, err := UnpackRelaySubcell(packed)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if got.RelayCommand != RelayCmdData || got.StreamID != 99 || got.Recognized != 0 {
		t.Fatal("header field mismatch")
	}
	if !bytes.Equal(got.Data, data) {
		t.Fatal("data mismatch")
	}
}

func TestRelaySubcellMaxData(t *testing.T) {
	data := bytes.Repeat([]byte{0x01}, RelayDataLen)
	r := &RelaySubcell{RelayCommand: RelayCmdData, Data: data}
	packed := r.Pack()
	got, err := UnpackRelaySubcell(packed)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if len(got.Data) != RelayDataLen {
		t.Fatalf("data length = %d, want %d", len(got.Data), RelayDataLen)
	}
}

func TestExtend2PayloadRoundTrip(t *testing.T) {
	e := &Extend2Payload{
		Hostname:      "relay.example.com",
		Port:          9001,
		HandshakeType: HandshakeType,
		HandshakeData: bytes.Repeat([]byte{0x55}, 500),
	}
	packed, err := e.Pack()
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	got, err := ParseExtend2Payload(packed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Hostname != e.Hostname {
		t.Fatalf("hostname = %q, want %q", got.Hostname, e.Hostname)
	}
	if got.Port != e.Port || got.HandshakeType != e.HandshakeType {
		t.Fatal("port/htype mismatch")
	}
	if !bytes.Equal(got.HandshakeData, e.HandshakeData) {
		t.Fatal("handshake data mismatch")
	}
}

func TestReadCellShortHeader(t *testing.T) {
	r := NewReader(bufio.NewReader(bytes.NewReader([]byte{0x01, 0x02})))
	if _, err := r.ReadCell(); err == nil {
		t.Fatal("expected error on truncated header")
	}
}
