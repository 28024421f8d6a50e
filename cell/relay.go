package cell

import "encoding/binary"

// RELAY sub-command tags, carried inside the payload of a RELAY or
// RELAY_EARLY cell.
const (
	RelayCmdBegin      uint8 = 1
	RelayCmdData       uint8 = 2
	RelayCmdEnd        uint8 = 3
	RelayCmdConnected  uint8 = 4
	RelayCmdSendme     uint8 = 5
	RelayCmdExtend     uint8 = 6
	RelayCmdExtended   uint8 = 7
	RelayCmdTruncate   uint8 = 8
	RelayCmdTruncated  uint8 = 9
	RelayCmdDrop       uint8 = 10
	RelayCmdResolve    uint8 = 11
	RelayCmdResolved   uint8 = 12
	RelayCmdBeginDir   uint8 = 13
	RelayCmdExtend2    uint8 = 14
	RelayCmdExtended2  uint8 = 15
)

// relaySubcellHeaderLen is the fixed header size of a RELAY sub-cell:
// relay_command(1) ‖ recognized(2) ‖ stream_id(2) ‖ digest(4) ‖ length(2).
const relaySubcellHeaderLen = 11

// RelayDataLen is the maximum data a single RELAY sub-cell can carry.
const RelayDataLen = FixedCellPayloadLen - relaySubcellHeaderLen

// RelaySubcell is the sub-cell format carried in the payload of a RELAY
// or RELAY_EARLY cell. The digest field is always zero-filled; this
// system checks "recognized" by the `recognized == 0` shortcut rather
// than a running digest (spec §1 Non-goals, Open Question (b)).
type RelaySubcell struct {
	RelayCommand uint8
	Recognized   uint16
	StreamID     uint16
	Digest       uint32
	Data         []byte
}

// Pack serializes a RelaySubcell into a FixedCellPayloadLen-byte buffer
// suitable for encryption and embedding in a RELAY cell's payload.
func (r *RelaySubcell) Pack() []byte {
	if len(r.Data) > RelayDataLen {
		panic("cell: relay sub-cell data exceeds capacity")
	}
	buf := make([]byte, FixedCellPayloadLen)
	buf[0] = r.RelayCommand
	binary.BigEndian.PutUint16(buf[1:3], r.Recognized)
	binary.BigEndian.PutUint16(buf[3:5], r.StreamID)
	binary.BigEndian.PutUint32(buf[5:9], r.Digest)
	binary.BigEndian.PutUint16(buf[9:11], uint16(len(r.Data)))
	copy(buf[relaySubcellHeaderLen:], r.Data)
	return buf
}

// UnpackRelaySubcell parses a decrypted RELAY cell payload into its
// sub-cell fields. The caller determines "recognized" from the
// Recognized field (spec: recognized == 0 means this relay is the
// addressee).
func UnpackRelaySubcell(payload []byte) (*RelaySubcell, error) {
	if len(payload) < relaySubcellHeaderLen {
		return nil, ErrMalformedCell
	}
	length := binary.BigEndian.Uint16(payload[9:11])
	if int(length) > len(payload)-relaySubcellHeaderLen {
		return nil, ErrMalformedCell
	}
	return &RelaySubcell{
		RelayCommand: payload[0],
		Recognized:   binary.BigEndian.Uint16(payload[1:3]),
		StreamID:     binary.BigEndian.Uint16(payload[3:5]),
		Digest:       binary.BigEndian.Uint32(payload[5:9]),
		Data:         payload[relaySubcellHeaderLen : relaySubcellHeaderLen+int(length)],
	}, nil
}

// NewRelayCell wraps an already-packed (and onion-encrypted) sub-cell
// payload in a fixed RELAY cell.
func NewRelayCell(circID uint32, payload []byte) Cell {
	c := NewFixedCell(circID, CmdRelay)
	copy(c.Payload(), payload)
	return c
}

// NewRelayEarlyCell wraps an already-packed, onion-encrypted sub-cell
// payload in a fixed RELAY_EARLY cell. Per spec §4.2, RELAY_EARLY may
// only be used to carry EXTEND2.
func NewRelayEarlyCell(circID uint32, payload []byte) Cell {
	c := NewFixedCell(circID, CmdRelayEarly)
	copy(c.Payload(), payload)
	return c
}

// extend2HostnameLen is the fixed, NUL-padded hostname field width in an
// EXTEND2 sub-cell payload (spec §4.2's simplified layout; the canonical
// link-specifier list is not implemented here).
const extend2HostnameLen = 256

// Extend2Payload is the (simplified) body of an EXTEND2 RELAY sub-cell:
// hostname[256] ‖ port(2) ‖ htype(2) ‖ hlen(2) ‖ handshake_data.
type Extend2Payload struct {
	Hostname      string
	Port          uint16
	HandshakeType uint16
	HandshakeData []byte
}

// Pack serializes an Extend2Payload to bytes.
func (e *Extend2Payload) Pack() ([]byte, error) {
	if len(e.Hostname) > extend2HostnameLen {
		return nil, ErrMalformedCell
	}
	buf := make([]byte, extend2HostnameLen+2+2+2+len(e.HandshakeData))
	copy(buf[0:extend2HostnameLen], e.Hostname)
	binary.BigEndian.PutUint16(buf[256:258], e.Port)
	binary.BigEndian.PutUint16(buf[258:260], e.HandshakeType)
	binary.BigEndian.PutUint16(buf[260:262], uint16(len(e.HandshakeData)))
	copy(buf[262:], e.HandshakeData)
	return buf, nil
}

// ParseExtend2Payload parses the body of an EXTEND2 RELAY sub-cell.
func ParseExtend2Payload(data []byte) (*Extend2Payload, error) {
	if len(data) < extend2HostnameLen+6 {
		return nil, ErrMalformedCell
	}
	hostname := data[0:extend2HostnameLen]
	n := 0
	for n < len(hostname) && hostname[n] != 0 {
		n++
	}
	port := binary.BigEndian.Uint16(data[256:258])
	htype := binary.BigEndian.Uint16(data[258:260])
	hlen := binary.BigEndian.Uint16(data[260:262])
	if int(hlen) > len(data)-262 {
		return nil, ErrMalformedCell
	}
	return &Extend2Payload{
		Hostname:      string(hostname[:n]),
		Port:          port,
		HandshakeType: htype,
		HandshakeData: data[262 : 262+int(hlen)],
	}, nil
}
