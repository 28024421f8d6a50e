package cell

import "encoding/binary"

// Command constants, spec §4.2.
const (
	CmdPadding          uint8 = 0
	CmdCreate           uint8 = 1
	CmdCreated          uint8 = 2
	CmdRelay            uint8 = 3
	CmdDestroy          uint8 = 4
	CmdCreateFast       uint8 = 5
	CmdCreatedFast      uint8 = 6
	CmdVersions         uint8 = 7
	CmdNetInfo          uint8 = 8
	CmdRelayEarly       uint8 = 9
	CmdCreate2          uint8 = 10
	CmdCreated2         uint8 = 11
	CmdPaddingNegotiate uint8 = 12
)

// HandshakeType is the single htype tag CREATE2/EXTEND2 use in this
// system for all three NTOR variants; the variant actually run is
// negotiated out of band via node configuration (spec §6, Open Question
// (a)).
const HandshakeType = 0x0002

const (
	// FixedCellPayloadLen is the payload length of a fixed cell, sized to
	// fit a post-quantum onionskin in a single cell.
	FixedCellPayloadLen = 2043
	// FixedCellLen is the total wire length of a fixed cell: 4-byte
	// CircID + 1-byte command + FixedCellPayloadLen bytes of payload.
	FixedCellLen = 5 + FixedCellPayloadLen
	// MaxVarPayloadLen bounds a variable-length cell's payload.
	MaxVarPayloadLen = 10000
)

// IsVariableLength reports whether cmd uses the variable-length cell
// framing (VERSIONS and PADDING_NEGOTIATE only; this system has no
// link-layer cert/auth commands).
func IsVariableLength(cmd uint8) bool {
	return cmd == CmdVersions || cmd == CmdPaddingNegotiate
}

// Cell is a cell backed by a byte slice, fixed or variable length. Every
// cell, regardless of command, uses the same 4-byte CircID header.
type Cell []byte

// NewFixedCell allocates a zeroed fixed-length cell with its header set.
func NewFixedCell(circID uint32, cmd uint8) Cell {
	c := make(Cell, FixedCellLen)
	binary.BigEndian.PutUint32(c[0:4], circID)
	c[4] = cmd
	return c
}

// NewVarCell builds a variable-length cell carrying payload verbatim.
func NewVarCell(circID uint32, cmd uint8, payload []byte) Cell {
	c := make(Cell, 7+len(payload))
	binary.BigEndian.PutUint32(c[0:4], circID)
	c[4] = cmd
	binary.BigEndian.PutUint16(c[5:7], uint16(len(payload)))
	copy(c[7:], payload)
	return c
}

func (c Cell) CircID() uint32 {
	return binary.BigEndian.Uint32(c[0:4])
}

func (c Cell) Command() uint8 {
	return c[4]
}

// Payload returns the cell's payload slice, sized FixedCellPayloadLen for
// fixed cells or the declared length for variable cells.
func (c Cell) Payload() []byte {
	if IsVariableLength(c.Command()) {
		return c[7:]
	}
	return c[5:]
}

func (c Cell) PayloadLen() int {
	if IsVariableLength(c.Command()) {
		return int(binary.BigEndian.Uint16(c[5:7]))
	}
	return FixedCellPayloadLen
}

// NewCreate2Cell builds a CREATE2 cell: htype(2) ‖ hlen(2) ‖ onionskin.
func NewCreate2Cell(circID uint32, onionskin []byte) Cell {
	c := NewFixedCell(circID, CmdCreate2)
	p := c.Payload()
	binary.BigEndian.PutUint16(p[0:2], HandshakeType)
	binary.BigEndian.PutUint16(p[2:4], uint16(len(onionskin)))
	copy(p[4:], onionskin)
	return c
}

// ParseCreate2Cell extracts htype and handshake data from a CREATE2 cell.
func ParseCreate2Cell(c Cell) (htype uint16, handshakeData []byte, err error) {
	if c.Command() != CmdCreate2 {
		return 0, nil, errUnexpectedCommand(CmdCreate2, c.Command())
	}
	p := c.Payload()
	if len(p) < 4 {
		return 0, nil, ErrMalformedCell
	}
	htype = binary.BigEndian.Uint16(p[0:2])
	hlen := binary.BigEndian.Uint16(p[2:4])
	if int(hlen) > len(p)-4 {
		return 0, nil, ErrMalformedCell
	}
	return htype, p[4 : 4+int(hlen)], nil
}

// NewCreated2Cell builds a CREATED2 cell: hlen(2) ‖ reply.
func NewCreated2Cell(circID uint32, reply []byte) Cell {
	c := NewFixedCell(circID, CmdCreated2)
	p := c.Payload()
	binary.BigEndian.PutUint16(p[0:2], uint16(len(reply)))
	copy(p[2:], reply)
	return c
}

// ParseCreated2Cell extracts the handshake reply from a CREATED2 cell.
func ParseCreated2Cell(c Cell) (reply []byte, err error) {
	if c.Command() != CmdCreated2 {
		return nil, errUnexpectedCommand(CmdCreated2, c.Command())
	}
	p := c.Payload()
	if len(p) < 2 {
		return nil, ErrMalformedCell
	}
	hlen := binary.BigEndian.Uint16(p[0:2])
	if int(hlen) > len(p)-2 {
		return nil, ErrMalformedCell
	}
	return p[2 : 2+int(hlen)], nil
}

// DestroyReason is the one-byte teardown reason carried by a DESTROY
// cell, restored from the original implementation's full taxonomy (spec
// §4.2 "values defined: NONE=0 through NOSUCHSERVICE=12").
type DestroyReason uint8

const (
	DestroyReasonNone           DestroyReason = 0
	DestroyReasonProtocol       DestroyReason = 1
	DestroyReasonInternal       DestroyReason = 2
	DestroyReasonRequested      DestroyReason = 3
	DestroyReasonHibernating    DestroyReason = 4
	DestroyReasonResourceLimit  DestroyReason = 5
	DestroyReasonConnectFailed  DestroyReason = 6
	DestroyReasonORIdentity     DestroyReason = 7
	DestroyReasonORConnClosed   DestroyReason = 8
	DestroyReasonFinished       DestroyReason = 9
	DestroyReasonTimeout        DestroyReason = 10
	DestroyReasonDestroyed      DestroyReason = 11
	DestroyReasonNoSuchService  DestroyReason = 12
)

// NewDestroyCell builds a DESTROY cell carrying a one-byte reason code.
func NewDestroyCell(circID uint32, reason DestroyReason) Cell {
	c := NewFixedCell(circID, CmdDestroy)
	c.Payload()[0] = byte(reason)
	return c
}

// ParseDestroyCell extracts the reason code from a DESTROY cell.
func ParseDestroyCell(c Cell) (DestroyReason, error) {
	if c.Command() != CmdDestroy {
		return 0, errUnexpectedCommand(CmdDestroy, c.Command())
	}
	return DestroyReason(c.Payload()[0]), nil
}
