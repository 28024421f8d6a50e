package cell

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Reader reads cells from a buffered stream. Every cell uses the same
// 4-byte CircID header (no 2-byte-CircID link-negotiation special case,
// since VERSIONS-based link authentication is out of scope).
type Reader struct {
	r *bufio.Reader
}

func NewReader(r *bufio.Reader) *Reader {
	return &Reader{r: r}
}

// ReadCell reads one cell, fixed or variable length, off the wire.
func (cr *Reader) ReadCell() (Cell, error) {
	hdr := make([]byte, 5)
	if _, err := io.ReadFull(cr.r, hdr); err != nil {
		return nil, fmt.Errorf("read cell header: %w", err)
	}
	cmd := hdr[4]

	if IsVariableLength(cmd) {
		var lenBuf [2]byte
		if _, err := io.ReadFull(cr.r, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("read varlen length: %w", err)
		}
		pLen := binary.BigEndian.Uint16(lenBuf[:])
		if int(pLen) > MaxVarPayloadLen {
			return nil, fmt.Errorf("variable-length cell payload too large: %d bytes (max %d)", pLen, MaxVarPayloadLen)
		}
		c := make(Cell, 7+int(pLen))
		copy(c[0:5], hdr)
		copy(c[5:7], lenBuf[:])
		if pLen > 0 {
			if _, err := io.ReadFull(cr.r, c[7:]); err != nil {
				return nil, fmt.Errorf("read varlen payload: %w", err)
			}
		}
		return c, nil
	}

	c := make(Cell, FixedCellLen)
	copy(c[0:5], hdr)
	if _, err := io.ReadFull(cr.r, c[5:]); err != nil {
		return nil, fmt.Errorf("read fixed payload: %w", err)
	}
	return c, nil
}

// Writer writes cells to a stream.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (cw *Writer) WriteCell(c Cell) error {
	_, err := cw.w.Write(c)
	return err
}
