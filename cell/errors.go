package cell

import (
	"errors"
	"fmt"
)

// ErrMalformedCell covers short buffers, bad length fields, and unknown
// commands encountered while parsing.
var ErrMalformedCell = errors.New("cell: malformed")

func errUnexpectedCommand(want, got uint8) error {
	return fmt.Errorf("%w: expected command %d, got %d", ErrMalformedCell, want, got)
}
