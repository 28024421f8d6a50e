package directory

import (
	"errors"
	"fmt"
)

var (
	// ErrBadDocument is returned when a fetched directory document fails
	// to parse or carries an unsupported version.
	ErrBadDocument = errors.New("directory: malformed document")
	// ErrBadRegistration is wrapped by the error reported when a POST
	// /register body names an unknown node type.
	ErrBadRegistration = errors.New("directory: malformed registration")
)

func errUnknownRegisterType(t uint8) error {
	return fmt.Errorf("%w: unknown node type %d", ErrBadRegistration, t)
}
