package primitives

import (
	"crypto/rand"
	"io"
)

// randReader is the CSPRNG source. A package-level var so tests can swap
// in a deterministic reader.
var randReader io.Reader = rand.Reader
