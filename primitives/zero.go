package primitives

// Zero overwrites b with zero bytes in place. Every handshake state and
// derived key bundle in this system routes its cleanup through this
// function so zeroization (spec invariant I5, property P7) is applied
// uniformly rather than ad hoc per call site.
func Zero(b []byte) {
	clear(b)
}
