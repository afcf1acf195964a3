package wire

import "errors"

// ErrMalformed is returned when a frame fails a structural check: bad
// markers, a length field inconsistent with the buffered bytes, or a body
// too short for its declared kind. CRC mismatches are deliberately NOT
// reported through this error — they are logged by the caller and decoding
// proceeds anyway (§4.2).
var ErrMalformed = errors.New("wire: malformed frame")

// CrcMismatchError wraps a successfully-decoded packet whose checksum did
// not match. Decode returns it alongside a non-nil packet so callers can log
// and continue per the non-aborting contract.
type CrcMismatchError struct {
	Proto ProtoKind
}

func (e *CrcMismatchError) Error() string {
	return "wire: crc mismatch on " + e.Proto.String() + " frame"
}
