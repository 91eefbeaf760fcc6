package meta

import (
	"bytes"
	"fmt"
)

// ScanRegion splits a metadata region into the NUL-terminated metadata string (terminator
// included, as it is signed) and the signature blob that follows it. The terminator must
// lie within the first len(region)-sigLen-1 bytes.
func ScanRegion(region []byte, sigLen int) (message, signature []byte, err error) {
	if sigLen <= 0 {
		return nil, nil, fmt.Errorf("%w: signature length must be positive", ErrInvalidArgument)
	}
	bound := len(region) - sigLen - 1
	if bound <= 0 {
		return nil, nil, fmt.Errorf("%w: region of %d bytes cannot hold a %d byte signature", ErrInvalidArgument, len(region), sigLen)
	}

	n := bytes.IndexByte(region[:bound], 0)
	if n < 0 {
		return nil, nil, fmt.Errorf("%w: no metadata terminator within %d bytes", ErrCorrupted, bound)
	}
	return region[:n+1], region[n+1 : n+1+sigLen], nil
}
