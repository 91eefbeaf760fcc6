package meta

import (
	"encoding/hex"
	"fmt"
)

// EncodeHex writes the lowercase hex form of src into dst and returns the number of bytes
// written. dst must hold 2*len(src) bytes; nothing is written when it does not.
func EncodeHex(dst, src []byte) (int, error) {
	if dst == nil || src == nil {
		return 0, fmt.Errorf("%w: hex source and destination must not be nil", ErrInvalidArgument)
	}
	if len(dst) < hex.EncodedLen(len(src)) {
		return 0, fmt.Errorf("%w: hex destination holds %d bytes, need %d", ErrCapacity, len(dst), hex.EncodedLen(len(src)))
	}
	return hex.Encode(dst, src), nil
}

// HexString returns the lowercase hex form of src.
func HexString(src []byte) (string, error) {
	if src == nil {
		return "", fmt.Errorf("%w: hex source must not be nil", ErrInvalidArgument)
	}
	dst := make([]byte, hex.EncodedLen(len(src)))
	if _, err := EncodeHex(dst, src); err != nil {
		return "", err
	}
	return string(dst), nil
}
