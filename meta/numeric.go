package meta

import (
	"fmt"
	"math"
	"math/bits"
)

// parseUintLenient reads a decimal number the way strtoull does: leading whitespace and an
// optional sign are skipped, parsing stops at the first non-digit, no digits yields 0 and
// values past the 64-bit range saturate. A negative number wraps like its C counterpart.
func parseUintLenient(tok []byte) uint64 {
	i := 0
	for i < len(tok) && isSpace(tok[i]) {
		i++
	}
	neg := false
	if i < len(tok) && (tok[i] == '+' || tok[i] == '-') {
		neg = tok[i] == '-'
		i++
	}

	var v uint64
	saturated := false
	for ; i < len(tok) && tok[i] >= '0' && tok[i] <= '9'; i++ {
		d := uint64(tok[i] - '0')
		if v > (math.MaxUint64-d)/10 {
			saturated = true
			continue
		}
		v = v*10 + d
	}
	if saturated {
		return math.MaxUint64
	}
	if neg {
		return -v
	}
	return v
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

// dataSize multiplies a block count by a block size, rejecting products past 64 bits.
func dataSize(blocks, blockSize uint64) (uint64, error) {
	hi, lo := bits.Mul64(blocks, blockSize)
	if hi != 0 {
		return 0, fmt.Errorf("%w: %d blocks of %d bytes", ErrNumericOverflow, blocks, blockSize)
	}
	return lo, nil
}
