package meta

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ""},
		{ErrIO, ErrorKindIO},
		{ErrCorrupted, ErrorKindCorrupt},
		{ErrTruncated, ErrorKindCorrupt},
		{ErrBadVersion, ErrorKindGrammar},
		{ErrBadMode, ErrorKindGrammar},
		{ErrBadCryptKeyword, ErrorKindGrammar},
		{ErrExclusiveOptions, ErrorKindGrammar},
		{ErrNumericOverflow, ErrorKindGrammar},
		{ErrSignature, ErrorKindSignature},
		{ErrCapacity, ErrorKindCapacity},
		{ErrKeyResolution, ErrorKindKey},
		{ErrInvalidArgument, ErrorKindInvalidArgument},
		{errors.New("something else"), ErrorKindUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Kind(tc.err), "%v", tc.err)
	}
}

func TestKind_Wrapped(t *testing.T) {
	err := fmt.Errorf("could not generate device mapper table: %w", fmt.Errorf("%w: 10 bytes", ErrCapacity))
	assert.Equal(t, ErrorKindCapacity, Kind(err))
	assert.Equal(t, "capacity", Kind(err).String())
}
