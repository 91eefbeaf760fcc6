package meta

import (
	"errors"
)

var (
	// ErrIO indicates the device could not be opened, sized, sought or read.
	ErrIO = errors.New("meta: device I/O failure")
	// ErrCorrupted indicates no metadata terminator was found inside the region.
	ErrCorrupted = errors.New("meta: metadata region corrupted")
	// ErrTruncated indicates the token stream ended before an expected token.
	ErrTruncated = errors.New("meta: truncated metadata")
	// ErrBadVersion indicates the metadata does not start with the version marker.
	ErrBadVersion = errors.New("meta: unsupported metadata version")
	// ErrBadMode indicates a filesystem mode other than ro or rw.
	ErrBadMode = errors.New("meta: unsupported filesystem mode")
	// ErrBadCryptKeyword indicates an unknown crypt keyword.
	ErrBadCryptKeyword = errors.New("meta: unsupported crypt type")
	// ErrExclusiveOptions indicates dm-verity and dm-integrity were requested together.
	ErrExclusiveOptions = errors.New("meta: dm-verity and dm-integrity cannot be combined")
	// ErrNumericOverflow indicates a derived byte count does not fit in 64 bits.
	ErrNumericOverflow = errors.New("meta: data size overflows 64 bits")
	// ErrSignature indicates the metadata signature was rejected.
	ErrSignature = errors.New("meta: signature verification failed")
	// ErrCapacity indicates a table or working buffer would exceed its capacity.
	ErrCapacity = errors.New("meta: capacity exceeded")
	// ErrKeyResolution indicates a key descriptor could not be resolved to key material.
	ErrKeyResolution = errors.New("meta: key resolution failed")
	// ErrInvalidArgument indicates a programming error by the caller.
	ErrInvalidArgument = errors.New("meta: invalid argument")
)

type ErrorKind string

func (k ErrorKind) String() string {
	return string(k)
}

const (
	ErrorKindIO              ErrorKind = "io"
	ErrorKindCorrupt         ErrorKind = "corrupt"
	ErrorKindGrammar         ErrorKind = "grammar"
	ErrorKindSignature       ErrorKind = "signature"
	ErrorKindCapacity        ErrorKind = "capacity"
	ErrorKindKey             ErrorKind = "key"
	ErrorKindInvalidArgument ErrorKind = "invalid_argument"
	ErrorKindUnknown         ErrorKind = "unknown"
)

// Kind classifies err into one of the failure kinds reported by the pipeline.
// A nil error has an empty kind. ErrNumericOverflow, raised when blocks times block size
// does not fit in 64 bits, is a grammar failure next to the version, mode and crypt keyword
// errors.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrIO):
		return ErrorKindIO
	case errors.Is(err, ErrCorrupted), errors.Is(err, ErrTruncated):
		return ErrorKindCorrupt
	case errors.Is(err, ErrBadVersion), errors.Is(err, ErrBadMode), errors.Is(err, ErrBadCryptKeyword),
		errors.Is(err, ErrExclusiveOptions), errors.Is(err, ErrNumericOverflow):
		return ErrorKindGrammar
	case errors.Is(err, ErrSignature):
		return ErrorKindSignature
	case errors.Is(err, ErrCapacity):
		return ErrorKindCapacity
	case errors.Is(err, ErrKeyResolution):
		return ErrorKindKey
	case errors.Is(err, ErrInvalidArgument):
		return ErrorKindInvalidArgument
	default:
		return ErrorKindUnknown
	}
}
