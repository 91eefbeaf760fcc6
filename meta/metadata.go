package meta

import (
	"strings"
)

const (
	// RegionSize is the size of the metadata region at the end of the partition.
	RegionSize = 4096
	// SignatureLength is the size of the signature blob following the metadata string.
	SignatureLength = 512
	// Version is the marker every metadata string must start with.
	Version = "COMINIT-META-1"
	// SegmentDelimiter separates the main fields from the two device mapper table segments.
	SegmentDelimiter = 0xFF

	// FSTypeMaxLen is the longest filesystem type kept, longer tokens are truncated.
	FSTypeMaxLen = 31
	// TableCapacity bounds every device mapper table, including its terminating NUL.
	TableCapacity = 4096
	// AlgorithmMaxLen bounds the algorithm names extracted from integrity options.
	AlgorithmMaxLen = 31
	// KeyPayloadMax bounds key material read from the keyring.
	KeyPayloadMax = 4096
)

// Layout describes where metadata and signature live inside the region.
type Layout struct {
	RegionSize      int
	SignatureLength int
}

// DefaultLayout is the on-disk layout written by the image tooling.
var DefaultLayout = Layout{
	RegionSize:      RegionSize,
	SignatureLength: SignatureLength,
}

// Limits holds the capacities the parser and table builders enforce.
type Limits struct {
	FSTypeMaxLen    int
	TableCapacity   int
	AlgorithmMaxLen int
	KeyPayloadMax   int
}

var DefaultLimits = Limits{
	FSTypeMaxLen:    FSTypeMaxLen,
	TableCapacity:   TableCapacity,
	AlgorithmMaxLen: AlgorithmMaxLen,
	KeyPayloadMax:   KeyPayloadMax,
}

func (l Limits) withDefaults() Limits {
	if l.FSTypeMaxLen <= 0 {
		l.FSTypeMaxLen = FSTypeMaxLen
	}
	if l.TableCapacity <= 0 {
		l.TableCapacity = TableCapacity
	}
	if l.AlgorithmMaxLen <= 0 {
		l.AlgorithmMaxLen = AlgorithmMaxLen
	}
	if l.KeyPayloadMax <= 0 {
		l.KeyPayloadMax = KeyPayloadMax
	}
	return l
}

// CryptOptions is the set of device mapper features a rootfs asks for.
type CryptOptions uint8

const (
	CryptNone      CryptOptions = 0
	CryptVerity    CryptOptions = 1 << 0
	CryptIntegrity CryptOptions = 1 << 1
	CryptCrypt     CryptOptions = 1 << 2
)

// exclusiveOptions lists member pairs that may never appear together.
var exclusiveOptions = [][2]CryptOptions{
	{CryptVerity, CryptIntegrity},
}

// cryptKeywords maps the crypt keyword of the metadata string to its feature set.
var cryptKeywords = map[string]CryptOptions{
	"plain":           CryptNone,
	"verity":          CryptVerity,
	"integrity":       CryptIntegrity,
	"crypt":           CryptCrypt,
	"crypt-integrity": CryptCrypt | CryptIntegrity,
	"crypt-verity":    CryptCrypt | CryptVerity,
}

// Has reports whether every member of o is in c.
func (c CryptOptions) Has(o CryptOptions) bool {
	return c&o == o
}

// Validate rejects sets holding mutually exclusive members.
func (c CryptOptions) Validate() error {
	for _, pair := range exclusiveOptions {
		if c.Has(pair[0]) && c.Has(pair[1]) {
			return ErrExclusiveOptions
		}
	}
	return nil
}

// Features lists the human-readable feature names of the set.
func (c CryptOptions) Features() []string {
	if c == CryptNone {
		return []string{"none"}
	}
	var names []string
	if c.Has(CryptVerity) {
		names = append(names, "dm-verity")
	}
	if c.Has(CryptIntegrity) {
		names = append(names, "dm-integrity")
	}
	if c.Has(CryptCrypt) {
		names = append(names, "dm-crypt")
	}
	return names
}

func (c CryptOptions) String() string {
	return strings.Join(c.Features(), " ")
}

// Keyword returns the metadata keyword for the set, or "" when none maps to it.
func (c CryptOptions) Keyword() string {
	for k, v := range cryptKeywords {
		if v == c {
			return k
		}
	}
	return ""
}

// ParseCryptKeyword maps a crypt keyword to its feature set.
func ParseCryptKeyword(keyword string) (CryptOptions, error) {
	return lookupCryptKeyword(cryptKeywords, keyword)
}

func lookupCryptKeyword(keywords map[string]CryptOptions, keyword string) (CryptOptions, error) {
	c, ok := keywords[keyword]
	if !ok {
		return CryptNone, ErrBadCryptKeyword
	}
	return c, nil
}

// RootfsMetadata is the verified description of one rootfs candidate.
//
// The dm-crypt table is never generated, CryptTable is always empty and records carrying
// CryptCrypt have no tables at all.
type RootfsMetadata struct {
	DevicePath string
	FSType     string
	ReadOnly   bool
	Crypt      CryptOptions

	// VerintTable holds the dm-verity or dm-integrity target arguments, whichever is active.
	VerintTable string
	CryptTable  string

	// DataSizeBytes is the usable data size of the verity or integrity target.
	DataSizeBytes uint64
}

// Mode returns "ro" or "rw".
func (m *RootfsMetadata) Mode() string {
	if m.ReadOnly {
		return "ro"
	}
	return "rw"
}

// Target returns the device mapper target type for the record, or "" when the rootfs is
// used without one.
func (m *RootfsMetadata) Target() string {
	switch m.Crypt {
	case CryptVerity:
		return "verity"
	case CryptIntegrity:
		return "integrity"
	default:
		return ""
	}
}
