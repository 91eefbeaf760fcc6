package meta

import (
	"bytes"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// Parser interprets a verified metadata string.
type Parser struct {
	Keys   KeyResolver
	Limits Limits
	Logger logrus.FieldLogger

	// Keywords maps crypt keywords to feature sets, the built-in table when nil.
	Keywords map[string]CryptOptions
}

// Parse builds the record for devicePath from msg, the metadata string as covered by the
// signature. A trailing NUL terminator is accepted and ignored. msg is only read.
//
//	<version> <fs-type> <ro|rw> <crypt-keyword> 0xFF <verity/integrity table> 0xFF <crypt table>
func (p *Parser) Parse(devicePath string, msg []byte) (*RootfsMetadata, error) {
	if devicePath == "" || msg == nil {
		return nil, fmt.Errorf("%w: device path and metadata must not be empty", ErrInvalidArgument)
	}
	limits := p.Limits.withDefaults()
	logger := p.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if i := bytes.IndexByte(msg, 0); i >= 0 {
		msg = msg[:i]
	}

	if !bytes.HasPrefix(msg, []byte(Version)) {
		return nil, fmt.Errorf("%w: wrong format of partition metadata", ErrBadVersion)
	}

	first := bytes.IndexByte(msg, SegmentDelimiter)
	if first < 0 {
		return nil, fmt.Errorf("%w: missing device mapper table delimiter", ErrTruncated)
	}
	head, tables := msg[:first], msg[first+1:]
	second := bytes.IndexByte(tables, SegmentDelimiter)
	if second < 0 {
		return nil, fmt.Errorf("%w: missing crypt table delimiter", ErrTruncated)
	}
	verint := tables[:second]

	c := newCursor(head)
	if _, ok := c.next(); !ok {
		return nil, fmt.Errorf("%w: missing version", ErrTruncated)
	}
	fsType, ok := c.next()
	if !ok {
		return nil, fmt.Errorf("%w: missing filesystem type", ErrTruncated)
	}
	if len(fsType) > limits.FSTypeMaxLen {
		fsType = fsType[:limits.FSTypeMaxLen]
	}

	mode, ok := c.next()
	if !ok {
		return nil, fmt.Errorf("%w: missing filesystem mode", ErrTruncated)
	}
	var readOnly bool
	switch string(mode) {
	case "ro":
		readOnly = true
	case "rw":
		readOnly = false
	default:
		return nil, fmt.Errorf("%w: '%s', must be 'ro' or 'rw'", ErrBadMode, mode)
	}

	keyword, ok := c.next()
	if !ok {
		return nil, fmt.Errorf("%w: missing crypt type", ErrTruncated)
	}
	keywords := p.Keywords
	if keywords == nil {
		keywords = cryptKeywords
	}
	crypt, err := lookupCryptKeyword(keywords, string(keyword))
	if err != nil {
		return nil, fmt.Errorf("%w: '%s'", err, keyword)
	}
	if err := crypt.Validate(); err != nil {
		return nil, err
	}

	m := &RootfsMetadata{
		DevicePath: devicePath,
		FSType:     string(fsType),
		ReadOnly:   readOnly,
		Crypt:      crypt,
	}

	logger.WithFields(logrus.Fields{
		"device":    m.DevicePath,
		"fs_type":   m.FSType,
		"read_only": m.ReadOnly,
	}).Info("using rootfs")
	logger.WithFields(logrus.Fields{
		"keyword":  crypt.Keyword(),
		"features": crypt.String(),
	}).Info("rootfs cryptographic features")

	switch crypt {
	case CryptVerity:
		v, err := BuildVerityTable(devicePath, verint, limits.TableCapacity)
		if err != nil {
			return nil, fmt.Errorf("could not generate device mapper table for dm-verity rootfs: %w", err)
		}
		logger.WithField("hash_algorithm", v.HashAlgorithm).Info("dm-verity hash algorithm")
		m.VerintTable = v.Table
		m.DataSizeBytes = v.DataSizeBytes
	case CryptIntegrity:
		v, err := BuildIntegrityTable(devicePath, verint, p.Keys, limits)
		if err != nil {
			return nil, fmt.Errorf("could not generate device mapper table for dm-integrity rootfs: %w", err)
		}
		for _, alg := range v.Algorithms {
			l := logger.WithFields(logrus.Fields{
				"option":    alg.Option,
				"algorithm": alg.Algorithm,
			})
			if alg.KeyDescriptor != "" {
				l = l.WithField("key", alg.KeyDescriptor)
			}
			l.Info("dm-integrity algorithm")
		}
		m.VerintTable = v.Table
		m.DataSizeBytes = v.DataSizeBytes
	default:
		// Plain rootfs, and dm-crypt combinations for which no table is generated yet.
	}

	if m.DataSizeBytes > 0 {
		logger.WithField("data_size", humanize.IBytes(m.DataSizeBytes)).Debug("device mapper data size")
	}
	return m, nil
}
