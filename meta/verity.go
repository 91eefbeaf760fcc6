package meta

import (
	"fmt"
)

// VerityTable is the dm-verity target derived from the first table segment.
type VerityTable struct {
	Table         string
	DataSizeBytes uint64
	HashAlgorithm string
}

// BuildVerityTable turns a verity segment
//
//	<version> <data-block-size> <hash-block-size> <#data-blocks> <hash-start-block> <hash-algorithm> ...
//
// into dm-verity target arguments using devicePath as both data and hash device. The table
// must stay below capacity. Numeric tokens that do not parse count as zero, missing tokens
// are fatal.
func BuildVerityTable(devicePath string, segment []byte, capacity int) (*VerityTable, error) {
	if devicePath == "" || segment == nil {
		return nil, fmt.Errorf("%w: device path and verity segment are required", ErrInvalidArgument)
	}

	c := newCursor(segment)
	version, ok := c.next()
	if !ok {
		return nil, fmt.Errorf("%w: missing dm-verity version", ErrTruncated)
	}
	tail, ok := c.rest()
	if !ok {
		return nil, fmt.Errorf("%w: missing dm-verity parameters", ErrTruncated)
	}

	table := newTextBuffer(capacity)
	if err := table.Printf("%s %s %s %s", version, devicePath, devicePath, tail); err != nil {
		return nil, fmt.Errorf("device mapper table size too large: %w", err)
	}

	t := newCursor(tail)
	dataBlockSize, ok := t.next()
	if !ok {
		return nil, fmt.Errorf("%w: missing dm-verity data block size", ErrTruncated)
	}
	if _, ok := t.next(); !ok {
		return nil, fmt.Errorf("%w: missing dm-verity hash block size", ErrTruncated)
	}
	dataBlocks, ok := t.next()
	if !ok {
		return nil, fmt.Errorf("%w: missing dm-verity data block count", ErrTruncated)
	}
	if _, ok := t.next(); !ok {
		return nil, fmt.Errorf("%w: missing dm-verity hash start block", ErrTruncated)
	}
	algorithm, ok := t.next()
	if !ok {
		return nil, fmt.Errorf("%w: missing dm-verity hash algorithm", ErrTruncated)
	}

	size, err := dataSize(parseUintLenient(dataBlocks), parseUintLenient(dataBlockSize))
	if err != nil {
		return nil, err
	}

	return &VerityTable{
		Table:         table.String(),
		DataSizeBytes: size,
		HashAlgorithm: string(algorithm),
	}, nil
}
