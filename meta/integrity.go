package meta

import (
	"bytes"
	"fmt"
)

// keyOptions are the dm-integrity options that may reference a key in the keyring.
var keyOptions = []string{"internal_hash:", "journal_crypt:", "journal_mac:"}

// keyMarker separates an option's algorithm from a key descriptor.
const keyMarker = "::"

// KeyResolver fetches raw key material for a key descriptor.
type KeyResolver interface {
	ResolveKey(descriptor string) ([]byte, error)
}

// KeyResolverFunc adapts a function to KeyResolver.
type KeyResolverFunc func(descriptor string) ([]byte, error)

func (f KeyResolverFunc) ResolveKey(descriptor string) ([]byte, error) {
	return f(descriptor)
}

// OptionAlgorithm records the algorithm named by one key-bearing option.
type OptionAlgorithm struct {
	Option    string
	Algorithm string
	// KeyDescriptor is set when the key was loaded from the keyring.
	KeyDescriptor string
}

// IntegrityTable is the dm-integrity target derived from the first table segment.
type IntegrityTable struct {
	Table         string
	DataSizeBytes uint64
	Algorithms    []OptionAlgorithm
}

// BuildIntegrityTable turns an integrity segment
//
//	<#blocks> <block-size> <#extra-options> <extra-options...>
//
// into dm-integrity target arguments on devicePath. Options of the form name:alg::descriptor
// get the descriptor replaced by the hex encoded key from keys. Both the option buffer and
// the final table must stay below capacity.
func BuildIntegrityTable(devicePath string, segment []byte, keys KeyResolver, limits Limits) (*IntegrityTable, error) {
	if devicePath == "" || segment == nil {
		return nil, fmt.Errorf("%w: device path and integrity segment are required", ErrInvalidArgument)
	}
	limits = limits.withDefaults()

	c := newCursor(segment)
	blocks, ok := c.next()
	if !ok {
		return nil, fmt.Errorf("%w: missing dm-integrity block count", ErrTruncated)
	}
	blockSize, ok := c.next()
	if !ok {
		return nil, fmt.Errorf("%w: missing dm-integrity block size", ErrTruncated)
	}
	numOpts, ok := c.next()
	if !ok {
		return nil, fmt.Errorf("%w: missing dm-integrity option count", ErrTruncated)
	}
	extra, ok := c.rest()
	if !ok {
		return nil, fmt.Errorf("%w: missing dm-integrity options", ErrTruncated)
	}

	size, err := dataSize(parseUintLenient(blocks), parseUintLenient(blockSize))
	if err != nil {
		return nil, err
	}

	res := &IntegrityTable{DataSizeBytes: size}
	opts := newTextBuffer(limits.TableCapacity)
	for _, opt := range fields(extra) {
		out, alg, err := rewriteOption(opt, keys, limits)
		if err != nil {
			return nil, err
		}
		if alg != nil {
			res.Algorithms = append(res.Algorithms, *alg)
		}
		if opts.Len() > 0 {
			if _, err := opts.WriteString(" "); err != nil {
				return nil, fmt.Errorf("not enough space left in device mapper table: %w", err)
			}
		}
		if _, err := opts.Write(out); err != nil {
			return nil, fmt.Errorf("not enough space left in device mapper table: %w", err)
		}
	}

	table := newTextBuffer(limits.TableCapacity)
	if err := table.Printf("%s 0 - J %d block_size:%s %s", devicePath, parseUintLenient(numOpts)+1, blockSize, opts); err != nil {
		return nil, fmt.Errorf("device mapper table size too large: %w", err)
	}
	res.Table = table.String()
	return res, nil
}

// rewriteOption returns the option as it goes into the table. Key-bearing options also
// report their algorithm.
func rewriteOption(opt []byte, keys KeyResolver, limits Limits) ([]byte, *OptionAlgorithm, error) {
	var prefix string
	for _, p := range keyOptions {
		if bytes.HasPrefix(opt, []byte(p)) {
			prefix = p
			break
		}
	}
	if prefix == "" {
		return opt, nil, nil
	}

	algorithm := opt[len(prefix):]
	if i := bytes.IndexByte(algorithm, ':'); i >= 0 {
		algorithm = algorithm[:i]
	}
	if len(algorithm) > limits.AlgorithmMaxLen {
		algorithm = algorithm[:limits.AlgorithmMaxLen]
	}
	alg := &OptionAlgorithm{
		Option:    prefix[:len(prefix)-1],
		Algorithm: string(algorithm),
	}

	marker := bytes.Index(opt, []byte(keyMarker))
	if marker < 0 || marker+len(keyMarker) >= len(opt) {
		return opt, alg, nil
	}
	descriptor := string(opt[marker+len(keyMarker):])
	if keys == nil {
		return nil, nil, fmt.Errorf("%w: no key resolver for key '%s'", ErrKeyResolution, descriptor)
	}

	key, err := keys.ResolveKey(descriptor)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: could not get key payload for key '%s': %w", ErrKeyResolution, descriptor, err)
	}
	if len(key) < 1 {
		return nil, nil, fmt.Errorf("%w: key '%s' has an empty payload", ErrKeyResolution, descriptor)
	}
	if len(key) > limits.KeyPayloadMax {
		return nil, nil, fmt.Errorf("%w: key '%s' payload of %d bytes exceeds %d", ErrKeyResolution, descriptor, len(key), limits.KeyPayloadMax)
	}
	keyHex, err := HexString(key)
	if err != nil {
		return nil, nil, fmt.Errorf("could not convert key payload to hexadecimal format: %w", err)
	}
	alg.KeyDescriptor = descriptor

	// Keep the option up to and including the first colon of the marker.
	out := make([]byte, 0, marker+1+len(keyHex))
	out = append(out, opt[:marker+1]...)
	out = append(out, keyHex...)
	return out, alg, nil
}
