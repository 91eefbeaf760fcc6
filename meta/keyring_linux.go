//go:build linux

package meta

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// KeyringResolver loads "user" keys from a kernel keyring by description.
type KeyringResolver struct {
	// Keyring is the keyring searched, unix.KEY_SPEC_USER_KEYRING when zero.
	Keyring int
	// MaxPayload bounds the key size, KeyPayloadMax when zero.
	MaxPayload int
}

func (r KeyringResolver) ResolveKey(descriptor string) ([]byte, error) {
	ring := r.Keyring
	if ring == 0 {
		ring = unix.KEY_SPEC_USER_KEYRING
	}
	limit := r.MaxPayload
	if limit <= 0 {
		limit = KeyPayloadMax
	}

	id, err := unix.KeyctlSearch(ring, "user", descriptor, 0)
	if err != nil {
		return nil, fmt.Errorf("could not find key '%s' in keyring %d: %w", descriptor, ring, err)
	}

	buf := make([]byte, limit)
	n, err := unix.KeyctlBuffer(unix.KEYCTL_READ, id, buf, 0)
	if err != nil {
		return nil, fmt.Errorf("could not read payload of key '%s': %w", descriptor, err)
	}
	if n > len(buf) {
		return nil, fmt.Errorf("payload of key '%s' is %d bytes, at most %d supported", descriptor, n, len(buf))
	}
	return buf[:n], nil
}
