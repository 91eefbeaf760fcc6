//go:build !linux

package meta

import (
	"errors"
)

// KeyringResolver is only functional on Linux.
type KeyringResolver struct {
	Keyring    int
	MaxPayload int
}

func (r KeyringResolver) ResolveKey(descriptor string) ([]byte, error) {
	return nil, errors.New("kernel keyring is not available on this platform")
}
