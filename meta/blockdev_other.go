//go:build !linux

package meta

import (
	"os"
)

// DeviceSize returns the file size. Block device sizes are only queried on Linux.
func DeviceSize(f *os.File) (uint64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return uint64(fi.Size()), nil
}
