package meta

import (
	"fmt"
	"io"
	"os"
)

// Device is an open, readable rootfs candidate.
type Device interface {
	io.ReadSeeker
	io.Closer
	// Size returns the total size of the device in bytes.
	Size() (uint64, error)
}

type fileDevice struct {
	*os.File
}

func (d *fileDevice) Size() (uint64, error) {
	return DeviceSize(d.File)
}

// OpenDevice opens path read-only.
func OpenDevice(path string) (Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: could not open '%s' for reading: %w", ErrIO, path, err)
	}
	return &fileDevice{File: f}, nil
}

// ReadRegion reads the last regionSize bytes of dev. Short reads are retried until the
// region is complete; end of file or any read error fails the whole read.
func ReadRegion(dev Device, regionSize int) ([]byte, error) {
	if dev == nil || regionSize <= 0 {
		return nil, fmt.Errorf("%w: device and a positive region size are required", ErrInvalidArgument)
	}

	size, err := dev.Size()
	if err != nil {
		return nil, fmt.Errorf("%w: could not determine size of partition: %w", ErrIO, err)
	}
	if size < uint64(regionSize) {
		return nil, fmt.Errorf("%w: partition of %d bytes is smaller than the %d byte metadata region", ErrIO, size, regionSize)
	}

	offset := int64(size - uint64(regionSize))
	if _, err := dev.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: could not seek to position %d: %w", ErrIO, offset, err)
	}

	region := make([]byte, regionSize)
	if _, err := io.ReadFull(dev, region); err != nil {
		return nil, fmt.Errorf("%w: could not read %d bytes from offset %d: %w", ErrIO, regionSize, offset, err)
	}
	return region, nil
}
