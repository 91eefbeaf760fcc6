package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/moby/sys/mountinfo"
	"github.com/sirupsen/logrus"

	"rootfs-meta/meta"
)

// ErrUnsupported is returned for rootfs records that ask for dm-crypt.
var ErrUnsupported = errors.New("dm-crypt rootfs is not supported")

// commandRunner runs an external command with input on its stdin and returns its
// combined output.
type commandRunner func(ctx context.Context, operation, input, name string, args ...string) ([]byte, error)

type DeviceMapper struct {
	security  *SecurityConfig
	mapperDir string
	run       commandRunner
}

// NewDeviceMapper creates a new DeviceMapper instance
func NewDeviceMapper(security *SecurityConfig) *DeviceMapper {
	dm := &DeviceMapper{
		security:  security,
		mapperDir: MapperDir,
	}
	dm.run = dm.runCommand
	return dm
}

// TargetLine returns the dmsetup table line for the record's verity or integrity target.
func TargetLine(m *meta.RootfsMetadata) (string, error) {
	target := m.Target()
	if target == "" {
		return "", fmt.Errorf("rootfs on '%s' has no device mapper target", m.DevicePath)
	}
	if m.DataSizeBytes == 0 {
		return "", fmt.Errorf("%s target on '%s' has no data", target, m.DevicePath)
	}
	if m.DataSizeBytes%SectorSize != 0 {
		return "", fmt.Errorf("%s data size %d of '%s' is not a multiple of %d bytes", target, m.DataSizeBytes, m.DevicePath, SectorSize)
	}
	return fmt.Sprintf("0 %d %s %s", m.DataSizeBytes/SectorSize, target, m.VerintTable), nil
}

// SetupRootfs creates the device mapper target a verified record asks for, if any, and
// mounts the result at mountpoint.
func (dm *DeviceMapper) SetupRootfs(ctx context.Context, name, mountpoint string, m *meta.RootfsMetadata) (*SetupResult, error) {
	logger := GetLogger(ctx).WithFields(logrus.Fields{
		"component": "devicemapper",
		"device":    m.DevicePath,
		"features":  m.Crypt.String(),
	})

	if m.Crypt.Has(meta.CryptCrypt) {
		return nil, fmt.Errorf("rootfs on '%s': %w", m.DevicePath, ErrUnsupported)
	}

	res := &SetupResult{
		Metadata:   m,
		Device:     m.DevicePath,
		Mountpoint: mountpoint,
	}

	if m.Target() != "" {
		devicePath, err := dm.CreateTarget(ctx, name, m)
		if err != nil {
			return nil, err
		}
		res.Device = devicePath
		res.MapperName = name
	} else {
		logger.Warn("rootfs has no integrity protection, mounting partition directly")
	}

	if err := dm.MountDevice(ctx, res.Device, mountpoint, m.FSType, m.ReadOnly); err != nil {
		if res.MapperName != "" {
			if rmErr := dm.RemoveTarget(ctx, res.MapperName); rmErr != nil {
				logger.WithError(rmErr).Warn("failed to remove target after mount failure")
			}
		}
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"mounted":    res.Device,
		"mountpoint": mountpoint,
	}).Info("rootfs setup completed")
	return res, nil
}

// CreateTarget creates /dev/mapper/name from the record's verity or integrity table
func (dm *DeviceMapper) CreateTarget(ctx context.Context, name string, m *meta.RootfsMetadata) (string, error) {
	logger := GetLogger(ctx).WithFields(logrus.Fields{
		"name":   name,
		"target": m.Target(),
	})

	if err := validateMapperName(name); err != nil {
		return "", err
	}
	table, err := TargetLine(m)
	if err != nil {
		return "", err
	}

	devicePath := filepath.Join(dm.mapperDir, name)
	if _, err := os.Stat(devicePath); err == nil {
		return "", fmt.Errorf("device %s already exists", devicePath)
	}

	args := []string{"create", name}
	// dm-verity targets are read-only by nature
	if m.ReadOnly || m.Crypt == meta.CryptVerity {
		args = append(args, "--readonly")
	}

	// The table goes in on stdin, integrity tables carry key material
	logger.WithField("data_size", humanize.IBytes(m.DataSizeBytes)).Info("creating device mapper target")
	if _, err := dm.run(ctx, "create "+m.Target()+" target", table+"\n", "dmsetup", args...); err != nil {
		return "", err
	}

	// Wait for device node to appear in /dev/mapper/
	if err := dm.waitForDeviceNode(ctx, devicePath); err != nil {
		dm.removeQuietly(ctx, name)
		return "", fmt.Errorf("device node did not appear: %w", err)
	}

	if err := dm.CheckTarget(ctx, name, m.Target()); err != nil {
		dm.removeQuietly(ctx, name)
		return "", err
	}

	logger.WithField("device_path", devicePath).Info("device mapper target created")
	return devicePath, nil
}

// CheckTarget fails when dmsetup reports the target as corrupted
func (dm *DeviceMapper) CheckTarget(ctx context.Context, name, target string) error {
	status, err := dm.TargetStatus(ctx, name)
	if err != nil {
		return err
	}
	fields := strings.Fields(status)
	if len(fields) < 3 || fields[2] != target {
		return fmt.Errorf("unexpected status for %s: %q", name, SanitizeLogOutput(status))
	}
	// dm-verity reports V for verified and C once corruption was detected
	if target == "verity" && fields[len(fields)-1] == "C" {
		return fmt.Errorf("dm-verity target %s reports corruption", name)
	}
	return nil
}

// TargetStatus returns the status line of a device mapper target
func (dm *DeviceMapper) TargetStatus(ctx context.Context, name string) (string, error) {
	output, err := dm.run(ctx, "get target status", "", "dmsetup", "status", name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// RemoveTarget removes /dev/mapper/name
func (dm *DeviceMapper) RemoveTarget(ctx context.Context, name string) error {
	if err := validateMapperName(name); err != nil {
		return err
	}
	_, err := dm.run(ctx, "remove target", "", "dmsetup", "remove", name)
	return err
}

func (dm *DeviceMapper) removeQuietly(ctx context.Context, name string) {
	if err := dm.RemoveTarget(ctx, name); err != nil {
		GetLogger(ctx).WithError(err).WithField("name", name).Warn("failed to remove target")
	}
}

// waitForDeviceNode waits for a device node to appear in /dev/mapper/
func (dm *DeviceMapper) waitForDeviceNode(ctx context.Context, devicePath string) error {
	logger := GetLogger(ctx).WithField("device_path", devicePath)

	// Wait up to 10 seconds for device to appear
	for i := 0; i < 100; i++ {
		if _, err := os.Stat(devicePath); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	logger.Error("device node did not appear within timeout")
	return fmt.Errorf("device node %s did not appear within 10 seconds", devicePath)
}

// MountDevice mounts a device to a mountpoint
func (dm *DeviceMapper) MountDevice(ctx context.Context, devicePath, mountpoint, fsType string, readOnly bool) error {
	logger := GetLogger(ctx).WithFields(logrus.Fields{
		"device":     devicePath,
		"mountpoint": mountpoint,
		"fs_type":    fsType,
		"read_only":  readOnly,
	})

	// Create mountpoint directory
	if err := os.MkdirAll(mountpoint, 0755); err != nil {
		return fmt.Errorf("failed to create mountpoint: %w", err)
	}

	mounted, err := mountinfo.Mounted(mountpoint)
	if err != nil {
		return fmt.Errorf("failed to check mountpoint: %w", err)
	}
	if mounted {
		return fmt.Errorf("%s is already a mountpoint", mountpoint)
	}

	opts := "rw"
	if readOnly {
		opts = "ro"
	}
	logger.Info("mounting device")
	_, err = dm.run(ctx, "mount device", "", "mount", "-t", fsType, "-o", opts, devicePath, mountpoint)
	return err
}

// UnmountDevice unmounts a device
func (dm *DeviceMapper) UnmountDevice(ctx context.Context, mountpoint string) error {
	logger := GetLogger(ctx).WithField("mountpoint", mountpoint)

	mounted, err := mountinfo.Mounted(mountpoint)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to check mountpoint: %w", err)
	}
	if !mounted {
		logger.Info("device not mounted")
		return nil
	}

	logger.Info("unmounting device")
	_, err = dm.run(ctx, "unmount device", "", "umount", mountpoint)
	return err
}

// Teardown unmounts mountpoint and removes the target created for it, if any.
func (dm *DeviceMapper) Teardown(ctx context.Context, name, mountpoint string) error {
	logger := GetLogger(ctx).WithFields(logrus.Fields{
		"component": "devicemapper",
		"name":      name,
	})

	if err := dm.UnmountDevice(ctx, mountpoint); err != nil {
		return err
	}

	devicePath := filepath.Join(dm.mapperDir, name)
	if _, err := os.Stat(devicePath); os.IsNotExist(err) {
		logger.Info("no device mapper target to remove")
		return nil
	}
	if err := dm.RemoveTarget(ctx, name); err != nil {
		return err
	}

	logger.Info("rootfs teardown completed")
	return nil
}

// runCommand runs a command with proper logging and error handling. Logged arguments and
// output go through SanitizeLogOutput.
func (dm *DeviceMapper) runCommand(ctx context.Context, operation, input, name string, args ...string) ([]byte, error) {
	cmd, cancel, err := dm.security.SecureCommand(ctx, name, args...)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", operation, err)
	}
	defer cancel()
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}

	logger := GetLogger(ctx).WithFields(logrus.Fields{
		"operation": operation,
		"command":   SanitizeLogOutput(strings.Join(cmd.Args, " ")),
	})

	logger.Debug("running command")

	output, err := cmd.CombinedOutput()
	if err != nil {
		logger.WithFields(logrus.Fields{
			"error":  err,
			"output": SanitizeLogOutput(string(output)),
		}).Error("command failed")
		return output, fmt.Errorf("%s failed: %w", operation, err)
	}

	if len(output) > 0 {
		logger.WithField("output", SanitizeLogOutput(string(output))).Debug("command output")
	}

	return output, nil
}
