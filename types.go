package main

import (
	"time"

	"rootfs-meta/meta"
)

// Defaults for the binary, overridable through the config file and flags.
const (
	DefaultConfigPath     = "/etc/rootfs-meta.yaml"
	DefaultKeyFile        = "/etc/rootfs_key_pub.pem"
	DefaultMapperName     = "rootfs"
	DefaultMountpoint     = "/newroot"
	DefaultCommandTimeout = 2 * time.Minute
)

// Device mapper configuration
const (
	MapperDir  = "/dev/mapper"
	SectorSize = 512
	// maxMapperNameLen is DM_NAME_LEN without the terminator.
	maxMapperNameLen = 127
)

// securePath is the only PATH external commands see.
const securePath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// SetupResult describes a rootfs that was verified and mounted.
type SetupResult struct {
	Metadata   *meta.RootfsMetadata
	Device     string // device that got mounted
	MapperName string // empty when the partition was mounted directly
	Mountpoint string
}
