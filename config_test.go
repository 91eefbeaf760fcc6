package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rootfs-meta.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_MissingDefaultFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), true)
	assert.Error(t, err)
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
keyfile: /lib/cominit/rootfs.pem
keyring: -4
mapper_name: root
command_timeout: 30s
allowed_device_prefixes:
  - /dev/disk/by-partlabel
metrics_file: /run/rootfs-meta.prom
`)
	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)

	assert.Equal(t, "/lib/cominit/rootfs.pem", cfg.KeyFile)
	assert.Equal(t, -4, cfg.Keyring)
	assert.Equal(t, "root", cfg.MapperName)
	assert.Equal(t, 30*time.Second, cfg.CommandTimeout)
	assert.Equal(t, []string{"/dev/disk/by-partlabel"}, cfg.AllowedDevicePrefixes)
	assert.Equal(t, "/run/rootfs-meta.prom", cfg.MetricsFile)
	assert.Equal(t, DefaultMountpoint, cfg.Mountpoint, "unset keys keep their defaults")
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""), true)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":      "keyfil: /etc/key.pem\n",
		"relative mount":   "mountpoint: newroot\n",
		"zero timeout":     "command_timeout: 0s\n",
		"bad mapper name":  "mapper_name: a/b\n",
		"traversal prefix": "allowed_device_prefixes: [/dev/../etc]\n",
		"empty key file":   "keyfile: \"\"\n",
		"malformed yaml":   "keyfile: [\n",
		"no device prefix": "allowed_device_prefixes: []\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, content), true)
			assert.Error(t, err)
		})
	}
}
