package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CommandTimeout        time.Duration // Timeout for shell commands
	AllowedDevicePrefixes []string      // Directories rootfs candidates may live in
	AllowedKeyDirs        []string      // Directories public keys may be loaded from
	BlockedCommands       []string      // Commands that should never be executed
}

// NewSecurityConfig derives the security settings from cfg.
func NewSecurityConfig(cfg *Config) *SecurityConfig {
	return &SecurityConfig{
		CommandTimeout:        cfg.CommandTimeout,
		AllowedDevicePrefixes: cfg.AllowedDevicePrefixes,
		AllowedKeyDirs:        cfg.AllowedKeyDirs,
		BlockedCommands: []string{
			"rm", "rmdir", "mv", "cp", "chmod", "chown", "su", "sudo",
			"mkfs", "dd", "wipefs", "sfdisk", "fdisk", "reboot", "shutdown",
		},
	}
}

// ValidateDevicePath ensures a rootfs candidate lies under an allowed prefix
func (sc *SecurityConfig) ValidateDevicePath(path string) error {
	if err := validateWithin(path, sc.AllowedDevicePrefixes); err != nil {
		return fmt.Errorf("device %w", err)
	}
	return nil
}

// ValidateKeyFile ensures a public key is loaded from an allowed directory
func (sc *SecurityConfig) ValidateKeyFile(path string) error {
	if err := validateWithin(path, sc.AllowedKeyDirs); err != nil {
		return fmt.Errorf("key file %w", err)
	}
	return nil
}

func validateWithin(path string, allowed []string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("path must be absolute: %s", path)
	}
	// Check for directory traversal before cleaning hides it
	for _, elem := range strings.Split(path, "/") {
		if elem == ".." {
			return fmt.Errorf("path contains directory traversal: %s", path)
		}
	}

	cleanPath := filepath.Clean(path)
	for _, base := range allowed {
		base = filepath.Clean(base)
		if base == "/" || cleanPath == base || strings.HasPrefix(cleanPath, base+"/") {
			return nil
		}
	}
	return fmt.Errorf("path %s is not within allowed directories", path)
}

// validateMapperName checks a name is usable as a /dev/mapper entry.
func validateMapperName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("invalid mapper name '%s'", name)
	case strings.ContainsAny(name, "/ \t\n"):
		return fmt.Errorf("mapper name '%s' must not contain slashes or whitespace", name)
	case len(name) > maxMapperNameLen:
		return fmt.Errorf("mapper name '%s' is longer than %d characters", name, maxMapperNameLen)
	}
	return nil
}

// ValidateCommand checks if a command is safe to execute
func (sc *SecurityConfig) ValidateCommand(cmd string) error {
	command := filepath.Base(cmd)

	for _, blocked := range sc.BlockedCommands {
		if command == blocked {
			return fmt.Errorf("command %s is blocked for security reasons", command)
		}
	}

	return nil
}

// SecureCommand creates a command with timeout, restricted environment and its own
// process group. The returned cancel func must be called once the command is done.
func (sc *SecurityConfig) SecureCommand(ctx context.Context, name string, args ...string) (*exec.Cmd, context.CancelFunc, error) {
	if err := sc.ValidateCommand(name); err != nil {
		return nil, nil, err
	}

	timeout := sc.CommandTimeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)

	cmd := exec.CommandContext(cmdCtx, name, args...)
	cmd.Env = []string{
		"PATH=" + securePath,
		"LC_ALL=C",
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	// Kill the entire process group
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	return cmd, cancel, nil
}

// keyOptionPattern matches dm-integrity options that may carry a hex encoded key as their
// third colon separated field.
var keyOptionPattern = regexp.MustCompile(`\b(internal_hash|journal_crypt|journal_mac):([^:\s]*):\S+`)

// SanitizeLogOutput removes key material from device mapper tables before they are logged
// or printed
func SanitizeLogOutput(output string) string {
	return keyOptionPattern.ReplaceAllString(output, "$1:$2:[REDACTED]")
}

// lookupCommand finds name in the directories of securePath.
func lookupCommand(name string) (string, error) {
	for _, dir := range filepath.SplitList(securePath) {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return path, nil
		}
	}
	return "", fmt.Errorf("required command not found: %s", name)
}

// CheckPrivileges verifies the process can create device mapper targets and mount them
func CheckPrivileges(ctx context.Context) error {
	logger := GetLogger(ctx).WithField("component", "security")

	if os.Geteuid() != 0 {
		return fmt.Errorf("rootfs-meta must be run as root for devicemapper operations")
	}

	for _, name := range []string{"dmsetup", "mount", "umount"} {
		path, err := lookupCommand(name)
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"command": name,
			"path":    path,
		}).Debug("required command found")
	}
	return nil
}
