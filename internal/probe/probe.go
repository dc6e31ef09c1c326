// Package probe answers "is the host already in the desired state?"
// questions. Probes only inspect; they never mutate.
package probe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/FainiDenis/rpi-setup/internal/executor"
	"github.com/FainiDenis/rpi-setup/internal/sysfile"
)

// test seam for gopsutil, which reads /proc directly
var listPartitions = disk.PartitionsWithContext

// Prober inspects current system state through an Executor and the
// filesystem. EtcDir and DevDir are overridable for tests.
type Prober struct {
	Exec   executor.Executor
	EtcDir string
	DevDir string
}

func New(exec executor.Executor) *Prober {
	return &Prober{Exec: exec, EtcDir: "/etc", DevDir: "/dev"}
}

// PackageInstalled queries the dpkg database for an installed package.
func (p *Prober) PackageInstalled(ctx context.Context, name string) (bool, error) {
	res, err := p.Exec.Run(ctx, "dpkg-query", "-f", "${db:Status-Abbrev}", "-W", name)
	if err != nil {
		// dpkg-query exits non-zero for unknown packages
		if _, ok := err.(*executor.ToolError); ok {
			return false, nil
		}
		return false, err
	}
	return strings.HasPrefix(strings.TrimSpace(res.Stdout), "ii"), nil
}

// UserExists reports whether a user account is present.
func (p *Prober) UserExists(ctx context.Context, name string) (bool, error) {
	_, err := p.Exec.Run(ctx, "id", "-u", name)
	if err != nil {
		if _, ok := err.(*executor.ToolError); ok {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// LineInFile reports whether a line in the file (relative to EtcDir when
// not absolute) contains key.
func (p *Prober) LineInFile(path, key string) (bool, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.EtcDir, path)
	}
	return sysfile.HasLine(path, key)
}

// ServiceActive reports whether a systemd unit is active.
func (p *Prober) ServiceActive(ctx context.Context, unit string) (bool, error) {
	_, err := p.Exec.Run(ctx, "systemctl", "is-active", "--quiet", unit)
	if err != nil {
		if _, ok := err.(*executor.ToolError); ok {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DeviceUnlocked reports whether a device-mapper node exists for the
// mapper name, i.e. the encrypted device is already open.
func (p *Prober) DeviceUnlocked(mapper string) bool {
	_, err := os.Stat(filepath.Join(p.DevDir, "mapper", mapper))
	return err == nil
}

// MountpointMounted reports whether something is mounted at path.
func (p *Prober) MountpointMounted(ctx context.Context, path string) (bool, error) {
	parts, err := listPartitions(ctx, true)
	if err != nil {
		return false, fmt.Errorf("list partitions: %w", err)
	}
	clean := filepath.Clean(path)
	for _, part := range parts {
		if filepath.Clean(part.Mountpoint) == clean {
			return true, nil
		}
	}
	return false, nil
}

// IsBlockDevice reports whether path names a block device node.
func IsBlockDevice(path string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	mode := fi.Mode()
	return mode&os.ModeDevice != 0 && mode&os.ModeCharDevice == 0, nil
}
