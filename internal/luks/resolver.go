// Package luks resolves an encrypted block device to the crypttab and
// fstab entries that auto-mount it at boot.
package luks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/FainiDenis/rpi-setup/internal/creds"
	"github.com/FainiDenis/rpi-setup/internal/executor"
	"github.com/FainiDenis/rpi-setup/internal/logging"
	"github.com/FainiDenis/rpi-setup/internal/probe"
	"github.com/FainiDenis/rpi-setup/internal/sysfile"
)

// Resolution errors. Callers match with errors.Is.
var (
	ErrNotBlockDevice   = errors.New("not a block device")
	ErrUnlock           = errors.New("unlock failed")
	ErrNoFilesystemUUID = errors.New("no filesystem UUID")
)

// State of the resolver. Transitions only move forward:
// Unresolved → Unlocked → FilesystemKnown → ConfigWritten.
type State int

const (
	StateUnresolved State = iota
	StateUnlocked
	StateFilesystemKnown
	StateConfigWritten
)

func (s State) String() string {
	switch s {
	case StateUnlocked:
		return "unlocked"
	case StateFilesystemKnown:
		return "filesystem-known"
	case StateConfigWritten:
		return "config-written"
	default:
		return "unresolved"
	}
}

// mount options for removable encrypted drives: the boot must not hang
// when the drive is absent, and the mount happens on first access.
const (
	crypttabOpts = "nofail,x-systemd.device-timeout=10s"
	fstabOpts    = "defaults,nofail,x-systemd.device-timeout=10s,x-systemd.automount"
)

// test seams
var (
	statfs        = unix.Statfs
	isBlockDevice = probe.IsBlockDevice
)

// Resolver walks one encrypted volume from a raw device path to written
// crypttab/fstab configuration.
type Resolver struct {
	Exec  executor.Executor
	Probe *probe.Prober
	Creds creds.Provider

	Device     string
	Mapper     string
	Mountpoint string
	FSType     string

	EtcDir string

	state    State
	luksUUID string
	fsUUID   string
}

func NewResolver(exec executor.Executor, p *probe.Prober, c creds.Provider) *Resolver {
	return &Resolver{Exec: exec, Probe: p, Creds: c, EtcDir: "/etc"}
}

func (r *Resolver) State() State { return r.state }

// LUKSUUID is valid after Unlock.
func (r *Resolver) LUKSUUID() string { return r.luksUUID }

// FilesystemUUID is valid after ResolveFilesystem.
func (r *Resolver) FilesystemUUID() string { return r.fsUUID }

func (r *Resolver) mapperPath() string {
	return filepath.Join(r.Probe.DevDir, "mapper", r.Mapper)
}

// Unlock transitions Unresolved → Unlocked: verify the device node, read
// its LUKS UUID and open it unless the mapper is already present. The
// passphrase comes from the credential provider, which may block on an
// interactive prompt.
func (r *Resolver) Unlock(ctx context.Context) error {
	if r.state != StateUnresolved {
		return fmt.Errorf("unlock: invalid state %s", r.state)
	}

	ok, err := isBlockDevice(r.Device)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotBlockDevice, r.Device, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotBlockDevice, r.Device)
	}

	id, err := r.blkidUUID(ctx, r.Device)
	if err != nil {
		return fmt.Errorf("read LUKS UUID of %s: %w", r.Device, err)
	}
	// cryptsetup always formats LUKS headers with an RFC 4122 UUID
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("device %s has malformed LUKS UUID %q: %w", r.Device, id, err)
	}
	r.luksUUID = id

	log := logging.GetLogger("luks")
	if r.Probe.DeviceUnlocked(r.Mapper) {
		log.Info().Str("mapper", r.Mapper).Msg("device already unlocked")
		r.state = StateUnlocked
		return nil
	}

	pass, err := r.Creds.Secret(fmt.Sprintf("LUKS passphrase for %s", r.Device))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnlock, err)
	}
	if _, err := r.Exec.Input(ctx, pass, "cryptsetup", "open", r.Device, r.Mapper); err != nil {
		return fmt.Errorf("%w: %v", ErrUnlock, err)
	}
	log.Info().Str("device", r.Device).Str("mapper", r.Mapper).Msg("device unlocked")
	r.state = StateUnlocked
	return nil
}

// ResolveFilesystem transitions Unlocked → FilesystemKnown by reading the
// filesystem UUID of the mapped device.
func (r *Resolver) ResolveFilesystem(ctx context.Context) error {
	if r.state != StateUnlocked {
		return fmt.Errorf("resolve filesystem: invalid state %s", r.state)
	}
	id, err := r.blkidUUID(ctx, r.mapperPath())
	if err != nil {
		if errors.Is(err, errEmptyUUID) {
			return fmt.Errorf("%w: %s", ErrNoFilesystemUUID, r.mapperPath())
		}
		return fmt.Errorf("read filesystem UUID of %s: %w", r.mapperPath(), err)
	}
	if !validVolumeID(id) {
		return fmt.Errorf("malformed filesystem UUID %q on %s", id, r.mapperPath())
	}
	r.fsUUID = id
	r.state = StateFilesystemKnown
	return nil
}

// validVolumeID accepts the UUID formats blkid reports per filesystem:
// RFC 4122 for ext4, XXXX-XXXX for vfat, sixteen hex digits for ntfs.
func validVolumeID(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		case r == '-':
		default:
			return false
		}
	}
	return true
}

var errEmptyUUID = errors.New("blkid returned no UUID")

func (r *Resolver) blkidUUID(ctx context.Context, device string) (string, error) {
	res, err := r.Exec.Run(ctx, "blkid", "-s", "UUID", "-o", "value", device)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(res.Stdout)
	if id == "" {
		return "", errEmptyUUID
	}
	return id, nil
}

// CrypttabLine is the entry unlocking the device at boot.
func (r *Resolver) CrypttabLine() string {
	return fmt.Sprintf("%s UUID=%s none %s", r.Mapper, r.luksUUID, crypttabOpts)
}

// FstabLine is the entry mounting the unlocked filesystem.
func (r *Resolver) FstabLine() string {
	return fmt.Sprintf("UUID=%s %s %s %s 0 2", r.fsUUID, r.Mountpoint, r.FSType, fstabOpts)
}

// WriteConfig transitions FilesystemKnown → ConfigWritten: append the two
// entries unless one keyed on the same identity exists. Identity is the
// first crypttab field (mapper name) and the second fstab field
// (mountpoint), so entries for other mappers or comments never mask ours.
func (r *Resolver) WriteConfig() error {
	if r.state != StateFilesystemKnown {
		return fmt.Errorf("write config: invalid state %s", r.state)
	}
	if _, err := sysfile.EnsureEntry(filepath.Join(r.EtcDir, "crypttab"), 0, r.Mapper, r.CrypttabLine()); err != nil {
		return fmt.Errorf("crypttab: %w", err)
	}
	if _, err := sysfile.EnsureEntry(filepath.Join(r.EtcDir, "fstab"), 1, r.Mountpoint, r.FstabLine()); err != nil {
		return fmt.Errorf("fstab: %w", err)
	}
	r.state = StateConfigWritten
	return nil
}

// Activate reloads systemd and mounts everything in fstab. Only valid in
// the terminal state.
func (r *Resolver) Activate(ctx context.Context) error {
	if r.state != StateConfigWritten {
		return fmt.Errorf("activate: invalid state %s", r.state)
	}
	if err := os.MkdirAll(r.Mountpoint, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", r.Mountpoint, err)
	}
	if _, err := r.Exec.Run(ctx, "systemctl", "daemon-reload"); err != nil {
		return err
	}
	if _, err := r.Exec.Run(ctx, "mount", "-a"); err != nil {
		return err
	}
	return nil
}

// Report describes the mounted volume for operator confirmation.
type Report struct {
	Mountpoint string
	TotalBytes uint64
	FreeBytes  uint64
	Entries    []string
}

// Report stats the mountpoint and lists its top-level entries.
func (r *Resolver) Report() (Report, error) {
	var st unix.Statfs_t
	if err := statfs(r.Mountpoint, &st); err != nil {
		return Report{}, fmt.Errorf("statfs %s: %w", r.Mountpoint, err)
	}
	rep := Report{
		Mountpoint: r.Mountpoint,
		TotalBytes: st.Blocks * uint64(st.Bsize),
		FreeBytes:  st.Bavail * uint64(st.Bsize),
	}
	entries, err := os.ReadDir(r.Mountpoint)
	if err != nil {
		return rep, fmt.Errorf("list %s: %w", r.Mountpoint, err)
	}
	for _, e := range entries {
		rep.Entries = append(rep.Entries, e.Name())
	}
	return rep, nil
}

// Run walks the full state machine and activates the mount.
func (r *Resolver) Run(ctx context.Context) error {
	if err := r.Unlock(ctx); err != nil {
		return err
	}
	if err := r.ResolveFilesystem(ctx); err != nil {
		return err
	}
	if err := r.WriteConfig(); err != nil {
		return err
	}
	return r.Activate(ctx)
}
