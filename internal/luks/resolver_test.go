package luks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/FainiDenis/rpi-setup/internal/creds"
	"github.com/FainiDenis/rpi-setup/internal/executor"
	"github.com/FainiDenis/rpi-setup/internal/probe"
)

const (
	luksUUID = "3f1b62e0-8a4d-4c5e-9d7b-1a2b3c4d5e6f"
	fsUUID   = "7c8d9e0f-1a2b-3c4d-5e6f-708192a3b4c5"
)

// newTestResolver fakes the device as unlockable: blkid answers for both
// the raw device and the mapper node.
func newTestResolver(t *testing.T, fake *executor.Fake) *Resolver {
	t.Helper()

	old := isBlockDevice
	isBlockDevice = func(string) (bool, error) { return true, nil }
	t.Cleanup(func() { isBlockDevice = old })

	p := probe.New(fake)
	p.DevDir = t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(p.DevDir, "mapper"), 0o755))

	r := NewResolver(fake, p, creds.Static("passphrase"))
	r.Device = "/dev/sda1"
	r.Mapper = "encrypted"
	r.Mountpoint = "/mnt/x"
	r.FSType = "ext4"
	r.EtcDir = t.TempDir()

	fake.Script("blkid -s UUID -o value /dev/sda1", executor.Response{Stdout: luksUUID + "\n"})
	fake.Script("blkid -s UUID -o value "+filepath.Join(p.DevDir, "mapper", "encrypted"), executor.Response{Stdout: fsUUID + "\n"})
	return r
}

func TestResolverStateMachine(t *testing.T) {
	fake := executor.NewFake()
	r := newTestResolver(t, fake)

	assert.Equal(t, StateUnresolved, r.State())

	require.NoError(t, r.Unlock(context.Background()))
	assert.Equal(t, StateUnlocked, r.State())
	assert.Equal(t, luksUUID, r.LUKSUUID())
	assert.Equal(t, "passphrase", fake.Stdin("cryptsetup open /dev/sda1 encrypted"))

	require.NoError(t, r.ResolveFilesystem(context.Background()))
	assert.Equal(t, StateFilesystemKnown, r.State())
	assert.Equal(t, fsUUID, r.FilesystemUUID())

	require.NoError(t, r.WriteConfig())
	assert.Equal(t, StateConfigWritten, r.State())
}

func TestExactLineFormats(t *testing.T) {
	fake := executor.NewFake()
	r := newTestResolver(t, fake)

	require.NoError(t, r.Unlock(context.Background()))
	require.NoError(t, r.ResolveFilesystem(context.Background()))

	assert.Equal(t,
		"encrypted UUID="+luksUUID+" none nofail,x-systemd.device-timeout=10s",
		r.CrypttabLine())
	assert.Equal(t,
		"UUID="+fsUUID+" /mnt/x ext4 defaults,nofail,x-systemd.device-timeout=10s,x-systemd.automount 0 2",
		r.FstabLine())
}

func TestWriteConfigIdempotent(t *testing.T) {
	fake := executor.NewFake()
	r := newTestResolver(t, fake)

	require.NoError(t, r.Unlock(context.Background()))
	require.NoError(t, r.ResolveFilesystem(context.Background()))
	require.NoError(t, r.WriteConfig())

	crypttab := filepath.Join(r.EtcDir, "crypttab")
	fstab := filepath.Join(r.EtcDir, "fstab")
	first, err := os.ReadFile(crypttab)
	require.NoError(t, err)
	firstFstab, err := os.ReadFile(fstab)
	require.NoError(t, err)

	// a second full resolution changes nothing
	r2 := newTestResolver(t, fake)
	r2.EtcDir = r.EtcDir
	require.NoError(t, r2.Unlock(context.Background()))
	require.NoError(t, r2.ResolveFilesystem(context.Background()))
	require.NoError(t, r2.WriteConfig())

	second, _ := os.ReadFile(crypttab)
	secondFstab, _ := os.ReadFile(fstab)
	assert.Equal(t, string(first), string(second))
	assert.Equal(t, string(firstFstab), string(secondFstab))
}

func TestExistingMapperEntryNotDuplicated(t *testing.T) {
	fake := executor.NewFake()
	r := newTestResolver(t, fake)

	crypttab := filepath.Join(r.EtcDir, "crypttab")
	require.NoError(t, os.WriteFile(crypttab, []byte("encrypted UUID=elsewhere none luks\n"), 0o644))

	require.NoError(t, r.Unlock(context.Background()))
	require.NoError(t, r.ResolveFilesystem(context.Background()))
	require.NoError(t, r.WriteConfig())

	b, _ := os.ReadFile(crypttab)
	assert.Equal(t, "encrypted UUID=elsewhere none luks\n", string(b))
}

func TestOtherMapperEntryDoesNotMaskOurs(t *testing.T) {
	fake := executor.NewFake()
	r := newTestResolver(t, fake)

	crypttab := filepath.Join(r.EtcDir, "crypttab")
	require.NoError(t, os.WriteFile(crypttab, []byte("old-encrypted UUID=1111 none luks\n"), 0o644))

	require.NoError(t, r.Unlock(context.Background()))
	require.NoError(t, r.ResolveFilesystem(context.Background()))
	require.NoError(t, r.WriteConfig())

	b, _ := os.ReadFile(crypttab)
	assert.Contains(t, string(b), "old-encrypted UUID=1111 none luks\n")
	assert.Contains(t, string(b), r.CrypttabLine()+"\n")
}

func TestFstabCommentDoesNotMaskEntry(t *testing.T) {
	fake := executor.NewFake()
	r := newTestResolver(t, fake)

	fstab := filepath.Join(r.EtcDir, "fstab")
	require.NoError(t, os.WriteFile(fstab, []byte("# /mnt/x is reserved for the media drive\n"), 0o644))

	require.NoError(t, r.Unlock(context.Background()))
	require.NoError(t, r.ResolveFilesystem(context.Background()))
	require.NoError(t, r.WriteConfig())

	b, _ := os.ReadFile(fstab)
	assert.Contains(t, string(b), r.FstabLine()+"\n")
}

func TestVfatFilesystemUUIDAccepted(t *testing.T) {
	fake := executor.NewFake()
	r := newTestResolver(t, fake)
	fake.Script("blkid -s UUID -o value "+filepath.Join(r.Probe.DevDir, "mapper", "encrypted"),
		executor.Response{Stdout: "ABCD-1234\n"})

	require.NoError(t, r.Unlock(context.Background()))
	require.NoError(t, r.ResolveFilesystem(context.Background()))
	assert.Equal(t, "ABCD-1234", r.FilesystemUUID())
	assert.Contains(t, r.FstabLine(), "UUID=ABCD-1234 /mnt/x ")
}

func TestMalformedFilesystemUUIDRejected(t *testing.T) {
	fake := executor.NewFake()
	r := newTestResolver(t, fake)
	fake.Script("blkid -s UUID -o value "+filepath.Join(r.Probe.DevDir, "mapper", "encrypted"),
		executor.Response{Stdout: "not a uuid\n"})

	require.NoError(t, r.Unlock(context.Background()))
	err := r.ResolveFilesystem(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed filesystem UUID")
}

func TestMalformedLUKSUUIDRejected(t *testing.T) {
	fake := executor.NewFake()
	r := newTestResolver(t, fake)
	fake.Script("blkid -s UUID -o value /dev/sda1", executor.Response{Stdout: "ABCD-1234\n"})

	err := r.Unlock(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed LUKS UUID")
}

func TestNotBlockDevice(t *testing.T) {
	fake := executor.NewFake()
	r := newTestResolver(t, fake)

	old := isBlockDevice
	isBlockDevice = func(string) (bool, error) { return false, nil }
	defer func() { isBlockDevice = old }()

	err := r.Unlock(context.Background())
	require.ErrorIs(t, err, ErrNotBlockDevice)

	// no mutation happened
	_, statErr := os.Stat(filepath.Join(r.EtcDir, "crypttab"))
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, fake.Calls())
}

func TestUnlockSkippedWhenMapperPresent(t *testing.T) {
	fake := executor.NewFake()
	r := newTestResolver(t, fake)
	require.NoError(t, os.WriteFile(filepath.Join(r.Probe.DevDir, "mapper", "encrypted"), nil, 0o600))

	require.NoError(t, r.Unlock(context.Background()))

	for _, call := range fake.Calls() {
		assert.NotContains(t, call, "cryptsetup")
	}
}

func TestUnlockWrongPassphrase(t *testing.T) {
	fake := executor.NewFake()
	r := newTestResolver(t, fake)
	fake.Script("cryptsetup open /dev/sda1 encrypted", executor.Response{Code: 2, Stderr: "No key available with this passphrase."})

	err := r.Unlock(context.Background())
	require.ErrorIs(t, err, ErrUnlock)
	assert.Equal(t, StateUnresolved, r.State())
}

func TestUnformattedVolume(t *testing.T) {
	fake := executor.NewFake()
	r := newTestResolver(t, fake)
	fake.Script("blkid -s UUID -o value "+filepath.Join(r.Probe.DevDir, "mapper", "encrypted"), executor.Response{Stdout: "\n"})

	require.NoError(t, r.Unlock(context.Background()))
	err := r.ResolveFilesystem(context.Background())
	require.ErrorIs(t, err, ErrNoFilesystemUUID)
}

func TestReport(t *testing.T) {
	fake := executor.NewFake()
	r := newTestResolver(t, fake)
	r.Mountpoint = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(r.Mountpoint, "media"), nil, 0o644))

	old := statfs
	statfs = func(path string, st *unix.Statfs_t) error {
		st.Blocks = 1000
		st.Bsize = 4096
		st.Bavail = 250
		return nil
	}
	defer func() { statfs = old }()

	rep, err := r.Report()
	require.NoError(t, err)
	assert.Equal(t, uint64(4096000), rep.TotalBytes)
	assert.Equal(t, uint64(1024000), rep.FreeBytes)
	assert.Equal(t, []string{"media"}, rep.Entries)
}

func TestStateGuards(t *testing.T) {
	fake := executor.NewFake()
	r := newTestResolver(t, fake)

	require.Error(t, r.ResolveFilesystem(context.Background()), "cannot resolve before unlock")
	require.Error(t, r.WriteConfig(), "cannot write config before resolving")
	require.Error(t, r.Activate(context.Background()), "cannot activate before config")
}
