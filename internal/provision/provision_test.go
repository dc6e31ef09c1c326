package provision

import (
	"context"
	"testing"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FainiDenis/rpi-setup/internal/apt"
	"github.com/FainiDenis/rpi-setup/internal/config"
	"github.com/FainiDenis/rpi-setup/internal/creds"
	"github.com/FainiDenis/rpi-setup/internal/executor"
	"github.com/FainiDenis/rpi-setup/internal/fetch"
	"github.com/FainiDenis/rpi-setup/internal/probe"
)

// newTestEnv builds an Env against a fake executor and a temp /etc tree.
func newTestEnv(t *testing.T, cfg *config.Config) (*Env, *executor.Fake) {
	t.Helper()
	fake := executor.NewFake()
	p := probe.New(fake)
	p.EtcDir = t.TempDir()
	p.DevDir = t.TempDir()
	f := fetch.New()
	f.Progress = false
	m := apt.NewManager(fake, p, f)
	m.EtcDir = p.EtcDir
	m.KeyringDir = t.TempDir()
	return &Env{
		Cfg:   cfg,
		Exec:  fake,
		Probe: p,
		Apt:   m,
		Fetch: f,
		Creds: creds.Static("secret"),
	}, fake
}

func TestRequireRoot(t *testing.T) {
	old := geteuid
	defer func() { geteuid = old }()

	geteuid = func() int { return 0 }
	assert.NoError(t, RequireRoot())

	geteuid = func() int { return 1000 }
	assert.ErrorIs(t, RequireRoot(), ErrNotRoot)
}

func TestPlatformStep(t *testing.T) {
	env, _ := newTestEnv(t, &config.Config{})

	old := hostInfo
	defer func() { hostInfo = old }()

	hostInfo = func(ctx context.Context) (*host.InfoStat, error) {
		return &host.InfoStat{Platform: "raspbian", PlatformFamily: "raspbian"}, nil
	}
	require.NoError(t, env.PlatformStep().Apply(context.Background()))

	hostInfo = func(ctx context.Context) (*host.InfoStat, error) {
		return &host.InfoStat{Platform: "fedora", PlatformFamily: "rhel"}, nil
	}
	err := env.PlatformStep().Apply(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Debian-based")
}

func TestBasePackagesProbe(t *testing.T) {
	cfg := &config.Config{Packages: []string{"curl", "ufw"}}
	env, fake := newTestEnv(t, cfg)
	fake.Script("dpkg-query -f '${db:Status-Abbrev}' -W curl", executor.Response{Stdout: "ii "})
	fake.Script("dpkg-query -f '${db:Status-Abbrev}' -W ufw", executor.Response{Stdout: "ii "})

	step := env.BasePackagesStep()
	ok, err := step.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}
