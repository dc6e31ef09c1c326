// Package provision declares the concrete step sequences for the setup,
// samba and automount commands.
package provision

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/FainiDenis/rpi-setup/internal/apt"
	"github.com/FainiDenis/rpi-setup/internal/config"
	"github.com/FainiDenis/rpi-setup/internal/creds"
	"github.com/FainiDenis/rpi-setup/internal/executor"
	"github.com/FainiDenis/rpi-setup/internal/fetch"
	"github.com/FainiDenis/rpi-setup/internal/probe"
	"github.com/FainiDenis/rpi-setup/internal/steps"
)

// ErrNotRoot is returned before any step runs when the process lacks
// superuser privilege.
var ErrNotRoot = errors.New("must run as root")

// test seams
var (
	geteuid  = os.Geteuid
	hostInfo = host.InfoWithContext
)

// Env bundles the capabilities concrete steps depend on. Everything is
// injected so tests can run against a fake executor and a temp /etc.
type Env struct {
	Cfg   *config.Config
	Exec  executor.Executor
	Probe *probe.Prober
	Apt   *apt.Manager
	Fetch *fetch.Client
	Creds creds.Provider
}

// NewEnv wires an Env against the real system.
func NewEnv(cfg *config.Config) *Env {
	exec := executor.System{}
	p := probe.New(exec)
	f := fetch.New()
	return &Env{
		Cfg:   cfg,
		Exec:  exec,
		Probe: p,
		Apt:   apt.NewManager(exec, p, f),
		Fetch: f,
		Creds: creds.FromConfig(cfg),
	}
}

// RequireRoot fails fast when not running as the superuser.
func RequireRoot() error {
	if geteuid() != 0 {
		return ErrNotRoot
	}
	return nil
}

// PlatformStep verifies the host runs an apt-based distribution before
// anything touches the package system.
func (e *Env) PlatformStep() steps.Step {
	return steps.Step{
		Name:  "verify apt-based platform",
		Fatal: true,
		Apply: func(ctx context.Context) error {
			info, err := hostInfo(ctx)
			if err != nil {
				return fmt.Errorf("detect platform: %w", err)
			}
			switch info.PlatformFamily {
			case "debian", "raspbian":
				return nil
			}
			return fmt.Errorf("unsupported platform %s (family %s): need a Debian-based system",
				info.Platform, info.PlatformFamily)
		},
	}
}

// BasePackagesStep installs the declared base package set.
func (e *Env) BasePackagesStep() steps.Step {
	return steps.Step{
		Name:  "base packages",
		Fatal: true,
		Probe: func(ctx context.Context) (bool, error) {
			missing, err := e.Apt.Missing(ctx, e.Cfg.Packages...)
			return len(missing) == 0, err
		},
		Apply: func(ctx context.Context) error {
			if err := e.Apt.Update(ctx); err != nil {
				return err
			}
			return e.Apt.Install(ctx, e.Cfg.Packages...)
		},
	}
}
