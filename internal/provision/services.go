package provision

import (
	"context"
	"fmt"
	"path"

	"github.com/FainiDenis/rpi-setup/internal/apt"
	"github.com/FainiDenis/rpi-setup/internal/config"
	"github.com/FainiDenis/rpi-setup/internal/steps"
)

// TailscaleRepo and CloudflaredRepo are the upstream apt repositories for
// the optional remote-access agents.
var (
	TailscaleRepo = apt.Repo{
		Name:       "tailscale",
		KeyURL:     "https://pkgs.tailscale.com/stable/debian/bookworm.noarmor.gpg",
		SourceLine: "deb [signed-by={keyring}] https://pkgs.tailscale.com/stable/debian bookworm main",
	}
	CloudflaredRepo = apt.Repo{
		Name:       "cloudflared",
		KeyURL:     "https://pkg.cloudflare.com/cloudflare-main.gpg",
		SourceLine: "deb [signed-by={keyring}] https://pkg.cloudflare.com/cloudflared bookworm main",
	}
)

// CockpitSteps install the Cockpit web console plus any extra plugin .deb
// packages. Plugins are enhancements: a failed download is warned about
// and the run continues.
func (e *Env) CockpitSteps() []steps.Step {
	out := []steps.Step{
		{
			Name:  "cockpit",
			Fatal: true,
			Probe: func(ctx context.Context) (bool, error) {
				return e.Probe.PackageInstalled(ctx, "cockpit")
			},
			Apply: func(ctx context.Context) error {
				return e.Apt.Install(ctx, "cockpit")
			},
		},
	}
	for _, url := range e.Cfg.CockpitPlugins {
		url := url
		out = append(out, steps.Step{
			Name:  "cockpit plugin " + path.Base(url),
			Fatal: false,
			Apply: func(ctx context.Context) error {
				return e.Apt.InstallDeb(ctx, url, "")
			},
		})
	}
	return out
}

// RemoteAccessStep installs the configured remote-access agent. The agent
// still needs a one-time interactive login (tailscale up / cloudflared
// tunnel login), so the step only installs and enables it.
func (e *Env) RemoteAccessStep() steps.Step {
	agent := e.Cfg.RemoteAccess
	return steps.Step{
		Name:  "remote access agent",
		Fatal: false,
		Probe: func(ctx context.Context) (bool, error) {
			if agent == config.RemoteNone {
				return true, nil
			}
			return e.Probe.PackageInstalled(ctx, agent)
		},
		Apply: func(ctx context.Context) error {
			switch agent {
			case config.RemoteTailscale:
				if err := e.Apt.EnsureRepo(ctx, TailscaleRepo); err != nil {
					return err
				}
				if err := e.Apt.Install(ctx, "tailscale"); err != nil {
					return err
				}
				_, err := e.Exec.Run(ctx, "systemctl", "enable", "--now", "tailscaled")
				return err
			case config.RemoteCloudflared:
				if err := e.Apt.EnsureRepo(ctx, CloudflaredRepo); err != nil {
					return err
				}
				return e.Apt.Install(ctx, "cloudflared")
			default:
				return fmt.Errorf("unknown remote access agent %q", agent)
			}
		},
	}
}
