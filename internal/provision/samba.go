package provision

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/FainiDenis/rpi-setup/internal/steps"
	"github.com/FainiDenis/rpi-setup/internal/sysfile"
)

// defaultSmbConf is used when no remote template is configured.
const defaultSmbConf = `[global]
workgroup = WORKGROUP
server string = {{.ShareName}} server
server role = standalone server
map to guest = bad user
usershare allow guests = no

[{{.ShareName}}]
path = {{.SharePath}}
browseable = yes
writeable = yes
valid users = {{.ShareUser}}
create mask = 0775
directory mask = 0775
`

// SambaSteps install Samba, create the share directory, deploy smb.conf,
// set the share user's password and start the service.
func (e *Env) SambaSteps() []steps.Step {
	cfg := e.Cfg.Samba
	return []steps.Step{
		{
			Name:  "samba packages",
			Fatal: true,
			Probe: func(ctx context.Context) (bool, error) {
				missing, err := e.Apt.Missing(ctx, "samba", "samba-common-bin")
				return len(missing) == 0, err
			},
			Apply: func(ctx context.Context) error {
				if err := e.Apt.Update(ctx); err != nil {
					return err
				}
				return e.Apt.Install(ctx, "samba", "samba-common-bin")
			},
		},
		e.shareDirStep(),
		e.smbConfStep(),
		{
			Name:  "samba user password",
			Fatal: true,
			Probe: func(ctx context.Context) (bool, error) {
				res, err := e.Exec.Run(ctx, "pdbedit", "-L")
				if err != nil {
					return false, err
				}
				return pdbeditHasUser(res.Stdout, cfg.ShareUser), nil
			},
			Apply: func(ctx context.Context) error {
				pass, err := e.Creds.Secret(fmt.Sprintf("samba password for %s", cfg.ShareUser))
				if err != nil {
					return err
				}
				_, err = e.Exec.Input(ctx, pass+"\n"+pass+"\n", "smbpasswd", "-s", "-a", cfg.ShareUser)
				return err
			},
		},
		e.FirewallAllowStep("firewall samba", "Samba"),
		{
			Name:  "samba service",
			Fatal: true,
			Probe: func(ctx context.Context) (bool, error) {
				// restart even when active so a fresh smb.conf is picked up
				return false, nil
			},
			Apply: func(ctx context.Context) error {
				if _, err := e.Exec.Run(ctx, "systemctl", "enable", "--now", "smbd"); err != nil {
					return err
				}
				if _, err := e.Exec.Run(ctx, "systemctl", "restart", "smbd"); err != nil {
					return err
				}
				ok, err := e.Probe.ServiceActive(ctx, "smbd")
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("smbd did not come up after restart")
				}
				return nil
			},
		},
	}
}

// shareDirStep creates the exported directory with the declared owner and
// mode 0775 (group-writable so share members can collaborate).
func (e *Env) shareDirStep() steps.Step {
	cfg := e.Cfg.Samba
	return steps.Step{
		Name:  "share directory",
		Fatal: true,
		Probe: func(ctx context.Context) (bool, error) {
			fi, err := os.Stat(cfg.SharePath)
			if err != nil {
				if os.IsNotExist(err) {
					return false, nil
				}
				return false, err
			}
			if !fi.IsDir() || fi.Mode().Perm() != 0o775 {
				return false, nil
			}
			if cfg.ShareUser != "" {
				res, err := e.Exec.Run(ctx, "stat", "-c", "%U:%G", cfg.SharePath)
				if err != nil {
					return false, err
				}
				if strings.TrimSpace(res.Stdout) != cfg.ShareUser+":"+cfg.ShareUser {
					return false, nil
				}
			}
			return true, nil
		},
		Apply: func(ctx context.Context) error {
			if err := os.MkdirAll(cfg.SharePath, 0o775); err != nil {
				return fmt.Errorf("mkdir %s: %w", cfg.SharePath, err)
			}
			if err := os.Chmod(cfg.SharePath, 0o775); err != nil {
				return fmt.Errorf("chmod %s: %w", cfg.SharePath, err)
			}
			if cfg.ShareUser != "" {
				owner := cfg.ShareUser + ":" + cfg.ShareUser
				if _, err := e.Exec.Run(ctx, "chown", owner, cfg.SharePath); err != nil {
					return fmt.Errorf("chown %s: %w", cfg.SharePath, err)
				}
			}
			return nil
		},
	}
}

// smbConfStep renders the share configuration (remote template when
// configured, embedded default otherwise), validates it with testparm and
// installs it with a pristine .bak of the shipped file.
func (e *Env) smbConfStep() steps.Step {
	return steps.Step{
		Name:  "smb.conf",
		Fatal: true,
		Probe: func(ctx context.Context) (bool, error) {
			rendered, err := e.renderSmbConf(ctx)
			if err != nil {
				return false, err
			}
			path := filepath.Join(e.Probe.EtcDir, "samba", "smb.conf")
			current, err := readFileOrEmpty(path)
			if err != nil {
				return false, err
			}
			return current == string(rendered), nil
		},
		Apply: func(ctx context.Context) error {
			rendered, err := e.renderSmbConf(ctx)
			if err != nil {
				return err
			}

			// validate before touching /etc/samba
			tmp, err := os.CreateTemp("", "smb-*.conf")
			if err != nil {
				return err
			}
			defer os.Remove(tmp.Name())
			if _, err := tmp.Write(rendered); err != nil {
				_ = tmp.Close()
				return err
			}
			_ = tmp.Close()
			if _, err := e.Exec.Run(ctx, "testparm", "-s", tmp.Name()); err != nil {
				return fmt.Errorf("smb.conf validation: %w", err)
			}

			path := filepath.Join(e.Probe.EtcDir, "samba", "smb.conf")
			_, err = sysfile.Replace(path, rendered, 0o644)
			return err
		},
	}
}

func (e *Env) renderSmbConf(ctx context.Context) ([]byte, error) {
	cfg := e.Cfg.Samba
	text := defaultSmbConf
	if cfg.TemplateURL != "" {
		b, err := e.Fetch.Fetch(ctx, cfg.TemplateURL, cfg.TemplateSHA256)
		if err != nil {
			return nil, fmt.Errorf("smb.conf template: %w", err)
		}
		text = string(b)
	}
	tmpl, err := template.New("smb.conf").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("malformed smb.conf template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, cfg); err != nil {
		return nil, fmt.Errorf("render smb.conf template: %w", err)
	}
	return buf.Bytes(), nil
}

// pdbeditHasUser scans `pdbedit -L` output (username:uid:... lines).
func pdbeditHasUser(out, user string) bool {
	for _, ln := range bytes.Split([]byte(out), []byte("\n")) {
		if name, _, ok := bytes.Cut(ln, []byte(":")); ok && string(name) == user {
			return true
		}
	}
	return false
}
