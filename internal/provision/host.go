package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/FainiDenis/rpi-setup/internal/steps"
	"github.com/FainiDenis/rpi-setup/internal/sysfile"
)

// HostnameSteps set the static hostname and its /etc/hosts entry.
func (e *Env) HostnameSteps() []steps.Step {
	name := e.Cfg.Hostname
	return []steps.Step{
		{
			Name:  "hostname",
			Fatal: true,
			Probe: func(ctx context.Context) (bool, error) {
				if name == "" {
					return true, nil
				}
				res, err := e.Exec.Run(ctx, "hostnamectl", "--static")
				if err != nil {
					return false, err
				}
				return strings.TrimSpace(res.Stdout) == name, nil
			},
			Apply: func(ctx context.Context) error {
				_, err := e.Exec.Run(ctx, "hostnamectl", "set-hostname", name)
				return err
			},
		},
		{
			Name:  "hosts entry",
			Fatal: true,
			Probe: func(ctx context.Context) (bool, error) {
				if name == "" {
					return true, nil
				}
				return e.Probe.LineInFile("hosts", "127.0.1.1\t"+name)
			},
			Apply: func(ctx context.Context) error {
				path := filepath.Join(e.Probe.EtcDir, "hosts")
				_, err := sysfile.EnsureLine(path, "127.0.1.1\t"+name, "127.0.1.1\t"+name)
				return err
			},
		},
	}
}

// RenameUserStep renames the stock account (pi) to the configured admin
// user, moving its home directory and primary group along.
func (e *Env) RenameUserStep() steps.Step {
	oldName, newName := e.Cfg.OldUser, e.Cfg.NewUser
	return steps.Step{
		Name:  fmt.Sprintf("rename user %s to %s", oldName, newName),
		Fatal: true,
		Probe: func(ctx context.Context) (bool, error) {
			if newName == "" || oldName == newName {
				return true, nil
			}
			ok, err := e.Probe.UserExists(ctx, newName)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
			// target exists; satisfied only when the old account is gone
			oldExists, err := e.Probe.UserExists(ctx, oldName)
			if err != nil {
				return false, err
			}
			if oldExists {
				return false, fmt.Errorf("both %s and %s exist, refusing to rename", oldName, newName)
			}
			return true, nil
		},
		Apply: func(ctx context.Context) error {
			if _, err := e.Exec.Run(ctx, "usermod", "-l", newName, oldName); err != nil {
				return fmt.Errorf("rename account: %w", err)
			}
			if _, err := e.Exec.Run(ctx, "usermod", "-d", "/home/"+newName, "-m", newName); err != nil {
				return fmt.Errorf("move home: %w", err)
			}
			if _, err := e.Exec.Run(ctx, "groupmod", "-n", newName, oldName); err != nil {
				return fmt.Errorf("rename group: %w", err)
			}
			return nil
		},
	}
}

// sshd_config directives enforced on every host.
var sshdDirectives = [][2]string{
	{"PermitRootLogin", "no"},
	{"PasswordAuthentication", "yes"},
	{"X11Forwarding", "no"},
	{"MaxAuthTries", "4"},
}

// SSHStep hardens sshd_config, keeping a pristine .bak, and reloads sshd
// only after the daemon validates the new file.
func (e *Env) SSHStep() steps.Step {
	return steps.Step{
		Name:  "sshd hardening",
		Fatal: true,
		Probe: func(ctx context.Context) (bool, error) {
			path := filepath.Join(e.Probe.EtcDir, "ssh", "sshd_config")
			current, err := readFileOrEmpty(path)
			if err != nil {
				return false, err
			}
			return applyDirectives(current, sshdDirectives) == current, nil
		},
		Apply: func(ctx context.Context) error {
			path := filepath.Join(e.Probe.EtcDir, "ssh", "sshd_config")
			current, err := readFileOrEmpty(path)
			if err != nil {
				return err
			}
			next := applyDirectives(current, sshdDirectives)
			if _, err := sysfile.Replace(path, []byte(next), 0o644); err != nil {
				return err
			}
			if _, err := e.Exec.Run(ctx, "sshd", "-t", "-f", path); err != nil {
				return fmt.Errorf("sshd config validation: %w", err)
			}
			_, err = e.Exec.Run(ctx, "systemctl", "reload", "ssh")
			return err
		},
	}
}

func readFileOrEmpty(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(b), nil
}

// applyDirectives rewrites config content so each directive appears
// exactly once, uncommented, with the wanted value. The first occurrence
// (commented or not) is replaced in place; later uncommented duplicates
// are commented out; missing directives are appended. The result is a
// fixed point: applying it twice changes nothing.
func applyDirectives(content string, directives [][2]string) string {
	lines := strings.Split(content, "\n")
	for _, d := range directives {
		key, val := d[0], d[1]
		want := key + " " + val
		found := false
		for i, ln := range lines {
			t := strings.TrimSpace(ln)
			isComment := strings.HasPrefix(t, "#")
			t = strings.TrimSpace(strings.TrimPrefix(t, "#"))
			if t != key && !strings.HasPrefix(t, key+" ") {
				continue
			}
			if !found {
				lines[i] = want
				found = true
			} else if !isComment {
				lines[i] = "# " + ln
			}
		}
		if !found {
			if len(lines) > 0 && lines[len(lines)-1] == "" {
				lines[len(lines)-1] = want
				lines = append(lines, "")
			} else {
				lines = append(lines, want)
			}
		}
	}
	return strings.Join(lines, "\n")
}
