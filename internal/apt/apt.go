// Package apt installs Debian packages and third-party apt repositories
// (signing key under /usr/share/keyrings plus a sources.list.d entry).
package apt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/FainiDenis/rpi-setup/internal/executor"
	"github.com/FainiDenis/rpi-setup/internal/fetch"
	"github.com/FainiDenis/rpi-setup/internal/probe"
	"github.com/FainiDenis/rpi-setup/internal/sysfile"
)

// installTimeout bounds apt-get runs, which can be slow on SD cards.
const installTimeout = 10 * time.Minute

// Repo declares a third-party apt repository.
type Repo struct {
	// Name is the sources.list.d file stem, e.g. "docker".
	Name string
	// KeyURL is fetched into KeyringDir as <Name>.gpg.
	KeyURL    string
	KeySHA256 string
	// SourceLine is the deb822-free one-line entry; the literal
	// "{keyring}" placeholder is replaced with the key path.
	SourceLine string
}

// Manager wraps apt operations. EtcDir and KeyringDir are overridable for
// tests.
type Manager struct {
	Exec       executor.Executor
	Probe      *probe.Prober
	Fetch      *fetch.Client
	EtcDir     string
	KeyringDir string
}

func NewManager(exec executor.Executor, p *probe.Prober, f *fetch.Client) *Manager {
	return &Manager{
		Exec:       exec,
		Probe:      p,
		Fetch:      f,
		EtcDir:     "/etc",
		KeyringDir: "/usr/share/keyrings",
	}
}

// Update refreshes the package index.
func (m *Manager) Update(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()
	if _, err := m.Exec.Run(ctx, "apt-get", "update"); err != nil {
		return fmt.Errorf("apt-get update: %w", err)
	}
	return nil
}

// Missing filters names down to packages not yet installed.
func (m *Manager) Missing(ctx context.Context, names ...string) ([]string, error) {
	var missing []string
	for _, n := range names {
		ok, err := m.Probe.PackageInstalled(ctx, n)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, n)
		}
	}
	return missing, nil
}

// Install installs the packages that are not already present. Already
// installed packages are skipped, so repeated calls are no-ops.
func (m *Manager) Install(ctx context.Context, names ...string) error {
	missing, err := m.Missing(ctx, names...)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()
	args := append([]string{"install", "-y"}, missing...)
	if _, err := m.Exec.Run(ctx, "apt-get", args...); err != nil {
		return fmt.Errorf("install %s: %w", strings.Join(missing, " "), err)
	}
	return nil
}

// KeyPath returns where a repo's signing key is kept.
func (m *Manager) KeyPath(r Repo) string {
	return filepath.Join(m.KeyringDir, r.Name+".gpg")
}

// ListPath returns a repo's sources.list.d file.
func (m *Manager) ListPath(r Repo) string {
	return filepath.Join(m.EtcDir, "apt", "sources.list.d", r.Name+".list")
}

// EnsureRepo installs the signing key and source entry for r, then updates
// the index when anything changed.
func (m *Manager) EnsureRepo(ctx context.Context, r Repo) error {
	changed := false

	keyPath := m.KeyPath(r)
	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		if err := m.Fetch.Download(ctx, r.KeyURL, keyPath, r.KeySHA256, 0o644); err != nil {
			return fmt.Errorf("repo %s key: %w", r.Name, err)
		}
		changed = true
	}

	line := strings.ReplaceAll(r.SourceLine, "{keyring}", keyPath)
	added, err := sysfile.EnsureLine(m.ListPath(r), line, line)
	if err != nil {
		return fmt.Errorf("repo %s source: %w", r.Name, err)
	}
	changed = changed || added

	if changed {
		return m.Update(ctx)
	}
	return nil
}

// InstallDeb downloads a standalone .deb and installs it with its
// dependencies.
func (m *Manager) InstallDeb(ctx context.Context, url, wantSHA256 string) error {
	dest := filepath.Join(os.TempDir(), filepath.Base(url))
	if err := m.Fetch.Download(ctx, url, dest, wantSHA256, 0o644); err != nil {
		return err
	}
	defer os.Remove(dest)
	ctx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()
	if _, err := m.Exec.Run(ctx, "apt-get", "install", "-y", dest); err != nil {
		return fmt.Errorf("install %s: %w", filepath.Base(url), err)
	}
	return nil
}
