package provision

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FainiDenis/rpi-setup/internal/config"
	"github.com/FainiDenis/rpi-setup/internal/executor"
)

func TestHostnameProbe(t *testing.T) {
	env, fake := newTestEnv(t, &config.Config{Hostname: "pihost"})
	fake.Script("hostnamectl --static", executor.Response{Stdout: "pihost\n"})

	steps := env.HostnameSteps()
	ok, err := steps[0].Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	fake.Script("hostnamectl --static", executor.Response{Stdout: "raspberrypi\n"})
	ok, err = steps[0].Probe(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHostsEntryIdempotent(t *testing.T) {
	env, _ := newTestEnv(t, &config.Config{Hostname: "pihost"})
	hostsPath := filepath.Join(env.Probe.EtcDir, "hosts")
	require.NoError(t, os.WriteFile(hostsPath, []byte("127.0.0.1\tlocalhost\n"), 0o644))

	step := env.HostnameSteps()[1]
	require.NoError(t, step.Apply(context.Background()))
	require.NoError(t, step.Apply(context.Background()))

	b, _ := os.ReadFile(hostsPath)
	assert.Equal(t, "127.0.0.1\tlocalhost\n127.0.1.1\tpihost\n", string(b))

	ok, err := step.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHostnameStepsSkippedWhenUnset(t *testing.T) {
	env, _ := newTestEnv(t, &config.Config{})
	for _, s := range env.HostnameSteps() {
		ok, err := s.Probe(context.Background())
		require.NoError(t, err)
		assert.True(t, ok, "%s should be satisfied with no hostname configured", s.Name)
	}
}

func TestRenameUserApply(t *testing.T) {
	env, fake := newTestEnv(t, &config.Config{OldUser: "pi", NewUser: "admin"})

	step := env.RenameUserStep()
	require.NoError(t, step.Apply(context.Background()))

	calls := fake.Calls()
	assert.Equal(t, []string{
		"usermod -l admin pi",
		"usermod -d /home/admin -m admin",
		"groupmod -n admin pi",
	}, calls)
}

func TestRenameUserProbeSatisfiedAfterRename(t *testing.T) {
	env, fake := newTestEnv(t, &config.Config{OldUser: "pi", NewUser: "admin"})
	fake.Script("id -u pi", executor.Response{Code: 1, Stderr: "no such user"})

	ok, err := env.RenameUserStep().Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRenameUserRefusesWhenBothExist(t *testing.T) {
	// unscripted `id -u` calls succeed, so both accounts appear to exist
	env, _ := newTestEnv(t, &config.Config{OldUser: "pi", NewUser: "admin"})

	_, err := env.RenameUserStep().Probe(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to rename")
}

func TestApplyDirectives(t *testing.T) {
	in := "# sshd_config\n#PermitRootLogin prohibit-password\nX11Forwarding yes\n"
	out := applyDirectives(in, sshdDirectives)

	assert.Contains(t, out, "PermitRootLogin no")
	assert.Contains(t, out, "X11Forwarding no")
	assert.Contains(t, out, "PasswordAuthentication yes")
	assert.Contains(t, out, "MaxAuthTries 4")
	assert.NotContains(t, out, "#PermitRootLogin prohibit-password")

	// fixed point
	assert.Equal(t, out, applyDirectives(out, sshdDirectives))
}

func TestApplyDirectivesCommentsDuplicates(t *testing.T) {
	in := "PermitRootLogin yes\nPermitRootLogin without-password\n"
	out := applyDirectives(in, [][2]string{{"PermitRootLogin", "no"}})

	assert.Contains(t, out, "PermitRootLogin no")
	assert.Contains(t, out, "# PermitRootLogin without-password")
	assert.Equal(t, out, applyDirectives(out, [][2]string{{"PermitRootLogin", "no"}}))
}

func TestSSHStepWritesBackup(t *testing.T) {
	env, _ := newTestEnv(t, &config.Config{})
	sshDir := filepath.Join(env.Probe.EtcDir, "ssh")
	require.NoError(t, os.MkdirAll(sshDir, 0o755))
	orig := "#PermitRootLogin prohibit-password\n"
	require.NoError(t, os.WriteFile(filepath.Join(sshDir, "sshd_config"), []byte(orig), 0o644))

	step := env.SSHStep()
	require.NoError(t, step.Apply(context.Background()))

	bak, err := os.ReadFile(filepath.Join(sshDir, "sshd_config.bak"))
	require.NoError(t, err)
	assert.Equal(t, orig, string(bak))

	ok, err := step.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, ok, "satisfied after apply")
}
