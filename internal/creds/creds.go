// Package creds supplies secrets (LUKS passphrases, Samba passwords) to
// provisioning steps. The source is chosen by configuration so tests and
// unattended runs never hit an interactive prompt.
package creds

import (
	"fmt"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"golang.org/x/term"

	"github.com/FainiDenis/rpi-setup/internal/config"
)

// Provider yields the secret identified by label ("luks passphrase",
// "samba password for <user>").
type Provider interface {
	Secret(label string) (string, error)
}

// FromConfig picks the provider declared in the config.
func FromConfig(cfg *config.Config) Provider {
	switch cfg.CredentialSource {
	case config.CredEnv:
		return EnvProvider{}
	case config.CredFile:
		return FileProvider{Path: cfg.SecretFile}
	default:
		return PromptProvider{}
	}
}

// PromptProvider asks interactively. It refuses to prompt when stdin is
// not a terminal so unattended runs fail fast instead of hanging.
type PromptProvider struct{}

func (PromptProvider) Secret(label string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("cannot prompt for %s: stdin is not a terminal", label)
	}
	var secret string
	prompt := &survey.Password{Message: fmt.Sprintf("Enter %s:", label)}
	if err := survey.AskOne(prompt, &secret, survey.WithValidator(survey.Required)); err != nil {
		return "", fmt.Errorf("prompt for %s: %w", label, err)
	}
	return secret, nil
}

// EnvProvider reads the secret from RPI_SETUP_SECRET_<LABEL>, where the
// label is upper-cased with non-alphanumerics mapped to underscores.
type EnvProvider struct{}

func (EnvProvider) Secret(label string) (string, error) {
	key := EnvKey(label)
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", fmt.Errorf("environment variable %s is not set", key)
	}
	return v, nil
}

// EnvKey maps a secret label to its environment variable name.
func EnvKey(label string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, label)
	return "RPI_SETUP_SECRET_" + mapped
}

// FileProvider reads the secret from the first line of a file.
type FileProvider struct {
	Path string
}

func (f FileProvider) Secret(label string) (string, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read secret file for %s: %w", label, err)
	}
	secret, _, _ := strings.Cut(string(b), "\n")
	secret = strings.TrimRight(secret, "\r")
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", f.Path)
	}
	return secret, nil
}

// Static is a fixed-value provider for tests.
type Static string

func (s Static) Secret(string) (string, error) { return string(s), nil }
