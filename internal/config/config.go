package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Credential sources accepted by Config.CredentialSource.
const (
	CredPrompt = "prompt"
	CredEnv    = "env"
	CredFile   = "file"
)

// Remote access agents accepted by Config.RemoteAccess.
const (
	RemoteTailscale   = "tailscale"
	RemoteCloudflared = "cloudflared"
	RemoteNone        = ""
)

// Config is the single validated configuration passed to every step.
// It is built once at startup from flags, RPI_SETUP_* environment
// variables and an optional YAML config file.
type Config struct {
	Hostname string `mapstructure:"hostname"`
	OldUser  string `mapstructure:"old_user"`
	NewUser  string `mapstructure:"new_user"`

	Packages       []string `mapstructure:"packages"`
	CockpitPlugins []string `mapstructure:"cockpit_plugins"`
	RemoteAccess   string   `mapstructure:"remote_access"`

	Samba SambaConfig `mapstructure:"samba"`
	Mount MountConfig `mapstructure:"mount"`

	CredentialSource string `mapstructure:"credential_source"`
	SecretFile       string `mapstructure:"secret_file"`

	DryRun    bool `mapstructure:"dry_run"`
	AssumeYes bool `mapstructure:"assume_yes"`
}

// SambaConfig describes the share exported by the samba command.
type SambaConfig struct {
	ShareName      string `mapstructure:"share_name"`
	SharePath      string `mapstructure:"share_path"`
	ShareUser      string `mapstructure:"share_user"`
	TemplateURL    string `mapstructure:"template_url"`
	TemplateSHA256 string `mapstructure:"template_sha256"`
}

// MountConfig describes the encrypted volume handled by automount.
type MountConfig struct {
	Device     string `mapstructure:"device"`
	Mapper     string `mapstructure:"mapper"`
	Mountpoint string `mapstructure:"mountpoint"`
	FSType     string `mapstructure:"fstype"`
}

// Defaults mirror a stock Raspberry Pi OS image.
func setDefaults(v *viper.Viper) {
	v.SetDefault("hostname", "")
	v.SetDefault("old_user", "pi")
	v.SetDefault("new_user", "")
	v.SetDefault("packages", []string{
		"curl", "git", "vim", "htop", "ufw", "ca-certificates", "gnupg",
	})
	v.SetDefault("remote_access", RemoteNone)
	v.SetDefault("credential_source", CredPrompt)
	v.SetDefault("samba.share_name", "shared")
	v.SetDefault("samba.share_path", "/home/shared")
	v.SetDefault("mount.mapper", "encrypted")
	v.SetDefault("mount.mountpoint", "/mnt/encrypted")
	v.SetDefault("mount.fstype", "ext4")
}

// Load builds a Config from the given viper instance and validates it.
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first configuration problem found. Validation runs
// once at startup so steps can assume a well-formed Config.
func (c *Config) Validate() error {
	switch c.CredentialSource {
	case CredPrompt, CredEnv, CredFile:
	default:
		return fmt.Errorf("invalid credential_source %q (want %s, %s or %s)",
			c.CredentialSource, CredPrompt, CredEnv, CredFile)
	}
	if c.CredentialSource == CredFile && c.SecretFile == "" {
		return fmt.Errorf("credential_source %q requires secret_file", CredFile)
	}
	switch c.RemoteAccess {
	case RemoteNone, RemoteTailscale, RemoteCloudflared:
	default:
		return fmt.Errorf("invalid remote_access %q (want %s or %s)",
			c.RemoteAccess, RemoteTailscale, RemoteCloudflared)
	}
	if c.NewUser != "" && !validUsername(c.NewUser) {
		return fmt.Errorf("invalid new_user %q", c.NewUser)
	}
	if c.Samba.SharePath != "" && !filepath.IsAbs(c.Samba.SharePath) {
		return fmt.Errorf("samba share_path %q must be absolute", c.Samba.SharePath)
	}
	if c.Mount.Mountpoint != "" && !filepath.IsAbs(c.Mount.Mountpoint) {
		return fmt.Errorf("mount mountpoint %q must be absolute", c.Mount.Mountpoint)
	}
	if c.Mount.Device != "" && !strings.HasPrefix(c.Mount.Device, "/dev/") {
		return fmt.Errorf("mount device %q must be under /dev", c.Mount.Device)
	}
	if c.Samba.TemplateSHA256 != "" && len(c.Samba.TemplateSHA256) != 64 {
		return fmt.Errorf("samba template_sha256 must be a hex sha-256 digest")
	}
	return nil
}

func validUsername(s string) bool {
	if s == "" || len(s) > 32 {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r == '_':
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return false
		}
	}
	return true
}
