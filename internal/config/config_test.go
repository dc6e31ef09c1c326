package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "pi", cfg.OldUser)
	assert.Equal(t, CredPrompt, cfg.CredentialSource)
	assert.Equal(t, "encrypted", cfg.Mount.Mapper)
	assert.Equal(t, "/mnt/encrypted", cfg.Mount.Mountpoint)
	assert.Equal(t, "ext4", cfg.Mount.FSType)
	assert.Contains(t, cfg.Packages, "ufw")
}

func TestLoadFromEnvStyleKeys(t *testing.T) {
	v := viper.New()
	v.Set("hostname", "pihost")
	v.Set("new_user", "admin")
	v.Set("samba.share_path", "/srv/share")
	v.Set("mount.device", "/dev/sda1")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "pihost", cfg.Hostname)
	assert.Equal(t, "admin", cfg.NewUser)
	assert.Equal(t, "/srv/share", cfg.Samba.SharePath)
	assert.Equal(t, "/dev/sda1", cfg.Mount.Device)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"bad credential source", func(c *Config) { c.CredentialSource = "vault" }},
		{"file source without secret file", func(c *Config) { c.CredentialSource = CredFile }},
		{"bad remote access", func(c *Config) { c.RemoteAccess = "ngrok" }},
		{"uppercase username", func(c *Config) { c.NewUser = "Admin" }},
		{"username starting with digit", func(c *Config) { c.NewUser = "1admin" }},
		{"relative share path", func(c *Config) { c.Samba.SharePath = "share" }},
		{"relative mountpoint", func(c *Config) { c.Mount.Mountpoint = "mnt" }},
		{"device outside /dev", func(c *Config) { c.Mount.Device = "/tmp/sda1" }},
		{"short checksum", func(c *Config) { c.Samba.TemplateSHA256 = "abcd" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := viper.New()
			cfg, err := Load(v)
			require.NoError(t, err)
			tc.mut(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidUsername(t *testing.T) {
	assert.True(t, validUsername("pi"))
	assert.True(t, validUsername("media-admin"))
	assert.True(t, validUsername("_svc"))
	assert.False(t, validUsername(""))
	assert.False(t, validUsername("-lead"))
	assert.False(t, validUsername("name with space"))
}
