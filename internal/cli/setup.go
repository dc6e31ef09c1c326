package cli

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/FainiDenis/rpi-setup/internal/config"
	"github.com/FainiDenis/rpi-setup/internal/provision"
	"github.com/FainiDenis/rpi-setup/internal/steps"
)

func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Provision the host: identity, packages, Docker, Cockpit, firewall",
		Long: `Runs the full provisioning sequence: hostname and /etc/hosts, admin
account rename, sshd hardening, base packages, Docker with Portainer,
Cockpit with optional plugins, the configured remote-access agent and
the UFW baseline.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := requirePrivilege(cfg); err != nil {
				return err
			}
			if err := confirm(cfg, "Provision this host now?"); err != nil {
				return err
			}
			env := provision.NewEnv(cfg)
			runner := &steps.Runner{DryRun: cfg.DryRun}
			return runner.Run(cmd.Context(), env.SetupSequence())
		},
	}

	cmd.Flags().String("hostname", "", "static hostname to set")
	cmd.Flags().String("old-user", "", "stock account to rename (default pi)")
	cmd.Flags().String("new-user", "", "admin account name after rename")
	cmd.Flags().String("remote-access", "", "remote access agent: tailscale or cloudflared")
	_ = viper.BindPFlag("hostname", cmd.Flags().Lookup("hostname"))
	_ = viper.BindPFlag("old_user", cmd.Flags().Lookup("old-user"))
	_ = viper.BindPFlag("new_user", cmd.Flags().Lookup("new-user"))
	_ = viper.BindPFlag("remote_access", cmd.Flags().Lookup("remote-access"))

	return cmd
}

// requirePrivilege enforces root except for dry runs, which only probe.
func requirePrivilege(cfg *config.Config) error {
	if cfg.DryRun {
		return nil
	}
	return provision.RequireRoot()
}

// confirm asks before a mutating run unless --assume-yes or --dry-run.
func confirm(cfg *config.Config, question string) error {
	if cfg.AssumeYes || cfg.DryRun {
		return nil
	}
	ok := false
	if err := survey.AskOne(&survey.Confirm{Message: question, Default: false}, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cancelled")
	}
	return nil
}
