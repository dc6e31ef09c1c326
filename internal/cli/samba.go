package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/FainiDenis/rpi-setup/internal/provision"
	"github.com/FainiDenis/rpi-setup/internal/steps"
)

func newSambaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "samba",
		Short: "Install Samba and export a share",
		Long: `Installs Samba, creates the share directory (mode 0775, owned by the
share user), deploys smb.conf from the embedded or a remote template,
sets the share user's Samba password, opens the firewall and restarts
smbd.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := requirePrivilege(cfg); err != nil {
				return err
			}
			env := provision.NewEnv(cfg)
			runner := &steps.Runner{DryRun: cfg.DryRun}
			return runner.Run(cmd.Context(), env.SambaSequence())
		},
	}

	cmd.Flags().String("share-name", "", "name of the exported share")
	cmd.Flags().String("share-path", "", "directory to export")
	cmd.Flags().String("share-user", "", "account allowed to use the share")
	cmd.Flags().String("template-url", "", "remote smb.conf template (HTTPS)")
	cmd.Flags().String("template-sha256", "", "expected checksum of the remote template")
	_ = viper.BindPFlag("samba.share_name", cmd.Flags().Lookup("share-name"))
	_ = viper.BindPFlag("samba.share_path", cmd.Flags().Lookup("share-path"))
	_ = viper.BindPFlag("samba.share_user", cmd.Flags().Lookup("share-user"))
	_ = viper.BindPFlag("samba.template_url", cmd.Flags().Lookup("template-url"))
	_ = viper.BindPFlag("samba.template_sha256", cmd.Flags().Lookup("template-sha256"))

	return cmd
}
