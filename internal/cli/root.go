// Package cli wires the cobra command tree. Command implementations
// delegate to internal/provision and internal/luks.
package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/FainiDenis/rpi-setup/internal/config"
	"github.com/FainiDenis/rpi-setup/internal/logging"
)

// Version info (set by build)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var (
	cfgFile   string
	verbosity int
)

var rootCmd = &cobra.Command{
	Use:   "rpi-setup",
	Short: "Provision a single-board Linux home server",
	Long: `rpi-setup brings a Debian-based single-board computer to a declared
state: hostname, admin account, base packages, Docker with Portainer,
Cockpit, an optional remote-access agent, a Samba share and an
auto-mounted LUKS-encrypted drive.

Every step probes current state first and is skipped when already
satisfied, so runs are idempotent and safe to repeat.`,
	SilenceUsage: true,
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default /etc/rpi-setup.yaml)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (repeatable)")
	rootCmd.PersistentFlags().Bool("dry-run", false, "probe state and print the plan without applying")
	rootCmd.PersistentFlags().BoolP("assume-yes", "y", false, "skip confirmation prompts")
	rootCmd.PersistentFlags().String("credential-source", "", "where secrets come from: prompt, env or file")
	rootCmd.PersistentFlags().String("secret-file", "", "secret file for --credential-source=file")

	_ = viper.BindPFlag("dry_run", rootCmd.PersistentFlags().Lookup("dry-run"))
	_ = viper.BindPFlag("assume_yes", rootCmd.PersistentFlags().Lookup("assume-yes"))
	_ = viper.BindPFlag("credential_source", rootCmd.PersistentFlags().Lookup("credential-source"))
	_ = viper.BindPFlag("secret_file", rootCmd.PersistentFlags().Lookup("secret-file"))

	rootCmd.AddCommand(
		newSetupCmd(),
		newSambaCmd(),
		newAutomountCmd(),
		newVersionCmd(),
	)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("rpi-setup")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("RPI_SETUP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

// loadConfig sets up logging and returns the validated configuration.
func loadConfig() (*config.Config, error) {
	logging.Setup(verbosity)
	return config.Load(viper.GetViper())
}
