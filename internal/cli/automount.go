package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/FainiDenis/rpi-setup/internal/creds"
	"github.com/FainiDenis/rpi-setup/internal/executor"
	"github.com/FainiDenis/rpi-setup/internal/luks"
	"github.com/FainiDenis/rpi-setup/internal/probe"
)

func newAutomountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "automount",
		Short: "Configure boot-time auto-mount for a LUKS-encrypted drive",
		Long: `Unlocks the encrypted device (prompting for the passphrase unless a
non-interactive credential source is configured), derives its LUKS and
filesystem UUIDs, appends the matching /etc/crypttab and /etc/fstab
entries, reloads systemd and mounts everything. Existing entries for
the same mapper name or mountpoint are left untouched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Mount.Device == "" {
				return fmt.Errorf("--device is required")
			}
			if err := requirePrivilege(cfg); err != nil {
				return err
			}

			exec := executor.System{}
			r := luks.NewResolver(exec, probe.New(exec), creds.FromConfig(cfg))
			r.Device = cfg.Mount.Device
			r.Mapper = cfg.Mount.Mapper
			r.Mountpoint = cfg.Mount.Mountpoint
			r.FSType = cfg.Mount.FSType

			if cfg.DryRun {
				color.Cyan("→ would unlock %s as %s", r.Device, r.Mapper)
				color.Cyan("→ would append a crypttab entry keyed on %q and an fstab entry keyed on %q", r.Mapper, r.Mountpoint)
				color.Cyan("→ would daemon-reload and mount -a")
				return nil
			}

			if err := r.Run(cmd.Context()); err != nil {
				return err
			}

			rep, err := r.Report()
			if err != nil {
				return err
			}
			color.Green("✓ %s mounted (%s free of %s)", rep.Mountpoint,
				formatBytes(rep.FreeBytes), formatBytes(rep.TotalBytes))
			for _, name := range rep.Entries {
				fmt.Println("  " + name)
			}
			return nil
		},
	}

	cmd.Flags().String("device", "", "encrypted block device, e.g. /dev/sda1")
	cmd.Flags().String("mapper", "", "device-mapper name for the unlocked volume")
	cmd.Flags().String("mountpoint", "", "where to mount the filesystem")
	cmd.Flags().String("fstype", "", "filesystem type (default ext4)")
	_ = viper.BindPFlag("mount.device", cmd.Flags().Lookup("device"))
	_ = viper.BindPFlag("mount.mapper", cmd.Flags().Lookup("mapper"))
	_ = viper.BindPFlag("mount.mountpoint", cmd.Flags().Lookup("mountpoint"))
	_ = viper.BindPFlag("mount.fstype", cmd.Flags().Lookup("fstype"))

	return cmd
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
