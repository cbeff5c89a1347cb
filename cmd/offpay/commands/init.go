package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"offpay/internal/app"
	"offpay/internal/config"
)

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate the device identity and write offpay.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := readPassphrase(cmd)
			if err != nil {
				return err
			}
			id, fp, err := app.NewIdentityService(cfg, logger).GenerateIdentity(pass, cfg.Device.ID, cfg.Device.Name)
			if err != nil {
				return err
			}
			cfg.Device.ID = id.DeviceID
			cfg.Device.Name = id.Name

			path := configPath
			if path == "" {
				path = cfg.Path()
			}
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				if err := config.WriteFile(&cfg, path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identity created.\nDevice:      %s\nFingerprint: %s\n", id.DeviceID, fp)
			return nil
		},
	}
	cmd.Flags().String("device.id", "", "device id (default: random)")
	cmd.Flags().String("device.name", "", "display name shown to peers")
	return cmd
}
