package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"offpay/internal/app"
	"offpay/internal/crypto"
)

func fingerprintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print identity fingerprint and the command a peer runs to trust it",
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := readPassphrase(cmd)
			if err != nil {
				return err
			}
			id, err := app.NewIdentityService(cfg, logger).LoadIdentity(pass)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Device:      %s\n", id.DeviceID)
			fmt.Fprintf(out, "Fingerprint: %s\n", crypto.Fingerprint(id.EdPub))
			fmt.Fprintf(out, "Share:       offpay trust %s %s\n", id.DeviceID, hex.EncodeToString(id.EdPub.Slice()))
			return nil
		},
	}
	return cmd
}
