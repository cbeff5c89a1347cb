package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"offpay/internal/domain"
)

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push pending ledger entries to the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.SyncNow(cmd.Context())
			printSync(cmd, res)
			return err
		},
	}
}

func printSync(cmd *cobra.Command, res domain.SyncResult) {
	out := cmd.OutOrStdout()
	if res.Error != "" {
		fmt.Fprintf(out, "Sync: %s\n", res.Error)
		return
	}
	fmt.Fprintf(out, "Synced %d, failed %d, conflicts %d, skipped %d in %s\n",
		res.Synced, res.Failed, res.Conflicts, res.Skipped, res.Duration)
}
