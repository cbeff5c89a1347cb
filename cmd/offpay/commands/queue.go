package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"offpay/internal/app"
	"offpay/internal/domain"
)

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the offline ledger",
	}
	cmd.AddCommand(queueListCmd(), queueStatsCmd(), queueExportCmd(), queueImportCmd(), queueRetryCmd(), queueCleanupCmd())
	return cmd
}

func queueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			for _, tx := range a.Ledger.All() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s %10s %s  %-8s %-11s %-11s attempts=%d\n",
					tx.Timestamp.Local().Format(time.DateTime), tx.Type, tx.Amount, tx.Currency,
					tx.CounterpartDeviceID, tx.Status, tx.SyncStatus, tx.SyncAttempts)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Balance: %s\n", a.Ledger.Balance())
			return nil
		},
	}
}

func queueStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue and sync statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			st := a.Ledger.Stats()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Total:     %d\nPending:   %d\nSyncing:   %d\nSynced:    %d\nFailed:    %d\nConflicts: %d\nAmount:    %s\n",
				st.Total, st.Pending, st.Syncing, st.Synced, st.Failed, st.Conflicts, st.TotalAmount)
			if !st.OldestPending.IsZero() {
				fmt.Fprintf(out, "Oldest pending: %s\n", st.OldestPending.Local().Format(time.DateTime))
			}
			return nil
		},
	}
}

func queueExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write the ledger to a compressed export file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			f, err := os.OpenFile(args[0], os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return err
			}
			if err := a.Ledger.ExportQueue(f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d entries to %s\n", len(a.Ledger.All()), args[0])
			return nil
		},
	}
}

func queueImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Merge an export file into the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			res, err := a.Ledger.ImportQueue(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %d, skipped %d, rejected %d\n", res.Added, res.Skipped, res.Rejected)
			return nil
		},
	}
}

func queueRetryCmd() *cobra.Command {
	var (
		conflicts bool
		policy    string
	)
	cmd := &cobra.Command{
		Use:   "retry [transaction-id]",
		Short: "Reset failed entries and sync them again",
		Long: "Reset failed entries and sync them again. With --conflicts, entries parked in\n" +
			"CONFLICT are resubmitted instead and a renewed conflict is settled with --policy.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 && !conflicts {
				return fmt.Errorf("a transaction id needs --conflicts")
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Sync == nil {
				return app.ErrNoBackend
			}
			a.CheckOnline(cmd.Context())

			var res domain.SyncResult
			switch p := domain.ConflictPolicy(strings.ToUpper(policy)); {
			case !conflicts:
				res, err = a.Sync.RetryFailedTransactions(cmd.Context())
			case len(args) == 1:
				res, err = a.Sync.ResolveConflict(cmd.Context(), args[0], p)
			default:
				res, err = a.Sync.ResolveConflicts(cmd.Context(), p)
			}
			printSync(cmd, res)
			return err
		},
	}
	cmd.Flags().BoolVar(&conflicts, "conflicts", false, "resubmit entries parked in CONFLICT")
	cmd.Flags().StringVar(&policy, "policy", "USE_LOCAL", "how a renewed conflict is settled: USE_LOCAL, USE_SERVER or MERGE")
	return cmd
}

func queueCleanupCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove synced entries older than --older-than",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			n, err := a.Ledger.ClearSynced(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d synced entries\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "minimum age of removed entries")
	return cmd
}
