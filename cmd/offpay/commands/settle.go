package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"offpay/internal/app"
	"offpay/internal/domain"
	"offpay/internal/services/queue"
)

func settleCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Summarise balances per peer with settlement suggestions and conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			txs := a.Ledger.All()
			sum := a.Settlement.CalculateSettlement(txs)
			suggestions := a.Settlement.SuggestSettlements(sum)
			conflicts := a.Settlement.DetectConflicts(txs)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"summary":     sum,
					"suggestions": suggestions,
					"conflicts":   conflicts,
				})
			}
			fmt.Fprintf(out, "Sent %s, received %s, net %s over %d transactions\n",
				sum.TotalSent, sum.TotalReceived, sum.NetBalance, sum.TransactionCount)
			for _, p := range sum.Peers {
				fmt.Fprintf(out, "  %-12s sent %10s  received %10s  net %10s\n", p.DeviceID, p.TotalSent, p.TotalReceived, p.NetBalance)
			}
			for _, s := range suggestions {
				fmt.Fprintf(out, "Suggest: %s\n", s.Reason)
			}
			for _, c := range conflicts {
				fmt.Fprintf(out, "Conflict [%s] %s: %s (%s)\n", c.Kind, c.TransactionID, c.Issue, c.Resolution)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// reconcile: compare the ledger with a peer export or with the backend.
func reconcileCmd() *cobra.Command {
	var file string
	var useBackend bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare the ledger with a peer's export (--file) or the backend (--backend)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == !useBackend {
				return errors.New("exactly one of --file or --backend is required")
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			local := a.Ledger.All()
			var remote []domain.OfflineTransaction
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				remote, err = queue.ReadExport(f)
				_ = f.Close()
				if err != nil {
					return err
				}
			} else {
				if a.Backend == nil {
					return app.ErrNoBackend
				}
				for _, tx := range local {
					r, err := a.Backend.Get(cmd.Context(), tx.ID)
					if errors.Is(err, domain.ErrNotFound) {
						continue
					}
					if err != nil {
						return err
					}
					remote = append(remote, r)
				}
			}

			rec := a.Settlement.ReconcileTransactions(local, remote)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Matching %d, local only %d, remote only %d, conflicting %d\n",
				len(rec.Matching), len(rec.LocalOnly), len(rec.RemoteOnly), len(rec.Conflicting))
			for _, c := range rec.Conflicting {
				fmt.Fprintf(out, "  %s: %s\n", c.Local.ID, c.Issue)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "peer export written by `offpay queue export`")
	cmd.Flags().BoolVar(&useBackend, "backend", false, "compare against the backend")
	return cmd
}
