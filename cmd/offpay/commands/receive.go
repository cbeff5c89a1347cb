package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"offpay/internal/app"
	domaintypes "offpay/internal/domain/types"
)

// receive: answer incoming payment requests until one completes.
func receiveCmd() *cobra.Command {
	var (
		yes  bool
		loop bool
		wait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Wait for payment requests and accept them",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Relay == nil {
				return app.ErrNoRelay
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()

			answered := map[string]bool{}
			reported := map[string]bool{}
			return poll(ctx, a, func() (bool, error) {
				for _, sess := range a.Protocol.ListSessions() {
					if sess.Role != domaintypes.RoleReceiver {
						continue
					}
					switch {
					case sess.Status == domaintypes.SessionAwaitingResponse && !answered[sess.ID]:
						answered[sess.ID] = true
						accept := yes
						if !accept {
							q := fmt.Sprintf("Accept %s %s from %s (%s)?", sess.Amount, sess.Currency, sess.PeerDeviceID, sess.Memo)
							if accept, err = ask(cmd, q); err != nil {
								return false, err
							}
						}
						reason := ""
						if !accept {
							reason = "Declined"
						}
						if err := a.Protocol.SendPaymentResponse(ctx, sess.ID, accept, reason); err != nil {
							return false, err
						}
					case sess.Status == domaintypes.SessionAccepted && sess.TransactionID != "" && !a.Config.Protocol.AutoConfirm:
						if err := a.Protocol.SendPaymentConfirmation(ctx, sess.ID); err != nil {
							return false, err
						}
					case sess.Status == domaintypes.SessionCompleted && !reported[sess.ID]:
						reported[sess.ID] = true
						fmt.Fprintf(cmd.OutOrStdout(), "Received %s %s from %s (transaction %s). Balance: %s\n",
							sess.Amount, sess.Currency, sess.PeerDeviceID, sess.TransactionID, a.Ledger.Balance())
						if !loop {
							return true, nil
						}
					}
				}
				return false, nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "accept every request without asking")
	cmd.Flags().BoolVar(&loop, "loop", false, "keep receiving after the first payment")
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Minute, "how long to wait")
	return cmd
}
