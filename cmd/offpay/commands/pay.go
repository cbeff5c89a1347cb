package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"offpay/internal/app"
	"offpay/internal/domain"
	domaintypes "offpay/internal/domain/types"
	"offpay/internal/services/protocol"
	"offpay/internal/services/validation"
)

// pay <device> <amount>: request, sign and transmit a payment over the relay.
func payCmd() *cobra.Command {
	var (
		memo string
		wait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "pay <device-id> <amount>",
		Short: "Pay a peer device over the relay",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := validation.ParseAmount(args[1])
			if err != nil {
				return err
			}
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

			peer, _, err := a.Peers.LoadPeer(domain.DeviceID(args[0]))
			if err != nil {
				return err
			}
			id, err := a.Protocol.SendPaymentRequest(ctx, protocol.RequestOptions{
				To:       domain.DeviceID(args[0]),
				ToName:   peer.Name,
				Amount:   amount,
				Currency: a.Config.Device.Currency,
				Memo:     memo,
				Balance:  a.Ledger.Balance(),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requested %s %s from %s (session %s)\n", amount, a.Config.Device.Currency, args[0], id)

			return poll(ctx, a, func() (bool, error) {
				sess, err := a.Protocol.GetSession(id)
				if err != nil {
					return false, err
				}
				switch sess.Status {
				case domaintypes.SessionAccepted:
					if sess.TransactionID == "" {
						tx, err := a.Protocol.CompletePayment(ctx, id)
						if err != nil {
							return false, err
						}
						fmt.Fprintf(cmd.OutOrStdout(), "Transaction %s sent, waiting for confirmation\n", tx.ID)
					}
					return false, nil
				case domaintypes.SessionCompleted:
					fmt.Fprintf(cmd.OutOrStdout(), "Payment complete. Balance: %s\n", a.Ledger.Balance())
					return true, nil
				case domaintypes.SessionRejected, domaintypes.SessionCancelled,
					domaintypes.SessionExpired, domaintypes.SessionFailed:
					return false, fmt.Errorf("payment %s: %s", sess.Status, sess.Error)
				}
				return false, nil
			})
		},
	}
	cmd.Flags().StringVar(&memo, "memo", "", "note attached to the payment")
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Minute, "how long to wait for the peer")
	return cmd
}

// poll drains the relay inbox and calls step until it reports done, fails,
// or ctx ends.
func poll(ctx context.Context, a *app.App, step func() (bool, error)) error {
	interval := a.Config.Relay.PollInterval
	if interval <= 0 {
		interval = protocol.DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := a.Protocol.DrainInbox(ctx, a.Relay); err != nil && ctx.Err() == nil {
			a.Log.Warn("inbox poll failed", zap.Error(err))
		}
		a.Protocol.SweepExpired(time.Now())
		done, err := step()
		if err != nil || done {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up waiting: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
