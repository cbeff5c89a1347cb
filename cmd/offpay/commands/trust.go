package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"offpay/internal/crypto"
	"offpay/internal/domain"
	"offpay/internal/store"
)

// trust <device> <public-key>: pin a peer's signing key.
func trustCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "trust <device-id> <public-key-hex>",
		Short: "Pin a counterpart device's signing key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pub domain.Ed25519Public
			if err := pub.UnmarshalText([]byte(args[1])); err != nil {
				return fmt.Errorf("public key: %w", err)
			}
			peer := domain.Peer{
				DeviceID:  domain.DeviceID(args[0]),
				Name:      name,
				PublicKey: pub,
				AddedAt:   time.Now().UTC(),
			}
			if err := store.NewPeerFileStore(cfg.Home).SavePeer(peer); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Trusted %s (fingerprint %s)\n", peer.DeviceID, crypto.Fingerprint(pub))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name for the peer")
	return cmd
}

func peersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List trusted peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			peers, err := store.NewPeerFileStore(cfg.Home).ListPeers()
			if err != nil {
				return err
			}
			for _, p := range peers {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", p.DeviceID, crypto.Fingerprint(p.PublicKey), p.Name)
			}
			return nil
		},
	}
}
