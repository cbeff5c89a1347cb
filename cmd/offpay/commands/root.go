package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"offpay/internal/app"
	"offpay/internal/config"
	"offpay/internal/domain"
	"offpay/internal/logging"
)

var (
	configPath string
	passphrase string
	confirm    bool

	cfg    config.Config
	logger *zap.Logger
)

func Execute() error {
	return newRoot().Execute()
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:          "offpay",
		Short:        "Offline device-to-device payments",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(); err != nil {
				return err
			}
			c, err := config.Load(cmd.Flags(), configPath)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(c.Home, 0o700); err != nil {
				return err
			}
			l, err := logging.New(c.Log)
			if err != nil {
				return err
			}
			cfg, logger = c, l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.String("home", "", "data dir (default ~/.offpay)")
	pf.StringVar(&configPath, "config", "", "config file (default: search for offpay.yaml)")
	pf.StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the identity (or OFFPAY_PASSPHRASE)")
	pf.String("relay.url", "", "relay base URL (e.g. http://127.0.0.1:8080)")
	pf.String("log.level", "info", "log level")
	pf.BoolVar(&confirm, "confirm", false, "ask before every signature")

	root.AddCommand(
		initCmd(), fingerprintCmd(), configCmd(),
		trustCmd(), peersCmd(),
		payCmd(), receiveCmd(),
		queueCmd(), syncCmd(), settleCmd(), reconcileCmd(),
		startCmd(),
	)
	return root
}

// readPassphrase returns the passphrase from the flag, the environment or
// an interactive prompt.
func readPassphrase(cmd *cobra.Command) (string, error) {
	if passphrase != "" {
		return passphrase, nil
	}
	if p := os.Getenv("OFFPAY_PASSPHRASE"); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("passphrase required (-p)")
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Passphrase: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", err
	}
	passphrase = string(b)
	return passphrase, nil
}

// openApp builds the device for a subcommand. The caller closes it.
func openApp(cmd *cobra.Command) (*app.App, error) {
	pass, err := readPassphrase(cmd)
	if err != nil {
		return nil, err
	}
	opts := app.Options{Passphrase: pass, Logger: logger}
	if confirm {
		opts.Approver = promptApprover(cmd)
	}
	a, err := app.New(cmd.Context(), cfg, opts)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w (run `offpay init` first)", err)
	}
	return a, err
}

func promptApprover(cmd *cobra.Command) func(ctx context.Context, keyID domain.KeyID, payload []byte) error {
	return func(ctx context.Context, keyID domain.KeyID, payload []byte) error {
		ok, err := ask(cmd, fmt.Sprintf("Sign %d bytes with %s?", len(payload), keyID))
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("signature declined")
		}
		return nil
	}
}

// ask prints question and reads a y/N answer from stdin.
func ask(cmd *cobra.Command, question string) (bool, error) {
	fmt.Fprintf(cmd.ErrOrStderr(), "%s [y/N] ", question)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
