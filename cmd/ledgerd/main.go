package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"offpay/internal/backend"
	"offpay/internal/domain"
	"offpay/internal/logging"
	"offpay/internal/store"
	"offpay/internal/transport"
)

type serverConfig struct {
	Addr     string         `mapstructure:"addr"`
	Secret   string         `mapstructure:"secret"`
	TokenTTL time.Duration  `mapstructure:"token_ttl"`
	Relay    bool           `mapstructure:"relay"`
	Home     string         `mapstructure:"home"`
	Storage  store.Config   `mapstructure:"storage"`
	Log      logging.Config `mapstructure:"log"`
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ledgerd",
		Short:        "Reference backend and relay for offpay devices",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.String("secret", "", "HS256 signing secret (or LEDGERD_SECRET)")
	pf.Duration("token_ttl", backend.DefaultTokenTTL, "lifetime of issued tokens")
	root.AddCommand(serveCmd(), tokenCmd())
	return root
}

// loadConfig layers defaults, LEDGERD_* environment (after .env) and flags.
func loadConfig(cmd *cobra.Command) (serverConfig, error) {
	_ = godotenv.Load(".env")

	var c serverConfig
	v := viper.New()
	v.SetDefault("addr", ":8080")
	v.SetDefault("secret", "")
	v.SetDefault("token_ttl", backend.DefaultTokenTTL)
	v.SetDefault("relay", true)
	v.SetDefault("home", ".")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.dir", "")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.encrypt", false)
	v.SetDefault("storage.redis.addr", "127.0.0.1:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", "ledgerd:")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.AutomaticEnv()
	v.SetEnvPrefix("ledgerd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return c, err
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	if c.Secret == "" {
		return c, errors.New("a signing secret is required (--secret or LEDGERD_SECRET)")
	}
	return c, nil
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the backend API and relay mailbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			jwt, err := backend.NewJWTService(cfg.Secret, cfg.TokenTTL)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Storage has no passphrase here: records hold signatures, not keys.
			bs, err := store.Open(ctx, cfg.Storage, cfg.Home, "")
			if err != nil {
				return err
			}
			defer bs.Close()

			opts := []backend.ServerOption{backend.WithLogger(log), backend.WithStore(bs)}
			if cfg.Relay {
				opts = append(opts, backend.WithMailbox(transport.NewMailbox()))
			}
			srv := backend.NewServer(jwt, opts...)
			if err := srv.Load(ctx); err != nil {
				return err
			}

			hs := &http.Server{
				Addr:              cfg.Addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       120 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				log.Info("ledgerd listening",
					zap.String("addr", cfg.Addr), zap.String("storage", cfg.Storage.Driver), zap.Bool("relay", cfg.Relay))
				if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := hs.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("forced shutdown: %w", err)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.String("addr", ":8080", "listen address")
	f.Bool("relay", true, "serve the relay mailbox")
	f.String("home", ".", "base dir for file and sqlite storage")
	f.String("storage.driver", "memory", "file, sqlite, postgres, mysql, redis or memory")
	f.String("storage.dsn", "", "SQL connection string")
	return cmd
}

func tokenCmd() *cobra.Command {
	var device string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a device",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			jwt, err := backend.NewJWTService(cfg.Secret, cfg.TokenTTL)
			if err != nil {
				return err
			}
			tok, err := jwt.SignToken(domain.DeviceID(device))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "device id (token subject)")
	_ = cmd.MarkFlagRequired("device")
	return cmd
}
