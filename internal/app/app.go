package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"offpay/internal/backend"
	"offpay/internal/config"
	"offpay/internal/crypto"
	"offpay/internal/domain"
	"offpay/internal/netstatus"
	"offpay/internal/services/protocol"
	"offpay/internal/services/queue"
	"offpay/internal/services/settlement"
	syncsvc "offpay/internal/services/sync"
	"offpay/internal/services/transaction"
	"offpay/internal/services/validation"
	"offpay/internal/store"
)

// App is the wired device: its identity, ledger and services.
type App struct {
	Config   config.Config
	Log      *zap.Logger
	Identity domain.Identity

	Peers *store.PeerFileStore
	Store store.BlobStore

	Ledger       *queue.Queue
	Rules        *validation.Service
	Transactions *transaction.Service
	Protocol     *protocol.Service
	// Sync is nil without a backend.
	Sync       *syncsvc.Service
	Settlement *settlement.Service
	// Backend is nil unless the HTTP backend client was built from config.
	Backend *backend.Client
	// Relay is nil without a relay.
	Relay   Relay
	Network domain.NetworkMonitor

	checker *netstatus.Checker
	signer  *crypto.Signer
}

// Self is the local device id.
func (a *App) Self() domain.DeviceID { return a.Identity.DeviceID }

// CheckOnline checks connectivity once when a checker is configured and
// reports the current state.
func (a *App) CheckOnline(ctx context.Context) bool {
	if a.checker != nil {
		return a.checker.Check(ctx)
	}
	return a.Network.Online()
}

// Run drives every background loop until ctx is done: the expiry sweep,
// the relay inbox, the connectivity checker and the synchronizer.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Protocol.Run(ctx)
		return nil
	})
	if a.Relay != nil {
		g.Go(func() error {
			return a.Protocol.Listen(ctx, a.Relay, a.Config.Relay.PollInterval)
		})
	}
	if a.checker != nil {
		g.Go(func() error {
			a.checker.Run(ctx)
			return nil
		})
	}
	if a.Sync != nil {
		g.Go(func() error { return a.Sync.Run(ctx) })
	}
	a.Log.Info("device running",
		zap.Bool("relay", a.Relay != nil), zap.Bool("backend", a.Sync != nil))

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// SyncNow runs one sync cycle.
func (a *App) SyncNow(ctx context.Context) (domain.SyncResult, error) {
	if a.Sync == nil {
		return domain.SyncResult{}, ErrNoBackend
	}
	a.CheckOnline(ctx)
	return a.Sync.SyncNow(ctx)
}

// Close wipes signing keys and releases the store.
func (a *App) Close() error {
	a.signer.Close()
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("close storage: %w", err)
	}
	return nil
}
