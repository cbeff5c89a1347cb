package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"offpay/internal/backend"
	"offpay/internal/config"
	"offpay/internal/crypto"
	"offpay/internal/domain"
	"offpay/internal/logging"
	"offpay/internal/netstatus"
	"offpay/internal/services/identity"
	"offpay/internal/services/protocol"
	"offpay/internal/services/queue"
	"offpay/internal/services/settlement"
	syncsvc "offpay/internal/services/sync"
	"offpay/internal/services/transaction"
	"offpay/internal/services/validation"
	"offpay/internal/store"
	"offpay/internal/transport"
)

// ErrNoRelay is returned by sends when no relay is configured.
var ErrNoRelay = errors.New("no relay configured (set relay.url)")

// ErrNoBackend is returned by sync operations when no backend is configured.
var ErrNoBackend = errors.New("no backend configured (set backend.url)")

// NewIdentityService returns the identity service over <home>.
func NewIdentityService(cfg config.Config, log *zap.Logger) *identity.Service {
	return identity.New(store.NewIdentityFileStore(cfg.Home), identity.WithLogger(log))
}

// New constructs the dependency graph from cfg. The identity must already
// exist under cfg.Home and the ledger is loaded before New returns.
func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	log := logging.OrNop(opts.Logger)

	id, err := NewIdentityService(cfg, log).LoadIdentity(opts.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if cfg.Device.ID != "" && cfg.Device.ID != id.DeviceID {
		return nil, fmt.Errorf("device.id %s does not match identity %s", cfg.Device.ID, id.DeviceID)
	}
	name := cfg.Device.Name
	if name == "" {
		name = id.Name
	}
	log = log.With(zap.String("device", string(id.DeviceID)))

	bs, err := store.Open(ctx, cfg.Storage, cfg.Home, opts.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	// Ledger
	ledger := queue.New(bs,
		queue.WithOpeningBalance(cfg.Device.OpeningBalance),
		queue.WithRetryPolicy(cfg.Retry),
		queue.WithLogger(log),
	)
	if err := ledger.Load(ctx); err != nil {
		_ = bs.Close()
		return nil, err
	}

	// Ensure an HTTP client is available for outbound calls
	httpClient := opts.HTTP
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	relay := opts.Relay
	if relay == nil && cfg.Relay.URL != "" {
		relay = transport.NewHTTP(cfg.Relay.URL, httpClient)
	}

	var bk domain.Backend = opts.Backend
	var client *backend.Client
	if bk == nil && cfg.Backend.URL != "" {
		client, err = backend.NewClient(cfg.Backend, backend.WithClientLogger(log))
		if err != nil {
			_ = bs.Close()
			return nil, err
		}
		bk = client
	}

	network := opts.Network
	var checker *netstatus.Checker
	if network == nil {
		if u := cfg.HealthURL(); u != "" {
			checker = netstatus.NewChecker(u, cfg.Network.HealthInterval, netstatus.WithLogger(log))
			network = checker
		} else {
			network = netstatus.NewManual(true, log)
		}
	}

	signer := crypto.NewSigner([]domain.Identity{id}, crypto.WithApprover(opts.Approver))
	peers := store.NewPeerFileStore(cfg.Home)
	rules := validation.New(cfg.Validation)
	txs := transaction.New(id.DeviceID, signer, rules, transaction.WithLogger(log))

	var tr domain.Transport = noRelay{}
	if relay != nil {
		tr = relay
	}
	proto := protocol.New(id.DeviceID, cfg.Protocol, protocol.Deps{
		Transport:    tr,
		Signer:       signer,
		Ledger:       ledger,
		Transactions: txs,
		Rules:        rules,
		Peers:        peers,
	}, protocol.WithDeviceName(name), protocol.WithLogger(log))

	var syncer *syncsvc.Service
	if bk != nil {
		syncer = syncsvc.New(cfg.Sync, syncsvc.Deps{
			Ledger:  ledger,
			Backend: bk,
			Network: network,
			Rules:   rules,
		}, syncsvc.WithLogger(log))
	}

	return &App{
		Config:       cfg,
		Log:          log,
		Identity:     id,
		Peers:        peers,
		Store:        bs,
		Ledger:       ledger,
		Rules:        rules,
		Transactions: txs,
		Protocol:     proto,
		Sync:         syncer,
		Settlement:   settlement.New(cfg.Settlement, settlement.WithLogger(log)),
		Backend:      client,
		Relay:        relay,
		Network:      network,
		checker:      checker,
		signer:       signer,
	}, nil
}

type noRelay struct{}

func (noRelay) Send(context.Context, domain.Envelope) error { return ErrNoRelay }
