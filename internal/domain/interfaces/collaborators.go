package interfaces

import (
	"context"

	domaintypes "offpay/internal/domain/types"
)

// Transport carries envelopes between devices.
type Transport interface {
	// Send delivers env to env.To; a missed deadline surfaces as
	// domain.ErrTransportTimeout.
	Send(ctx context.Context, env domaintypes.Envelope) error
}

// Inbox fetches envelopes addressed to a device.
type Inbox interface {
	Fetch(ctx context.Context, device domaintypes.DeviceID, limit int) ([]domaintypes.Envelope, error)
	Ack(ctx context.Context, device domaintypes.DeviceID, count int) error
}

// Signer produces and checks signatures. Sign may block on user presence
// and must honour ctx cancellation.
type Signer interface {
	Sign(ctx context.Context, keyID domaintypes.KeyID, payload []byte) ([]byte, error)
	Verify(pub domaintypes.Ed25519Public, payload, sig []byte) bool
	PublicKey(keyID domaintypes.KeyID) (domaintypes.Ed25519Public, error)
}

// BlobStore is the key/value persistence contract. GetBlob returns nil and
// no error for a missing key.
type BlobStore interface {
	GetBlob(ctx context.Context, key string) ([]byte, error)
	SetBlob(ctx context.Context, key string, value []byte) error
}

// NetworkMonitor reports connectivity and notifies on transitions.
type NetworkMonitor interface {
	Online() bool
	// Subscribe registers fn for connectivity transitions and returns an
	// unsubscribe func.
	Subscribe(fn func(online bool)) func()
}

// Backend is the system of record transactions are synced to.
type Backend interface {
	Submit(
		ctx context.Context,
		tx domaintypes.OfflineTransaction,
		opts domaintypes.SubmitOptions,
	) (domaintypes.SubmitResult, error)
}
