package interfaces

import (
	"context"
	"time"

	domaintypes "offpay/internal/domain/types"
)

// IdentityService creates and loads the device identity.
type IdentityService interface {
	GenerateIdentity(passphrase string, device domaintypes.DeviceID, name string) (
		domaintypes.Identity,
		domaintypes.Fingerprint,
		error,
	)
	LoadIdentity(passphrase string) (domaintypes.Identity, error)
	FingerprintIdentity(passphrase string) (domaintypes.Fingerprint, error)
}

// Ledger is the part of the offline queue the payment protocol writes to.
type Ledger interface {
	AddTransaction(ctx context.Context, tx domaintypes.OfflineTransaction) error
	UpdateTransaction(
		ctx context.Context,
		id string,
		fn func(*domaintypes.OfflineTransaction) error,
	) (domaintypes.OfflineTransaction, error)
	GetTransaction(id string) (domaintypes.OfflineTransaction, bool)
	UsedNonces() domaintypes.NonceSet
	// Balance is the local balance implied by the ledger.
	Balance() domaintypes.Amount
}

// SyncLedger is the part of the offline queue the synchronizer drives.
type SyncLedger interface {
	Ledger
	GetPendingSyncTransactions() []domaintypes.OfflineTransaction
	GetFailedTransactions() []domaintypes.OfflineTransaction
	GetTransactionsBySyncStatus(status domaintypes.SyncStatus) []domaintypes.OfflineTransaction
	ShouldRetryTransaction(tx domaintypes.OfflineTransaction, now time.Time) (bool, string)
	MaxAttempts() int
	Stats() domaintypes.QueueStats
}
