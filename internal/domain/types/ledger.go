package types

import (
	"bytes"
	"time"
)

// Direction tells whether a ledger entry moved value out of or into the device.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// TxStatus is the local lifecycle state of a ledger entry.
type TxStatus string

const (
	TxPending     TxStatus = "PENDING"
	TxSigned      TxStatus = "SIGNED"
	TxTransmitted TxStatus = "TRANSMITTED"
	TxConfirmed   TxStatus = "CONFIRMED"
	TxFailed      TxStatus = "FAILED"
)

// SyncStatus is the backend reconciliation state of a ledger entry.
type SyncStatus string

const (
	SyncNotSynced SyncStatus = "NOT_SYNCED"
	SyncSyncing   SyncStatus = "SYNCING"
	SyncSynced    SyncStatus = "SYNCED"
	SyncFailed    SyncStatus = "SYNC_FAILED"
	SyncConflict  SyncStatus = "CONFLICT"
)

// IsValid reports whether s is a known sync status.
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncNotSynced, SyncSyncing, SyncSynced, SyncFailed, SyncConflict:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a transition from s to next is allowed.
// Moving back to NOT_SYNCED is a reset (restart recovery or manual retry).
func (s SyncStatus) CanTransitionTo(next SyncStatus) bool {
	switch s {
	case SyncNotSynced:
		return next == SyncSyncing
	case SyncSyncing:
		return next == SyncSynced || next == SyncFailed || next == SyncConflict || next == SyncNotSynced
	case SyncFailed:
		return next == SyncSyncing || next == SyncNotSynced
	case SyncConflict:
		return next == SyncNotSynced || next == SyncSynced
	default:
		return false
	}
}

// String returns the string form of the status.
func (s SyncStatus) String() string { return string(s) }

// Signatures holds the sender and, once confirmed, the receiver signature.
type Signatures struct {
	Sender   []byte `json:"sender"`
	Receiver []byte `json:"receiver,omitempty"`
}

// BalanceSnapshot is the local balance around a ledger entry.
type BalanceSnapshot struct {
	Before Amount `json:"before"`
	After  Amount `json:"after"`
}

// OfflineTransaction is a durable local ledger entry.
type OfflineTransaction struct {
	ID                  string          `json:"id"`
	RequestID           string          `json:"request_id,omitempty"`
	Type                Direction       `json:"type"`
	Amount              Amount          `json:"amount"`
	Currency            Currency        `json:"currency"`
	CounterpartDeviceID DeviceID        `json:"counterpart_device_id"`
	Memo                string          `json:"memo,omitempty"`
	Timestamp           time.Time       `json:"timestamp"`
	Status              TxStatus        `json:"status"`
	Signatures          Signatures      `json:"signatures"`
	SyncStatus          SyncStatus      `json:"sync_status"`
	SyncAttempts        int             `json:"sync_attempts"`
	LastSyncAttempt     time.Time       `json:"last_sync_attempt,omitzero"`
	SyncedAt            time.Time       `json:"synced_at,omitzero"`
	ServerID            string          `json:"server_id,omitempty"`
	Nonce               string          `json:"nonce"`
	Balance             BalanceSnapshot `json:"balance"`
}

// Clone returns a deep copy of tx.
func (tx OfflineTransaction) Clone() OfflineTransaction {
	tx.Signatures.Sender = bytes.Clone(tx.Signatures.Sender)
	tx.Signatures.Receiver = bytes.Clone(tx.Signatures.Receiver)
	return tx
}

// SignedDelta is the effect of the entry on the local balance.
func (tx OfflineTransaction) SignedDelta() Amount {
	if tx.Type == DirectionSent {
		return -tx.Amount
	}
	return tx.Amount
}

// BalanceConsistent reports whether Balance.After follows from Balance.Before.
func (tx OfflineTransaction) BalanceConsistent() bool {
	return tx.Balance.After == tx.Balance.Before+tx.SignedDelta()
}
