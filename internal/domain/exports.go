package domain

import (
	interfaces "offpay/internal/domain/interfaces"
	types "offpay/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	DeviceID             = types.DeviceID
	Fingerprint          = types.Fingerprint
	KeyID                = types.KeyID
	Currency             = types.Currency
	Amount               = types.Amount
	NonceSet             = types.NonceSet
	Ed25519Public        = types.Ed25519Public
	Ed25519Private       = types.Ed25519Private
	Identity             = types.Identity
	Peer                 = types.Peer
	SessionStatus        = types.SessionStatus
	Role                 = types.Role
	PaymentSession       = types.PaymentSession
	MessageKind          = types.MessageKind
	Message              = types.Message
	Seal                 = types.Seal
	PaymentRequest       = types.PaymentRequest
	PaymentResponse      = types.PaymentResponse
	PaymentTransaction   = types.PaymentTransaction
	PaymentConfirmation  = types.PaymentConfirmation
	PaymentCancellation  = types.PaymentCancellation
	Envelope             = types.Envelope
	Direction            = types.Direction
	TxStatus             = types.TxStatus
	SyncStatus           = types.SyncStatus
	Signatures           = types.Signatures
	BalanceSnapshot      = types.BalanceSnapshot
	OfflineTransaction   = types.OfflineTransaction
	ConflictPolicy       = types.ConflictPolicy
	SubmitOptions        = types.SubmitOptions
	SubmitResult         = types.SubmitResult
	SyncResult           = types.SyncResult
	SyncStats            = types.SyncStats
	QueueStats           = types.QueueStats
	PeerSettlement       = types.PeerSettlement
	SettlementSummary    = types.SettlementSummary
	SettlementSuggestion = types.SettlementSuggestion
	SettlementConflict   = types.SettlementConflict
	Reconciliation       = types.Reconciliation
	ReconcileConflict    = types.ReconcileConflict
	ValidationResult     = types.ValidationResult
	BatchItem            = types.BatchItem
	BatchResult          = types.BatchResult
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	Transport       = interfaces.Transport
	Inbox           = interfaces.Inbox
	Signer          = interfaces.Signer
	BlobStore       = interfaces.BlobStore
	NetworkMonitor  = interfaces.NetworkMonitor
	Backend         = interfaces.Backend
	IdentityStore   = interfaces.IdentityStore
	PeerStore       = interfaces.PeerStore
	IdentityService = interfaces.IdentityService
	Ledger          = interfaces.Ledger
	SyncLedger      = interfaces.SyncLedger
)

// EncodeMessage wraps a message in a routed envelope.
var EncodeMessage = types.EncodeMessage
