package types

import "time"

// PeerSettlement is the confirmed activity with one counterpart.
type PeerSettlement struct {
	DeviceID         DeviceID  `json:"device_id"`
	TotalSent        Amount    `json:"total_sent"`
	TotalReceived    Amount    `json:"total_received"`
	NetBalance       Amount    `json:"net_balance"`
	TransactionCount int       `json:"transaction_count"`
	LastActivity     time.Time `json:"last_activity"`
}

// SettlementSummary aggregates PeerSettlements over a ledger snapshot.
type SettlementSummary struct {
	Peers            []PeerSettlement `json:"peers"`
	TotalSent        Amount           `json:"total_sent"`
	TotalReceived    Amount           `json:"total_received"`
	NetBalance       Amount           `json:"net_balance"`
	TransactionCount int              `json:"transaction_count"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

// SettlementDirection says who pays whom.
type SettlementDirection string

const (
	// PeerPaysLocal means the counterpart owes the local device.
	PeerPaysLocal SettlementDirection = "peer_pays_local"
	// LocalPaysPeer means the local device owes the counterpart.
	LocalPaysPeer SettlementDirection = "local_pays_peer"
)

// SettlementSuggestion proposes a transfer that clears a material imbalance.
type SettlementSuggestion struct {
	DeviceID  DeviceID            `json:"device_id"`
	Direction SettlementDirection `json:"direction"`
	Amount    Amount              `json:"amount"`
	Reason    string              `json:"reason"`
}

// ConflictKind classifies a SettlementConflict.
type ConflictKind string

const (
	ConflictDuplicateNonce  ConflictKind = "duplicate_nonce"
	ConflictTimestampOrder  ConflictKind = "timestamp_order"
	ConflictNegativeBalance ConflictKind = "negative_balance"
)

// SettlementConflict is an advisory anomaly found in a ledger snapshot.
type SettlementConflict struct {
	Kind          ConflictKind `json:"kind"`
	TransactionID string       `json:"transaction_id"`
	DeviceID      DeviceID     `json:"device_id"`
	Issue         string       `json:"issue"`
	Resolution    string       `json:"resolution"`
}

// Reconciliation partitions two ledgers by transaction id.
type Reconciliation struct {
	Matching    []OfflineTransaction `json:"matching"`
	LocalOnly   []OfflineTransaction `json:"local_only"`
	RemoteOnly  []OfflineTransaction `json:"remote_only"`
	Conflicting []ReconcileConflict  `json:"conflicting"`
}

// ReconcileConflict pairs two versions of the same transaction id.
type ReconcileConflict struct {
	Local  OfflineTransaction `json:"local"`
	Remote OfflineTransaction `json:"remote"`
	Issue  string             `json:"issue"`
}
