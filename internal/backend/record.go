package backend

import (
	"bytes"
	"slices"
	"time"

	"offpay/internal/domain"
	domaintypes "offpay/internal/domain/types"
)

// Record is the backend's device-neutral copy of a transaction.
type Record struct {
	ID          string            `json:"id"`
	ServerID    string            `json:"server_id"`
	RequestID   string            `json:"request_id,omitempty"`
	From        domain.DeviceID   `json:"from"`
	To          domain.DeviceID   `json:"to"`
	Amount      domain.Amount     `json:"amount"`
	Currency    domain.Currency   `json:"currency"`
	Memo        string            `json:"memo,omitempty"`
	Nonce       string            `json:"nonce"`
	Timestamp   time.Time         `json:"timestamp"`
	SenderSig   []byte            `json:"sender_sig,omitempty"`
	ReceiverSig []byte            `json:"receiver_sig,omitempty"`
	Confirmed   bool              `json:"confirmed"`
	SubmittedBy []domain.DeviceID `json:"submitted_by"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// recordFrom converts an entry submitted by device into a Record.
func recordFrom(device domain.DeviceID, tx domain.OfflineTransaction) Record {
	r := Record{
		ID:          tx.ID,
		RequestID:   tx.RequestID,
		Amount:      tx.Amount,
		Currency:    tx.Currency,
		Memo:        tx.Memo,
		Nonce:       tx.Nonce,
		Timestamp:   tx.Timestamp.UTC(),
		SenderSig:   bytes.Clone(tx.Signatures.Sender),
		ReceiverSig: bytes.Clone(tx.Signatures.Receiver),
		Confirmed:   tx.Status == domaintypes.TxConfirmed,
	}
	if tx.Type == domaintypes.DirectionSent {
		r.From, r.To = device, tx.CounterpartDeviceID
	} else {
		r.From, r.To = tx.CounterpartDeviceID, device
	}
	return r
}

// sameTransfer reports whether r and o describe the same movement of value.
func (r Record) sameTransfer(o Record) bool {
	return r.From == o.From && r.To == o.To &&
		r.Amount == o.Amount && r.Currency == o.Currency && r.Nonce == o.Nonce
}

// absorb fills signatures and confirmation from o.
func (r *Record) absorb(o Record) {
	if len(r.SenderSig) == 0 {
		r.SenderSig = bytes.Clone(o.SenderSig)
	}
	if len(r.ReceiverSig) == 0 {
		r.ReceiverSig = bytes.Clone(o.ReceiverSig)
	}
	r.Confirmed = r.Confirmed || o.Confirmed
}

func (r *Record) addSubmitter(device domain.DeviceID) {
	if !slices.Contains(r.SubmittedBy, device) {
		r.SubmittedBy = append(r.SubmittedBy, device)
	}
}

// involves reports whether device is a party to r.
func (r Record) involves(device domain.DeviceID) bool {
	return r.From == device || r.To == device
}

// View projects r into a ledger entry as device would record it.
func (r Record) View(device domain.DeviceID) domain.OfflineTransaction {
	tx := domain.OfflineTransaction{
		ID:         r.ID,
		RequestID:  r.RequestID,
		Amount:     r.Amount,
		Currency:   r.Currency,
		Memo:       r.Memo,
		Nonce:      r.Nonce,
		Timestamp:  r.Timestamp,
		Signatures: domain.Signatures{Sender: bytes.Clone(r.SenderSig), Receiver: bytes.Clone(r.ReceiverSig)},
		Status:     domaintypes.TxTransmitted,
		SyncStatus: domaintypes.SyncSynced,
		SyncedAt:   r.UpdatedAt,
		ServerID:   r.ServerID,
	}
	if r.Confirmed {
		tx.Status = domaintypes.TxConfirmed
	}
	if r.From == device {
		tx.Type = domaintypes.DirectionSent
		tx.CounterpartDeviceID = r.To
	} else {
		tx.Type = domaintypes.DirectionReceived
		tx.CounterpartDeviceID = r.From
	}
	return tx
}
