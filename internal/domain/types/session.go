package types

import "time"

// SessionStatus is the lifecycle state of a PaymentSession.
type SessionStatus string

const (
	SessionInitiated        SessionStatus = "INITIATED"
	SessionPending          SessionStatus = "PENDING"
	SessionAwaitingResponse SessionStatus = "AWAITING_RESPONSE"
	SessionAccepted         SessionStatus = "ACCEPTED"
	SessionRejected         SessionStatus = "REJECTED"
	SessionCompleted        SessionStatus = "COMPLETED"
	SessionFailed           SessionStatus = "FAILED"
	SessionExpired          SessionStatus = "EXPIRED"
	SessionCancelled        SessionStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionRejected, SessionCompleted, SessionFailed, SessionExpired, SessionCancelled:
		return true
	default:
		return false
	}
}

// String returns the string form of the status.
func (s SessionStatus) String() string { return string(s) }

// Role is the local device's side of a payment.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// PaymentSession tracks one request/response/transaction/confirmation
// handshake with a peer.
type PaymentSession struct {
	ID             string        `json:"id"`
	PeerDeviceID   DeviceID      `json:"peer_device_id"`
	PeerDeviceName string        `json:"peer_device_name,omitempty"`
	Role           Role          `json:"role"`
	Amount         Amount        `json:"amount"`
	Currency       Currency      `json:"currency"`
	Memo           string        `json:"memo,omitempty"`
	Status         SessionStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	RequestID      string        `json:"request_id,omitempty"`
	TransactionID  string        `json:"transaction_id,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// Expired reports whether the session has passed its deadline at now.
func (s PaymentSession) Expired(now time.Time) bool { return !now.Before(s.ExpiresAt) }
