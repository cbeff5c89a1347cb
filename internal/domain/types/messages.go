package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MessageKind tags the payload carried by an Envelope.
type MessageKind string

const (
	KindRequest      MessageKind = "payment_request"
	KindResponse     MessageKind = "payment_response"
	KindTransaction  MessageKind = "payment_transaction"
	KindConfirmation MessageKind = "payment_confirmation"
	KindCancellation MessageKind = "payment_cancellation"
)

// Message is implemented by the five payment message kinds. Only types in
// this package satisfy it.
type Message interface {
	Kind() MessageKind
	// Route returns the sending and receiving devices.
	Route() (from, to DeviceID)
	// CanonicalBytes is the deterministic encoding covered by the signature.
	CanonicalBytes() []byte
	// Sealed exposes the signer key and signature for signing and checking.
	Sealed() *Seal
	isMessage()
}

// Seal carries the signer's public key and the signature over a message's
// canonical bytes.
type Seal struct {
	SignerKey Ed25519Public `json:"signer_key"`
	Signature []byte        `json:"signature,omitempty"`
}

// Sealed returns s.
func (s *Seal) Sealed() *Seal { return s }

// PaymentRequest asks a peer to accept a payment.
type PaymentRequest struct {
	ID        string    `json:"id"`
	From      DeviceID  `json:"from"`
	FromName  string    `json:"from_name,omitempty"`
	To        DeviceID  `json:"to"`
	Amount    Amount    `json:"amount"`
	Currency  Currency  `json:"currency"`
	Memo      string    `json:"memo,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	ExpiresAt time.Time `json:"expires_at"`
	Seal
}

// PaymentResponse accepts or rejects a PaymentRequest.
type PaymentResponse struct {
	RequestID string    `json:"request_id"`
	From      DeviceID  `json:"from"`
	To        DeviceID  `json:"to"`
	Accepted  bool      `json:"accepted"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seal
}

// PaymentTransaction transfers value for an accepted request.
type PaymentTransaction struct {
	ID            string    `json:"id"`
	RequestID     string    `json:"request_id"`
	From          DeviceID  `json:"from"`
	To            DeviceID  `json:"to"`
	Amount        Amount    `json:"amount"`
	Currency      Currency  `json:"currency"`
	Memo          string    `json:"memo,omitempty"`
	Nonce         string    `json:"nonce"`
	SenderBalance Amount    `json:"sender_balance"`
	Timestamp     time.Time `json:"timestamp"`
	Seal
}

// PaymentConfirmation acknowledges receipt of a PaymentTransaction.
type PaymentConfirmation struct {
	RequestID     string    `json:"request_id"`
	TransactionID string    `json:"transaction_id"`
	From          DeviceID  `json:"from"`
	To            DeviceID  `json:"to"`
	Timestamp     time.Time `json:"timestamp"`
	Seal
}

// PaymentCancellation aborts a session on the peer.
type PaymentCancellation struct {
	RequestID string    `json:"request_id"`
	From      DeviceID  `json:"from"`
	To        DeviceID  `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seal
}

func (*PaymentRequest) Kind() MessageKind      { return KindRequest }
func (*PaymentResponse) Kind() MessageKind     { return KindResponse }
func (*PaymentTransaction) Kind() MessageKind  { return KindTransaction }
func (*PaymentConfirmation) Kind() MessageKind { return KindConfirmation }
func (*PaymentCancellation) Kind() MessageKind { return KindCancellation }

func (m *PaymentRequest) Route() (DeviceID, DeviceID)      { return m.From, m.To }
func (m *PaymentResponse) Route() (DeviceID, DeviceID)     { return m.From, m.To }
func (m *PaymentTransaction) Route() (DeviceID, DeviceID)  { return m.From, m.To }
func (m *PaymentConfirmation) Route() (DeviceID, DeviceID) { return m.From, m.To }
func (m *PaymentCancellation) Route() (DeviceID, DeviceID) { return m.From, m.To }

func (*PaymentRequest) isMessage()      {}
func (*PaymentResponse) isMessage()     {}
func (*PaymentTransaction) isMessage()  {}
func (*PaymentConfirmation) isMessage() {}
func (*PaymentCancellation) isMessage() {}

func (m *PaymentRequest) CanonicalBytes() []byte {
	return canonical(KindRequest, m.ID, m.From.String(), m.To.String(),
		amountField(m.Amount), m.Currency.String(), m.Memo,
		millis(m.Timestamp), millis(m.ExpiresAt))
}

func (m *PaymentResponse) CanonicalBytes() []byte {
	return canonical(KindResponse, m.RequestID, m.From.String(), m.To.String(),
		strconv.FormatBool(m.Accepted), m.Reason, millis(m.Timestamp))
}

func (m *PaymentTransaction) CanonicalBytes() []byte {
	return canonical(KindTransaction, m.ID, m.RequestID, m.From.String(), m.To.String(),
		amountField(m.Amount), m.Currency.String(), m.Memo, m.Nonce,
		amountField(m.SenderBalance), millis(m.Timestamp))
}

func (m *PaymentConfirmation) CanonicalBytes() []byte {
	return canonical(KindConfirmation, m.RequestID, m.TransactionID,
		m.From.String(), m.To.String(), millis(m.Timestamp))
}

func (m *PaymentCancellation) CanonicalBytes() []byte {
	return canonical(KindCancellation, m.RequestID, m.From.String(), m.To.String(),
		m.Reason, millis(m.Timestamp))
}

// canonical joins kind and fields with '|'; '|' and '\' inside fields are
// escaped so distinct field lists never collide.
func canonical(kind MessageKind, fields ...string) []byte {
	var b strings.Builder
	b.WriteString(string(kind))
	for _, f := range fields {
		b.WriteByte('|')
		b.WriteString(escaper.Replace(f))
	}
	return []byte(b.String())
}

var escaper = strings.NewReplacer(`\`, `\\`, `|`, `\|`)

func amountField(a Amount) string { return strconv.FormatInt(int64(a), 10) }

func millis(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

// Envelope is the wire wrapper posted to and fetched from the transport.
type Envelope struct {
	Kind      MessageKind     `json:"kind"`
	From      DeviceID        `json:"from"`
	To        DeviceID        `json:"to"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// EncodeMessage wraps m into an Envelope.
func EncodeMessage(m Message) (Envelope, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return Envelope{}, err
	}
	from, to := m.Route()
	return Envelope{Kind: m.Kind(), From: from, To: to, Payload: payload}, nil
}

// Decode unpacks the payload according to Kind.
func (e Envelope) Decode() (Message, error) {
	var m Message
	switch e.Kind {
	case KindRequest:
		m = new(PaymentRequest)
	case KindResponse:
		m = new(PaymentResponse)
	case KindTransaction:
		m = new(PaymentTransaction)
	case KindConfirmation:
		m = new(PaymentConfirmation)
	case KindCancellation:
		m = new(PaymentCancellation)
	default:
		return nil, fmt.Errorf("unknown message kind %q", e.Kind)
	}
	if err := json.Unmarshal(e.Payload, m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.Kind, err)
	}
	return m, nil
}
