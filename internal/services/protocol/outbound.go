package protocol

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"offpay/internal/domain"
	domaintypes "offpay/internal/domain/types"
	"offpay/internal/services/transaction"
)

// RequestOptions describes an outgoing payment.
type RequestOptions struct {
	To       domain.DeviceID
	ToName   string
	Amount   domain.Amount
	Currency domain.Currency
	Memo     string
	// Balance is the payer's spendable balance at request time.
	Balance domain.Amount
}

// SendPaymentRequest signs and transmits a PaymentRequest and opens a
// PENDING payer session. The session id equals the request id. Invalid
// input and an insufficient balance fail before anything is signed. A
// transport failure leaves the session FAILED.
func (s *Service) SendPaymentRequest(ctx context.Context, o RequestOptions) (string, error) {
	if r := s.deps.Rules.ValidateAmount(o.Amount, o.Currency); !r.Valid {
		return "", r.Err()
	}
	if o.Balance < o.Amount {
		return "", &domain.ValidationError{
			Errors: []string{fmt.Sprintf("Insufficient balance: %s available, %s requested", o.Balance, o.Amount)},
			Cause:  domain.ErrInsufficientBalance,
		}
	}

	now := s.now().UTC()
	req := &domain.PaymentRequest{
		ID:        uuid.NewString(),
		From:      s.self,
		FromName:  s.selfName,
		To:        o.To,
		Amount:    o.Amount,
		Currency:  o.Currency,
		Memo:      o.Memo,
		Timestamp: now,
		ExpiresAt: now.Add(s.cfg.RequestTTL),
	}
	if err := s.seal(ctx, req); err != nil {
		return "", err
	}
	if r := s.deps.Rules.ValidatePaymentRequest(req, o.Balance); !r.Valid {
		return "", r.Err()
	}

	e := &entry{
		request: req,
		session: domain.PaymentSession{
			ID:             req.ID,
			PeerDeviceID:   o.To,
			PeerDeviceName: o.ToName,
			Role:           domaintypes.RoleSender,
			Amount:         o.Amount,
			Currency:       o.Currency,
			Memo:           o.Memo,
			Status:         domaintypes.SessionPending,
			CreatedAt:      now,
			ExpiresAt:      req.ExpiresAt,
			UpdatedAt:      now,
			RequestID:      req.ID,
		},
	}
	s.insert(e)
	s.notify(e.session)
	log := s.log.With(zap.String("session_id", req.ID))

	if err := s.transmit(ctx, req); err != nil {
		s.fail(e, err)
		log.Warn("payment request not delivered", zap.Error(err))
		return req.ID, err
	}
	log.Info("payment request sent",
		zap.String("to", string(o.To)), zap.Stringer("amount", o.Amount))
	return req.ID, nil
}

// fail moves a non-terminal session to FAILED.
func (s *Service) fail(e *entry, cause error) {
	e.mu.Lock()
	if e.session.Status.IsTerminal() {
		e.mu.Unlock()
		return
	}
	s.setStatusLocked(e, domaintypes.SessionFailed, cause.Error())
	snap := e.session
	e.mu.Unlock()
	s.notify(snap)
}

// SendPaymentResponse answers a request received from a peer. Unknown ids
// fail with domain.ErrNotFound and expired ones with domain.ErrExpired;
// sessions already terminal are left alone.
func (s *Service) SendPaymentResponse(ctx context.Context, requestID string, accepted bool, reason string) error {
	e, err := s.lookup(requestID)
	if err != nil {
		return err
	}
	log := s.log.With(zap.String("session_id", requestID))

	e.mu.Lock()
	if s.expireLocked(e, s.now()) {
		snap := e.session
		e.mu.Unlock()
		s.notify(snap)
		return fmt.Errorf("respond to %s: %w", requestID, domain.ErrExpired)
	}
	if st := e.session.Status; st.IsTerminal() {
		e.mu.Unlock()
		log.Info("response for finished session ignored", zap.Stringer("status", st))
		return nil
	}
	if e.session.Role != domaintypes.RoleReceiver || e.session.Status != domaintypes.SessionAwaitingResponse {
		st := e.session.Status
		e.mu.Unlock()
		return fmt.Errorf("respond to %s in %s: %w", requestID, st, domain.ErrInvalidTransition)
	}
	req := e.request
	e.mu.Unlock()

	resp := &domain.PaymentResponse{
		RequestID: requestID,
		From:      s.self,
		To:        req.From,
		Accepted:  accepted,
		Reason:    strings.TrimSpace(reason),
		Timestamp: s.now().UTC(),
	}
	if err := s.seal(ctx, resp); err != nil {
		return err
	}
	r := s.deps.Rules.ValidatePaymentResponse(resp, req)
	if !r.Valid {
		return r.Err()
	}
	for _, w := range r.Warnings {
		log.Warn("payment response warning", zap.String("warning", w))
	}

	e.mu.Lock()
	if e.session.Status != domaintypes.SessionAwaitingResponse {
		e.mu.Unlock()
		log.Info("session changed while signing, response dropped")
		return nil
	}
	if accepted {
		s.setStatusLocked(e, domaintypes.SessionAccepted, "")
	} else {
		s.setStatusLocked(e, domaintypes.SessionRejected, resp.Reason)
	}
	snap := e.session
	e.mu.Unlock()
	s.notify(snap)

	if err := s.transmit(ctx, resp); err != nil {
		s.fail(e, err)
		return err
	}
	log.Info("payment response sent", zap.Bool("accepted", accepted))
	return nil
}

// CompletePayment builds a transaction for an accepted payer session from
// the ledger balance and sends it with SendPaymentTransaction.
func (s *Service) CompletePayment(ctx context.Context, requestID string) (*domain.PaymentTransaction, error) {
	e, err := s.lookup(requestID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	req := e.request
	e.mu.Unlock()

	tx, err := s.deps.Transactions.CreateTransaction(ctx, transaction.CreateParams{
		RequestID:      req.ID,
		ToDeviceID:     req.To,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Memo:           req.Memo,
		CurrentBalance: s.deps.Ledger.Balance(),
	})
	if err != nil {
		return nil, err
	}
	if err := s.SendPaymentTransaction(ctx, requestID, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// SendPaymentTransaction records tx as sent and transmits it. The session
// must be an ACCEPTED payer session with no transaction yet. The ledger
// entry is SIGNED before transmission and TRANSMITTED after. A send that
// keeps timing out leaves it SIGNED for ResendUnconfirmed; any other
// transport failure marks it FAILED.
func (s *Service) SendPaymentTransaction(ctx context.Context, requestID string, tx *domain.PaymentTransaction) error {
	e, err := s.lookup(requestID)
	if err != nil {
		return err
	}
	log := s.log.With(zap.String("session_id", requestID))

	e.mu.Lock()
	if s.expireLocked(e, s.now()) {
		snap := e.session
		e.mu.Unlock()
		s.notify(snap)
		return fmt.Errorf("pay %s: %w", requestID, domain.ErrExpired)
	}
	if e.session.Role != domaintypes.RoleSender ||
		e.session.Status != domaintypes.SessionAccepted ||
		e.session.TransactionID != "" {
		st := e.session.Status
		e.mu.Unlock()
		return fmt.Errorf("pay %s in %s: %w", requestID, st, domain.ErrInvalidTransition)
	}
	req := e.request
	// reserve the session so a concurrent call cannot send a second transaction
	e.session.TransactionID = tx.ID
	e.mu.Unlock()

	release := func() {
		e.mu.Lock()
		if e.tx == nil {
			e.session.TransactionID = ""
		}
		e.mu.Unlock()
	}

	if r := s.deps.Rules.ValidatePaymentTransaction(tx, req, s.deps.Ledger.UsedNonces()); !r.Valid {
		release()
		return r.Err()
	}
	rec := transaction.CreateOfflineTransaction(tx, domaintypes.DirectionSent, tx.SenderBalance)
	if err := s.deps.Ledger.AddTransaction(ctx, rec); err != nil {
		release()
		return fmt.Errorf("record sent transaction: %w", err)
	}

	e.mu.Lock()
	e.tx = tx
	e.session.UpdatedAt = s.now().UTC()
	snap := e.session
	e.mu.Unlock()
	s.notify(snap)

	err = s.transmitRetrying(ctx, tx)
	switch {
	case errors.Is(err, domain.ErrTransportTimeout):
		// the relay may hold the transaction: the debit stands and the
		// session keeps waiting for a confirmation
		log.Warn("payment transaction delivery unconfirmed", zap.String("tx_id", tx.ID), zap.Error(err))
		return err
	case err != nil:
		if _, uerr := s.deps.Ledger.UpdateTransaction(ctx, tx.ID, func(t *domain.OfflineTransaction) error {
			t.Status = domaintypes.TxFailed
			return nil
		}); uerr != nil {
			log.Error("could not mark undelivered transaction failed", zap.Error(uerr))
		}
		s.fail(e, err)
		return err
	}
	if err := s.markTransmitted(ctx, tx.ID); err != nil {
		return err
	}
	log.Info("payment transaction sent",
		zap.String("tx_id", tx.ID), zap.Stringer("amount", tx.Amount))
	return nil
}

func (s *Service) markTransmitted(ctx context.Context, txID string) error {
	if _, err := s.deps.Ledger.UpdateTransaction(ctx, txID, func(t *domain.OfflineTransaction) error {
		if t.Status == domaintypes.TxSigned {
			t.Status = domaintypes.TxTransmitted
		}
		return nil
	}); err != nil {
		return fmt.Errorf("mark transaction transmitted: %w", err)
	}
	return nil
}

// ResendUnconfirmed sends again every payer transaction whose delivery
// timed out and returns how many went through.
func (s *Service) ResendUnconfirmed(ctx context.Context) int {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	n := 0
	for _, e := range entries {
		e.mu.Lock()
		tx := e.tx
		waiting := e.session.Role == domaintypes.RoleSender && e.session.Status == domaintypes.SessionAccepted
		e.mu.Unlock()
		if !waiting || tx == nil {
			continue
		}
		if rec, ok := s.deps.Ledger.GetTransaction(tx.ID); !ok || rec.Status != domaintypes.TxSigned {
			continue
		}
		log := s.log.With(zap.String("session_id", tx.RequestID), zap.String("tx_id", tx.ID))
		if err := s.transmit(ctx, tx); err != nil {
			log.Debug("payment transaction resend failed", zap.Error(err))
			continue
		}
		if err := s.markTransmitted(ctx, tx.ID); err != nil {
			log.Error("resent transaction not recorded", zap.Error(err))
			continue
		}
		log.Info("payment transaction resent")
		n++
	}
	return n
}

// SendPaymentConfirmation signs a confirmation for the transaction received
// on payee session requestID, stores the payee signature on the ledger
// entry and completes the session.
func (s *Service) SendPaymentConfirmation(ctx context.Context, requestID string) error {
	e, err := s.lookup(requestID)
	if err != nil {
		return err
	}
	log := s.log.With(zap.String("session_id", requestID))

	e.mu.Lock()
	if e.session.Status.IsTerminal() {
		e.mu.Unlock()
		log.Info("confirmation for finished session ignored")
		return nil
	}
	if e.session.Role != domaintypes.RoleReceiver || e.tx == nil {
		st := e.session.Status
		e.mu.Unlock()
		return fmt.Errorf("confirm %s in %s: %w", requestID, st, domain.ErrInvalidTransition)
	}
	tx := e.tx
	e.mu.Unlock()

	conf := &domain.PaymentConfirmation{
		RequestID:     requestID,
		TransactionID: tx.ID,
		From:          s.self,
		To:            tx.From,
		Timestamp:     s.now().UTC(),
	}
	if err := s.seal(ctx, conf); err != nil {
		return err
	}
	if err := s.confirmLedger(ctx, tx.ID, conf.Signature, false); err != nil {
		return err
	}

	e.mu.Lock()
	if e.session.Status.IsTerminal() {
		e.mu.Unlock()
		return nil
	}
	e.conf = conf
	s.setStatusLocked(e, domaintypes.SessionCompleted, "")
	snap := e.session
	e.mu.Unlock()
	s.notify(snap)

	if err := s.transmit(ctx, conf); err != nil {
		// value already moved; the payer can still reconcile later
		log.Warn("confirmation not delivered", zap.Error(err))
		return err
	}
	log.Info("payment confirmed", zap.String("tx_id", tx.ID))
	return nil
}

// confirmLedger marks ledger entry txID CONFIRMED with the payee signature.
// With delivered set, an entry marked FAILED after a send error is
// confirmed too, since the payee's signature proves it arrived.
func (s *Service) confirmLedger(ctx context.Context, txID string, receiverSig []byte, delivered bool) error {
	_, err := s.deps.Ledger.UpdateTransaction(ctx, txID, func(t *domain.OfflineTransaction) error {
		if delivered && t.Status == domaintypes.TxFailed {
			t.Status = domaintypes.TxTransmitted
		}
		confirmed, changed := s.deps.Transactions.MarkAsConfirmed(*t)
		if !changed {
			return nil
		}
		confirmed.Signatures.Receiver = append([]byte(nil), receiverSig...)
		*t = confirmed
		return nil
	})
	if err != nil {
		return fmt.Errorf("confirm transaction %s: %w", txID, err)
	}
	return nil
}

// CancelPayment cancels a session before value moves and tells the peer.
// Terminal sessions are left alone.
func (s *Service) CancelPayment(ctx context.Context, requestID, reason string) error {
	e, err := s.lookup(requestID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.session.Status.IsTerminal() {
		e.mu.Unlock()
		return nil
	}
	if e.session.TransactionID != "" {
		e.mu.Unlock()
		return fmt.Errorf("cancel %s after transaction: %w", requestID, domain.ErrInvalidTransition)
	}
	if reason == "" {
		reason = "Cancelled by user"
	}
	s.setStatusLocked(e, domaintypes.SessionCancelled, reason)
	snap := e.session
	e.mu.Unlock()
	s.notify(snap)

	msg := &domain.PaymentCancellation{
		RequestID: requestID,
		From:      s.self,
		To:        snap.PeerDeviceID,
		Reason:    reason,
		Timestamp: s.now().UTC(),
	}
	if err := s.seal(ctx, msg); err != nil {
		return err
	}
	if err := s.transmit(ctx, msg); err != nil {
		s.log.Warn("cancellation not delivered", zap.String("session_id", requestID), zap.Error(err))
		return err
	}
	return nil
}
