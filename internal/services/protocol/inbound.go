package protocol

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"offpay/internal/domain"
	domaintypes "offpay/internal/domain/types"
	"offpay/internal/services/transaction"
)

// HandleMessage processes one inbound envelope. Messages for sessions that
// already finished are dropped without error.
func (s *Service) HandleMessage(ctx context.Context, env domain.Envelope) error {
	if env.To != s.self {
		return fmt.Errorf("envelope for %s delivered to %s", env.To, s.self)
	}
	msg, err := env.Decode()
	if err != nil {
		return err
	}
	if from, to := msg.Route(); from != env.From || to != env.To {
		return fmt.Errorf("%s route %s->%s does not match envelope", msg.Kind(), from, to)
	}
	if err := s.verify(msg); err != nil {
		s.log.Warn("inbound message rejected",
			zap.String("kind", string(msg.Kind())), zap.String("from", string(env.From)), zap.Error(err))
		return err
	}

	switch m := msg.(type) {
	case *domain.PaymentRequest:
		return s.handleRequest(m)
	case *domain.PaymentResponse:
		return s.handleResponse(m)
	case *domain.PaymentTransaction:
		return s.handleTransaction(ctx, m)
	case *domain.PaymentConfirmation:
		return s.handleConfirmation(ctx, m)
	case *domain.PaymentCancellation:
		return s.handleCancellation(m)
	default:
		return fmt.Errorf("unhandled message kind %q", msg.Kind())
	}
}

// verify checks the signature over the message and, when a PeerStore is
// configured, that the key belongs to the sending device.
func (s *Service) verify(msg domain.Message) error {
	seal := msg.Sealed()
	if len(seal.Signature) == 0 {
		if s.deps.Rules.Config().RequireSignature {
			return fmt.Errorf("%s is unsigned: %w", msg.Kind(), domain.ErrBadSignature)
		}
		return nil
	}
	if !s.deps.Signer.Verify(seal.SignerKey, msg.CanonicalBytes(), seal.Signature) {
		return fmt.Errorf("%s: %w", msg.Kind(), domain.ErrBadSignature)
	}
	if s.deps.Peers == nil {
		return nil
	}
	from, _ := msg.Route()
	peer, ok, err := s.deps.Peers.LoadPeer(from)
	if err != nil {
		return fmt.Errorf("load peer %s: %w", from, err)
	}
	var trusted *domain.Peer
	if ok {
		trusted = &peer
	}
	r := s.deps.Rules.ValidatePeer(from, seal.SignerKey, trusted)
	if !r.Valid {
		return r.Err()
	}
	return nil
}

// pinLocked binds the session to the first key the peer signed with and
// rejects any other key afterwards.
func (s *Service) pinLocked(e *entry, msg domain.Message) error {
	key := msg.Sealed().SignerKey
	if key.IsZero() {
		return nil
	}
	if e.peerKey.IsZero() {
		e.peerKey = key
		return nil
	}
	if e.peerKey != key {
		return fmt.Errorf("%s signed by a different key than the session peer: %w", msg.Kind(), domain.ErrBadSignature)
	}
	return nil
}

func (s *Service) handleRequest(req *domain.PaymentRequest) error {
	if r := s.deps.Rules.ValidateIncomingRequest(req); !r.Valid {
		return r.Err()
	}
	now := s.now().UTC()
	e := &entry{
		request: req,
		peerKey: req.SignerKey,
		session: domain.PaymentSession{
			ID:             req.ID,
			PeerDeviceID:   req.From,
			PeerDeviceName: req.FromName,
			Role:           domaintypes.RoleReceiver,
			Amount:         req.Amount,
			Currency:       req.Currency,
			Memo:           req.Memo,
			Status:         domaintypes.SessionAwaitingResponse,
			CreatedAt:      now,
			ExpiresAt:      req.ExpiresAt,
			UpdatedAt:      now,
			RequestID:      req.ID,
		},
	}
	if !s.insert(e) {
		s.log.Info("duplicate payment request ignored", zap.String("session_id", req.ID))
		return nil
	}
	s.log.Info("payment request received",
		zap.String("session_id", req.ID), zap.String("from", string(req.From)), zap.Stringer("amount", req.Amount))
	s.notify(e.session)
	return nil
}

func (s *Service) handleResponse(resp *domain.PaymentResponse) error {
	e, err := s.lookup(resp.RequestID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if s.expireLocked(e, s.now()) {
		snap := e.session
		e.mu.Unlock()
		s.notify(snap)
		return fmt.Errorf("response to %s: %w", resp.RequestID, domain.ErrExpired)
	}
	if e.session.Role != domaintypes.RoleSender {
		e.mu.Unlock()
		return fmt.Errorf("response to %s: %w", resp.RequestID, domain.ErrInvalidTransition)
	}
	if e.session.Status != domaintypes.SessionPending {
		e.mu.Unlock()
		s.log.Info("stale payment response ignored", zap.String("session_id", resp.RequestID))
		return nil
	}
	r := s.deps.Rules.ValidatePaymentResponse(resp, e.request)
	if !r.Valid {
		e.mu.Unlock()
		return r.Err()
	}
	if err := s.pinLocked(e, resp); err != nil {
		e.mu.Unlock()
		return err
	}
	if resp.Accepted {
		s.setStatusLocked(e, domaintypes.SessionAccepted, "")
	} else {
		s.setStatusLocked(e, domaintypes.SessionRejected, resp.Reason)
	}
	snap := e.session
	e.mu.Unlock()

	s.log.Info("payment response received",
		zap.String("session_id", resp.RequestID), zap.Bool("accepted", resp.Accepted))
	s.notify(snap)
	return nil
}

func (s *Service) handleTransaction(ctx context.Context, tx *domain.PaymentTransaction) error {
	e, err := s.lookup(tx.RequestID)
	if err != nil {
		return err
	}
	log := s.log.With(zap.String("session_id", tx.RequestID), zap.String("tx_id", tx.ID))

	e.mu.Lock()
	switch {
	case s.expireLocked(e, s.now()):
		snap := e.session
		e.mu.Unlock()
		s.notify(snap)
		return fmt.Errorf("transaction for %s: %w", tx.RequestID, domain.ErrExpired)
	case e.session.Status.IsTerminal():
		conf := e.conf
		repeat := conf != nil && e.tx != nil && e.tx.ID == tx.ID
		e.mu.Unlock()
		if repeat {
			log.Info("transaction redelivered, repeating confirmation")
			return s.transmit(ctx, conf)
		}
		log.Info("transaction for finished session ignored")
		return nil
	case e.tx != nil && e.tx.ID == tx.ID:
		e.mu.Unlock()
		log.Info("duplicate transaction ignored")
		return nil
	case e.session.Role != domaintypes.RoleReceiver ||
		e.session.Status != domaintypes.SessionAccepted ||
		e.session.TransactionID != "":
		st := e.session.Status
		e.mu.Unlock()
		return fmt.Errorf("transaction for %s in %s: %w", tx.RequestID, st, domain.ErrInvalidTransition)
	}
	if err := s.pinLocked(e, tx); err != nil {
		e.mu.Unlock()
		return err
	}
	req := e.request
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
		log.Warn("transaction rejected", zap.Strings("errors", r.Errors))
		return r.Err()
	}
	rec := transaction.CreateOfflineTransaction(tx, domaintypes.DirectionReceived, s.deps.Ledger.Balance())
	if err := s.deps.Ledger.AddTransaction(ctx, rec); err != nil {
		release()
		return fmt.Errorf("record received transaction: %w", err)
	}

	e.mu.Lock()
	e.tx = tx
	e.session.UpdatedAt = s.now().UTC()
	snap := e.session
	e.mu.Unlock()
	s.notify(snap)
	log.Info("payment transaction received", zap.Stringer("amount", tx.Amount))

	if s.cfg.AutoConfirm {
		return s.SendPaymentConfirmation(ctx, tx.RequestID)
	}
	return nil
}

func (s *Service) handleConfirmation(ctx context.Context, conf *domain.PaymentConfirmation) error {
	e, err := s.lookup(conf.RequestID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	// a FAILED session that sent its transaction can still be confirmed
	late := e.session.Status == domaintypes.SessionFailed && e.tx != nil
	if e.session.Status.IsTerminal() && !late {
		e.mu.Unlock()
		s.log.Info("confirmation for finished session ignored", zap.String("session_id", conf.RequestID))
		return nil
	}
	if e.session.Role != domaintypes.RoleSender || e.tx == nil {
		st := e.session.Status
		e.mu.Unlock()
		return fmt.Errorf("confirmation for %s in %s: %w", conf.RequestID, st, domain.ErrInvalidTransition)
	}
	r := s.deps.Rules.ValidateConfirmation(conf, e.request, e.tx.ID)
	if !r.Valid {
		e.mu.Unlock()
		return r.Err()
	}
	if err := s.pinLocked(e, conf); err != nil {
		e.mu.Unlock()
		return err
	}
	txID := e.tx.ID
	e.mu.Unlock()

	if err := s.confirmLedger(ctx, txID, conf.Signature, true); err != nil {
		return err
	}

	e.mu.Lock()
	if e.session.Status == domaintypes.SessionCompleted {
		e.mu.Unlock()
		return nil
	}
	e.session.Error = ""
	s.setStatusLocked(e, domaintypes.SessionCompleted, "")
	snap := e.session
	e.mu.Unlock()

	s.log.Info("payment completed",
		zap.String("session_id", conf.RequestID), zap.String("tx_id", txID), zap.Bool("late", late))
	s.notify(snap)
	return nil
}

func (s *Service) handleCancellation(c *domain.PaymentCancellation) error {
	e, err := s.lookup(c.RequestID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.session.Status.IsTerminal() {
		e.mu.Unlock()
		return nil
	}
	if c.From != e.session.PeerDeviceID {
		e.mu.Unlock()
		return fmt.Errorf("cancellation for %s from %s: %w", c.RequestID, c.From, domain.ErrInvalidTransition)
	}
	if e.session.TransactionID != "" {
		e.mu.Unlock()
		s.log.Warn("cancellation after transaction ignored", zap.String("session_id", c.RequestID))
		return nil
	}
	if err := s.pinLocked(e, c); err != nil {
		e.mu.Unlock()
		return err
	}
	reason := c.Reason
	if reason == "" {
		reason = "Cancelled by peer"
	}
	s.setStatusLocked(e, domaintypes.SessionCancelled, reason)
	snap := e.session
	e.mu.Unlock()

	s.log.Info("payment cancelled by peer", zap.String("session_id", c.RequestID))
	s.notify(snap)
	return nil
}
