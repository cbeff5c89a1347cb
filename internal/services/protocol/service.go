package protocol

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"offpay/internal/domain"
	domaintypes "offpay/internal/domain/types"
	"offpay/internal/logging"
	"offpay/internal/services/transaction"
	"offpay/internal/services/validation"
)

// Deps are the collaborators a Service drives.
type Deps struct {
	Transport    domain.Transport
	Signer       domain.Signer
	Ledger       domain.Ledger
	Transactions *transaction.Service
	Rules        *validation.Service
	// Peers is optional; when set, inbound keys are checked against it.
	Peers domain.PeerStore
}

// Service owns the table of payment sessions for one device.
type Service struct {
	self     domain.DeviceID
	selfName string
	cfg      Config
	deps     Deps
	log      *zap.Logger
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry

	subMu   sync.Mutex
	subs    map[int]func(domain.PaymentSession)
	nextSub int
}

// entry is one session and the messages it was built from.
type entry struct {
	mu      sync.Mutex
	session domain.PaymentSession
	request *domain.PaymentRequest
	tx      *domain.PaymentTransaction
	// conf is the confirmation this device signed as payee.
	conf *domain.PaymentConfirmation
	// peerKey pins the counterpart's signing key after its first message.
	peerKey domain.Ed25519Public
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithDeviceName sets the display name sent in requests.
func WithDeviceName(name string) Option { return func(s *Service) { s.selfName = name } }

// New returns a Service acting as device self.
func New(self domain.DeviceID, cfg Config, deps Deps, opts ...Option) *Service {
	s := &Service{
		self:     self,
		cfg:      cfg.withDefaults(),
		deps:     deps,
		now:      time.Now,
		sessions: make(map[string]*entry),
		subs:     make(map[int]func(domain.PaymentSession)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrNop(s.log).With(zap.String("component", "protocol"), zap.String("device", string(self)))
	return s
}

// Self returns the local device id.
func (s *Service) Self() domain.DeviceID { return s.self }

func (s *Service) lookup(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

// insert adds e unless a session with the same id exists, and reports
// whether it was added.
func (s *Service) insert(e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.sessions[e.session.ID]; dup {
		return false
	}
	s.sessions[e.session.ID] = e
	return true
}

func (s *Service) setStatusLocked(e *entry, st domain.SessionStatus, reason string) {
	e.session.Status = st
	e.session.UpdatedAt = s.now().UTC()
	if reason != "" {
		e.session.Error = reason
	}
}

// expireLocked moves e to EXPIRED if its deadline passed before any value
// moved, and reports whether it did.
func (s *Service) expireLocked(e *entry, now time.Time) bool {
	if e.session.Status.IsTerminal() || e.session.TransactionID != "" || !e.session.Expired(now) {
		return false
	}
	s.setStatusLocked(e, domaintypes.SessionExpired, "Payment request expired")
	s.log.Info("session expired", zap.String("session_id", e.session.ID))
	return true
}

// GetSession returns a copy of session id, expiring it first if due.
func (s *Service) GetSession(id string) (domain.PaymentSession, error) {
	e, err := s.lookup(id)
	if err != nil {
		return domain.PaymentSession{}, err
	}
	e.mu.Lock()
	expired := s.expireLocked(e, s.now())
	snap := e.session
	e.mu.Unlock()
	if expired {
		s.notify(snap)
	}
	return snap, nil
}

// ListSessions returns copies of all sessions, oldest first.
func (s *Service) ListSessions() []domain.PaymentSession {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]domain.PaymentSession, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.session)
		e.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b domain.PaymentSession) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// SweepExpired expires every session past its deadline at now and returns
// how many changed.
func (s *Service) SweepExpired(now time.Time) int {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	n := 0
	for _, e := range entries {
		e.mu.Lock()
		expired := s.expireLocked(e, now)
		snap := e.session
		e.mu.Unlock()
		if expired {
			n++
			s.notify(snap)
		}
	}
	return n
}

// PruneSessions drops terminal sessions idle for longer than olderThan. A
// session whose ledger entry has not synced yet is kept.
func (s *Service) PruneSessions(olderThan time.Duration) int {
	cutoff := s.now().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.sessions {
		e.mu.Lock()
		sess := e.session
		e.mu.Unlock()
		if !sess.Status.IsTerminal() || sess.UpdatedAt.After(cutoff) {
			continue
		}
		if sess.TransactionID != "" && s.deps.Ledger != nil {
			if tx, ok := s.deps.Ledger.GetTransaction(sess.TransactionID); ok && tx.SyncStatus != domaintypes.SyncSynced {
				continue
			}
		}
		delete(s.sessions, id)
		n++
	}
	if n > 0 {
		s.log.Debug("sessions pruned", zap.Int("count", n))
	}
	return n
}

// Run sweeps expired sessions every SweepInterval until ctx is done. The
// same tick resends unconfirmed transactions and prunes finished sessions
// older than SessionRetention.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.SweepExpired(s.now()); n > 0 {
				s.log.Debug("expiry sweep", zap.Int("expired", n))
			}
			s.ResendUnconfirmed(ctx)
			s.PruneSessions(s.cfg.SessionRetention)
		}
	}
}

// Subscribe registers fn for session changes and returns the func that
// unregisters it. fn receives a copy and runs on the goroutine that made the
// change, after the session lock is released.
func (s *Service) Subscribe(fn func(domain.PaymentSession)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Service) notify(sess domain.PaymentSession) {
	s.subMu.Lock()
	fns := make([]func(domain.PaymentSession), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("session subscriber panicked", zap.Any("panic", r))
				}
			}()
			fn(sess)
		}()
	}
}

// seal signs m with the local key.
func (s *Service) seal(ctx context.Context, m domain.Message) error {
	keyID := domain.KeyID(s.self)
	pub, err := s.deps.Signer.PublicKey(keyID)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSigning, err)
	}
	sl := m.Sealed()
	sl.SignerKey = pub
	sig, err := s.deps.Signer.Sign(ctx, keyID, m.CanonicalBytes())
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSigning, err)
	}
	sl.Signature = sig
	return nil
}

// transmitRetrying sends m and repeats the send while the transport times
// out, up to SendRetries more times with doubling waits.
func (s *Service) transmitRetrying(ctx context.Context, m domain.Message) error {
	err := s.transmit(ctx, m)
	wait := s.cfg.SendBackoff
	for i := 0; i < s.cfg.SendRetries && errors.Is(err, domain.ErrTransportTimeout); i++ {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		wait *= 2
		err = s.transmit(ctx, m)
	}
	return err
}

func (s *Service) transmit(ctx context.Context, m domain.Message) error {
	env, err := domain.EncodeMessage(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	env.Timestamp = s.now().UnixMilli()
	if err := s.deps.Transport.Send(ctx, env); err != nil {
		return fmt.Errorf("send %s: %w", m.Kind(), err)
	}
	return nil
}
