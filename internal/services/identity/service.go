package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"offpay/internal/crypto"
	"offpay/internal/domain"
	"offpay/internal/logging"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)

	// ErrIdentityExists is returned when an identity is already stored.
	ErrIdentityExists = errors.New("identity already exists")
)

// Service manages the device identity using a backing store.
type Service struct {
	store domain.IdentityStore
	log   *zap.Logger
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New returns an identity service backed by the given store.
func New(s domain.IdentityStore, opts ...Option) *Service {
	svc := &Service{store: s, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	svc.log = logging.OrNop(svc.log).With(zap.String("component", "identity"))
	return svc
}

// GenerateIdentity creates a new identity for device, saves it encrypted
// with the passphrase, and returns it with the fingerprint of its public
// key. An empty device id is replaced by a random one. An existing identity
// is never overwritten.
func (s *Service) GenerateIdentity(
	passphrase string,
	device domain.DeviceID,
	name string,
) (domain.Identity, domain.Fingerprint, error) {
	if !isSecurePassphrase(passphrase) {
		return domain.Identity{}, "", ErrWeakPassphrase
	}
	switch _, err := s.store.LoadIdentity(passphrase); {
	case err == nil:
		return domain.Identity{}, "", ErrIdentityExists
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Identity{}, "", fmt.Errorf("%w: %w", ErrIdentityExists, err)
	}

	device = domain.DeviceID(strings.TrimSpace(string(device)))
	if device == "" {
		device = domain.DeviceID(uuid.NewString())
	}
	priv, pub, err := crypto.GenerateEd25519()
	if err != nil {
		return domain.Identity{}, "", err
	}

	id := domain.Identity{
		DeviceID:  device,
		Name:      strings.TrimSpace(name),
		EdPub:     pub,
		EdPriv:    priv,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.SaveIdentity(passphrase, id); err != nil {
		return domain.Identity{}, "", err
	}
	fp := crypto.Fingerprint(id.EdPub)
	s.log.Info("identity created", zap.String("device_id", string(device)), zap.String("fingerprint", fp.String()))
	return id, fp, nil
}

// LoadIdentity decrypts and returns the local identity.
func (s *Service) LoadIdentity(passphrase string) (domain.Identity, error) {
	return s.store.LoadIdentity(passphrase)
}

// FingerprintIdentity returns the fingerprint of the local signing key.
func (s *Service) FingerprintIdentity(passphrase string) (domain.Fingerprint, error) {
	id, err := s.store.LoadIdentity(passphrase)
	if err != nil {
		return "", err
	}
	return crypto.Fingerprint(id.EdPub), nil
}

// PublicPeer is the record a counterpart stores to trust id.
func PublicPeer(id domain.Identity) domain.Peer {
	return domain.Peer{DeviceID: id.DeviceID, Name: id.Name, PublicKey: id.EdPub}
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
