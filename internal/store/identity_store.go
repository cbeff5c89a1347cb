package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"offpay/internal/domain"
)

const identityFile = "identity.json.enc"

// IdentityFileStore persists the device identity sealed under a passphrase.
type IdentityFileStore struct {
	dir string
	kdf KDFParams
	mu  sync.Mutex
}

// NewIdentityFileStore returns an IdentityFileStore rooted at dir.
func NewIdentityFileStore(dir string) *IdentityFileStore {
	return &IdentityFileStore{dir: dir, kdf: DefaultKDF()}
}

// WithKDF overrides the scrypt cost used for new writes.
func (s *IdentityFileStore) WithKDF(kdf KDFParams) *IdentityFileStore {
	s.kdf = kdf
	return s
}

// SaveIdentity seals id and writes it atomically.
func (s *IdentityFileStore) SaveIdentity(passphrase string, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	ct, err := seal(passphrase, raw, s.kdf)
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(s.dir, identityFile), ct, 0o600)
}

// LoadIdentity reads and opens the identity. A missing file is
// domain.ErrNotFound; a bad passphrase is ErrWrongPassphrase.
func (s *IdentityFileStore) LoadIdentity(passphrase string) (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := readFile(filepath.Join(s.dir, identityFile))
	if err != nil {
		return domain.Identity{}, err
	}
	if b == nil {
		return domain.Identity{}, fmt.Errorf("identity: %w", domain.ErrNotFound)
	}
	pt, err := unseal(passphrase, b)
	if err != nil {
		return domain.Identity{}, err
	}
	var id domain.Identity
	if err := json.Unmarshal(pt, &id); err != nil {
		return domain.Identity{}, err
	}
	return id, nil
}

var _ domain.IdentityStore = (*IdentityFileStore)(nil)
