package store

import (
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"offpay/internal/domain"
)

const peersFile = "peers.json"

// PeerFileStore keeps trusted peer keys in a JSON map keyed by device id.
type PeerFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewPeerFileStore returns a PeerFileStore rooted at dir.
func NewPeerFileStore(dir string) *PeerFileStore {
	return &PeerFileStore{dir: dir}
}

func (s *PeerFileStore) load() (map[domain.DeviceID]domain.Peer, error) {
	peers := map[domain.DeviceID]domain.Peer{}
	if err := readJSON(filepath.Join(s.dir, peersFile), &peers); err != nil {
		return nil, err
	}
	return peers, nil
}

// SavePeer adds or replaces peer.
func (s *PeerFileStore) SavePeer(peer domain.Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers, err := s.load()
	if err != nil {
		return err
	}
	peers[peer.DeviceID] = peer
	return writeJSON(filepath.Join(s.dir, peersFile), peers, 0o600)
}

// LoadPeer returns the peer and whether it was present.
func (s *PeerFileStore) LoadPeer(id domain.DeviceID) (domain.Peer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers, err := s.load()
	if err != nil {
		return domain.Peer{}, false, err
	}
	p, ok := peers[id]
	return p, ok, nil
}

// ListPeers returns all peers ordered by device id.
func (s *PeerFileStore) ListPeers() ([]domain.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Peer, 0, len(peers))
	for _, p := range peers {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Peer) int {
		return strings.Compare(string(a.DeviceID), string(b.DeviceID))
	})
	return out, nil
}

var _ domain.PeerStore = (*PeerFileStore)(nil)
