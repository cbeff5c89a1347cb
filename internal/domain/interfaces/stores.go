package interfaces

import domaintypes "offpay/internal/domain/types"

// IdentityStore persists the device's long-term signing identity.
type IdentityStore interface {
	SaveIdentity(passphrase string, id domaintypes.Identity) error
	LoadIdentity(passphrase string) (domaintypes.Identity, error)
}

// PeerStore keeps the signing keys of trusted counterpart devices.
type PeerStore interface {
	SavePeer(peer domaintypes.Peer) error
	LoadPeer(id domaintypes.DeviceID) (domaintypes.Peer, bool, error)
	ListPeers() ([]domaintypes.Peer, error)
}
