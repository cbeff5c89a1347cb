package types

import "time"

// Identity holds the device id and its long-term Ed25519 signing keys.
type Identity struct {
	DeviceID  DeviceID       `json:"device_id"`
	Name      string         `json:"name"`
	EdPub     Ed25519Public  `json:"edpub"`
	EdPriv    Ed25519Private `json:"edpriv"`
	CreatedAt time.Time      `json:"created_at"`
}

// KeyID returns the signing key id of the identity.
func (id Identity) KeyID() KeyID { return KeyID(id.DeviceID) }

// Peer is a counterpart device whose signing key we trust.
type Peer struct {
	DeviceID  DeviceID      `json:"device_id"`
	Name      string        `json:"name"`
	PublicKey Ed25519Public `json:"public_key"`
	AddedAt   time.Time     `json:"added_at"`
}
