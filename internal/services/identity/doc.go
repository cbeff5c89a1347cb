// Package identity manages creation, encryption and loading of the device
// identity.
//
// It enforces passphrase policy, assigns the device id, generates the
// Ed25519 signing key pair and persists it via the domain.IdentityStore.
package identity
