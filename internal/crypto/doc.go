// Package crypto exposes the primitives offpay needs.
//
// Contents
//
//   - Ed25519 key generation, signing and verification (GenerateEd25519,
//     SignEd25519, VerifyEd25519)
//   - Signer, the in-process signing collaborator backed by device identities,
//     with an optional approval hook standing in for a user-presence prompt
//   - Single-use transaction nonces (NewNonce)
//   - Best-effort memory wiping for sensitive byte slices (Wipe)
//   - Short public-key fingerprints for display/logging (Fingerprint)
package crypto
