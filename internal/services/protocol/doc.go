// Package protocol runs the device-to-device payment handshake.
//
// The payer sends a signed PaymentRequest; the payee accepts or rejects it
// with a PaymentResponse. On acceptance the payer signs a PaymentTransaction
// and records it in its ledger as sent; the payee validates it, records it
// as received and answers with a PaymentConfirmation that carries its own
// signature. Either side may cancel before value moves. Sessions that are
// not answered before their deadline expire.
//
// Each session is guarded by its own mutex. Signing and transport calls are
// made without holding any session lock, so a slow signer or peer never
// blocks other sessions.
package protocol
