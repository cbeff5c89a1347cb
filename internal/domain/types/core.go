package types

import "github.com/shopspring/decimal"

// DeviceID identifies a device on the relay and in ledgers.
type DeviceID string

// String returns the string form of the device id.
func (d DeviceID) String() string { return string(d) }

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// KeyID names a signing key held by a Signer.
type KeyID string

// String returns the string form of the key id.
func (k KeyID) String() string { return string(k) }

// Currency is a three letter ISO 4217 code such as "USD".
type Currency string

// String returns the string form of the currency.
func (c Currency) String() string { return string(c) }

// Amount is a value in minor currency units (1 = 0.01).
type Amount int64

// minorExp is the decimal exponent of one minor unit.
const minorExp = -2

// Decimal returns the amount in major units.
func (a Amount) Decimal() decimal.Decimal { return decimal.New(int64(a), minorExp) }

// String formats the amount with two decimals, e.g. "50.00".
func (a Amount) String() string { return a.Decimal().StringFixed(2) }

// Abs returns the absolute value of a.
func (a Amount) Abs() Amount {
	if a < 0 {
		return -a
	}
	return a
}

// NonceSet is the set of nonces already seen in a device ledger.
type NonceSet map[string]struct{}

// Has reports whether nonce is in the set.
func (s NonceSet) Has(nonce string) bool {
	_, ok := s[nonce]
	return ok
}

// Claim adds nonce and reports whether it was new. Empty nonces and a nil
// set never claim.
func (s NonceSet) Claim(nonce string) bool {
	if nonce == "" || s == nil || s.Has(nonce) {
		return false
	}
	s[nonce] = struct{}{}
	return true
}
