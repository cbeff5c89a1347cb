// Package backend is the system of record ledger entries are synced to.
//
// Server is the reference implementation served by ledgerd: a chi router
// with JWT bearer auth that keeps one canonical record per transaction id,
// merging the payer's and payee's submissions and reporting conflicting
// versions with 409. Client is the device side, an HTTP client guarded by a
// circuit breaker that implements domain.Backend.
package backend
