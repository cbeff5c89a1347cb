// Package queue is the durable local ledger of OfflineTransactions.
//
// The whole queue is kept in memory and persisted as one versioned JSON
// snapshot through a domain.BlobStore after every mutation. A failed save
// rolls the mutation back and reports domain.ErrPersistence. Loading
// tolerates a missing or corrupt snapshot by starting empty, migrates
// older snapshot versions, and resets entries left SYNCING by a crash.
//
// Subscribers receive a copy of the full transaction list after every
// successful mutation; a panicking subscriber is logged and skipped.
//
// The retry policy (exponential backoff, capped attempts) lives here so the
// synchronizer and the stats view agree on what "failed" means.
package queue
