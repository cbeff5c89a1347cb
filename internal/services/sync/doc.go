// Package sync pushes queued ledger entries to the backend of record.
//
// A Service runs at most one sync at a time. Runs are triggered by a timer,
// by the network coming back online, or explicitly through SyncNow. Backend
// conflicts are resolved with a ConflictPolicy, either fixed in Config or
// chosen per entry by a Resolver.
package sync
