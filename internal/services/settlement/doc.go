// Package settlement computes net balances between devices from confirmed
// ledger entries and flags anomalies in a ledger snapshot. Nothing here
// mutates stored data.
package settlement
