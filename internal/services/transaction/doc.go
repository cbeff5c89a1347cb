// Package transaction assembles signed PaymentTransactions and projects
// them into OfflineTransaction ledger entries.
package transaction
