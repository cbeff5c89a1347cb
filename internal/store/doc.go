// Package store provides the persistence backends for offpay.
//
// Device secrets live on disk: the encrypted identity (IdentityFileStore)
// and the trusted peer directory (PeerFileStore). The offline ledger is kept
// behind the domain.BlobStore contract with four interchangeable drivers:
//   - FileBlobStore: one file per key, optionally passphrase-encrypted
//   - SQLBlobStore: a bun table on sqlite, postgres or mysql
//   - RedisBlobStore: plain keys under a prefix
//   - MemoryBlobStore: in-process map for tests and ephemeral runs
//
// Open picks a driver from Config. File writes go through a temp file and an
// atomic rename.
package store
