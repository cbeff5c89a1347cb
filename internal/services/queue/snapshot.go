package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"offpay/internal/domain"
)

// snapshotVersion is the current on-disk schema of the queue blob.
const snapshotVersion = 1

var errUnsupportedVersion = errors.New("unsupported queue snapshot version")

// snapshot is the persisted form of the queue.
type snapshot struct {
	Version      int                         `json:"version"`
	Transactions []domain.OfflineTransaction `json:"transactions"`
}

// migrations upgrade a raw blob from the keyed version to the next one.
var migrations = map[int]func([]byte) ([]byte, error){
	0: migrateV0,
}

// migrateV0 wraps the legacy bare JSON array into a version 1 snapshot.
func migrateV0(raw []byte) ([]byte, error) {
	var txs []domain.OfflineTransaction
	if err := json.Unmarshal(raw, &txs); err != nil {
		return nil, err
	}
	return json.Marshal(snapshot{Version: 1, Transactions: txs})
}

// blobVersion returns the schema version of raw; a bare array is version 0.
func blobVersion(raw []byte) (int, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return 0, nil
	}
	var head struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return 0, err
	}
	return head.Version, nil
}

// decodeSnapshot upgrades raw to the current version and decodes it. The
// returned bool reports whether a migration ran.
func decodeSnapshot(raw []byte) (snapshot, bool, error) {
	v, err := blobVersion(raw)
	if err != nil {
		return snapshot{}, false, err
	}
	if v > snapshotVersion {
		return snapshot{}, false, fmt.Errorf("%w: %d", errUnsupportedVersion, v)
	}
	migrated := false
	for v < snapshotVersion {
		up, ok := migrations[v]
		if !ok {
			return snapshot{}, false, fmt.Errorf("%w: no migration from %d", errUnsupportedVersion, v)
		}
		if raw, err = up(raw); err != nil {
			return snapshot{}, false, fmt.Errorf("migrate queue from v%d: %w", v, err)
		}
		v++
		migrated = true
	}
	var s snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return snapshot{}, false, err
	}
	return s, migrated, nil
}

func encodeSnapshot(txs []domain.OfflineTransaction) ([]byte, error) {
	if txs == nil {
		txs = []domain.OfflineTransaction{}
	}
	return json.Marshal(snapshot{Version: snapshotVersion, Transactions: txs})
}

// writeCompressed writes txs as zstd-compressed snapshot JSON.
func writeCompressed(w io.Writer, txs []domain.OfflineTransaction) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	raw, err := encodeSnapshot(txs)
	if err != nil {
		_ = zw.Close()
		return fmt.Errorf("encode queue export: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		_ = zw.Close()
		return fmt.Errorf("write queue export: %w", err)
	}
	return zw.Close()
}

// readCompressed reads a snapshot written by writeCompressed.
func readCompressed(r io.Reader) (snapshot, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return snapshot{}, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return snapshot{}, fmt.Errorf("read queue export: %w", err)
	}
	s, _, err := decodeSnapshot(raw)
	if err != nil {
		return snapshot{}, fmt.Errorf("decode queue export: %w", err)
	}
	return s, nil
}

// ReadExport decodes a file written by ExportQueue without touching any
// ledger, e.g. to reconcile against a peer's export.
func ReadExport(r io.Reader) ([]domain.OfflineTransaction, error) {
	s, err := readCompressed(r)
	if err != nil {
		return nil, err
	}
	return s.Transactions, nil
}
