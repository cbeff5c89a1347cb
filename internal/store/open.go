package store

import (
	"context"
	"fmt"
	"path/filepath"

	"offpay/internal/domain"
)

// Config selects and addresses the ledger BlobStore.
type Config struct {
	// Driver is one of file, sqlite, postgres, mysql, redis or memory.
	Driver string `mapstructure:"driver" yaml:"driver"`
	// Dir is the file driver's directory; defaults to <home>/data.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// DSN is the SQL connection string; sqlite defaults to <home>/offpay.db.
	DSN     string      `mapstructure:"dsn" yaml:"dsn"`
	Redis   RedisConfig `mapstructure:"redis" yaml:"redis"`
	Encrypt bool        `mapstructure:"encrypt" yaml:"encrypt"`
}

// BlobStore is a domain.BlobStore that owns resources.
type BlobStore interface {
	domain.BlobStore
	Close() error
}

// Open builds the store described by cfg. Relative defaults resolve under
// home. With cfg.Encrypt set, values are sealed under passphrase.
func Open(ctx context.Context, cfg Config, home, passphrase string) (BlobStore, error) {
	var bs BlobStore
	switch cfg.Driver {
	case "", "file":
		dir := cfg.Dir
		if dir == "" {
			dir = filepath.Join(home, "data")
		}
		bs = NewFileBlobStore(dir)
	case "sqlite", "postgres", "mysql":
		dsn := cfg.DSN
		if dsn == "" && cfg.Driver == "sqlite" {
			dsn = filepath.Join(home, "offpay.db")
		}
		s, err := OpenSQLBlobStore(ctx, cfg.Driver, dsn)
		if err != nil {
			return nil, err
		}
		bs = s
	case "redis":
		s, err := OpenRedisBlobStore(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		bs = s
	case "memory":
		bs = NewMemoryBlobStore()
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if cfg.Encrypt {
		if passphrase == "" {
			_ = bs.Close()
			return nil, fmt.Errorf("storage.encrypt requires a passphrase")
		}
		return NewSealedBlobStore(bs, passphrase, KDFParams{}), nil
	}
	return bs, nil
}
