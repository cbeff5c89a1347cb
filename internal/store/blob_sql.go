package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	"offpay/internal/domain"
)

//go:embed migrations
var migrationsFS embed.FS

// goose keeps its dialect and filesystem in package globals.
var gooseMu sync.Mutex

type blobRow struct {
	bun.BaseModel `bun:"table:offpay_blobs"`

	Key       string    `bun:"blob_key,pk"`
	Value     []byte    `bun:"blob_value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// SQLBlobStore stores blobs in the offpay_blobs table through bun.
type SQLBlobStore struct {
	db *bun.DB
}

// OpenSQLBlobStore opens dsn with the driver for dbType ("sqlite",
// "postgres" or "mysql"), applies migrations and returns the store.
func OpenSQLBlobStore(ctx context.Context, dbType, dsn string) (*SQLBlobStore, error) {
	driverName, gooseDialect, err := sqlDriver(dbType)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbType == "sqlite" {
		// one writer; also keeps ":memory:" databases on a single connection
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := runMigrations(sqlDB, gooseDialect); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLBlobStore{db: createBunDB(sqlDB, dbType)}, nil
}

func sqlDriver(dbType string) (driver, dialect string, err error) {
	switch dbType {
	case "sqlite":
		return "sqlite", "sqlite3", nil
	case "postgres":
		return "pgx", "postgres", nil
	case "mysql":
		return "mysql", "mysql", nil
	default:
		return "", "", fmt.Errorf("unsupported database type %q", dbType)
	}
}

func createBunDB(sqlDB *sql.DB, dbType string) *bun.DB {
	switch dbType {
	case "postgres":
		return bun.NewDB(sqlDB, pgdialect.New())
	case "mysql":
		return bun.NewDB(sqlDB, mysqldialect.New())
	default:
		return bun.NewDB(sqlDB, sqlitedialect.New())
	}
}

func runMigrations(db *sql.DB, dialect string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return goose.Up(db, "migrations/"+dialect)
}

func (s *SQLBlobStore) GetBlob(ctx context.Context, key string) ([]byte, error) {
	var row blobRow
	err := s.db.NewSelect().Model(&row).Where("blob_key = ?", key).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select blob %s: %w", key, err)
	}
	return row.Value, nil
}

// SetBlob replaces the row for key inside a transaction.
func (s *SQLBlobStore) SetBlob(ctx context.Context, key string, value []byte) error {
	row := &blobRow{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*blobRow)(nil)).Where("blob_key = ?", key).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(row).Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("store blob %s: %w", key, err)
	}
	return nil
}

func (s *SQLBlobStore) Close() error { return s.db.Close() }

var _ domain.BlobStore = (*SQLBlobStore)(nil)
