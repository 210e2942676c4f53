package repo

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
)

// Repository defines the interface for the local ledger.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Messages
	InsertMessage(ctx context.Context, msg MessageRecord) error
	ListRecentMessages(ctx context.Context, ownerID, peerID int64, limit int) ([]MessageRecord, error)

	// Receipts
	InsertReceipt(ctx context.Context, receipt Receipt) (*Receipt, error)
	GetReceiptByOrderID(ctx context.Context, orderID int64) (*Receipt, error)
	UpdateReceiptStatus(ctx context.Context, orderID int64, status string, metadata map[string]any) error
	ListReceipts(ctx context.Context, customerID int64, limit int) ([]Receipt, error)
}

// Drivers accepted by Open.
const (
	DriverNone     = "none"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the configured ledger and applies its migrations. DriverNone returns nil, nil.
func Open(ctx context.Context, driver, dsn, schema string, migrations fs.FS, logger *slog.Logger) (Repository, error) {
	var (
		repository Repository
		sub        string
	)
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverNone:
		return nil, nil
	case DriverSQLite:
		r, err := NewSQLite(ctx, dsn, logger)
		if err != nil {
			return nil, err
		}
		repository, sub = r, DriverSQLite
	case DriverPostgres:
		r, err := New(ctx, dsn, schema, logger)
		if err != nil {
			return nil, err
		}
		repository, sub = r, DriverPostgres
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", driver)
	}

	if migrations != nil {
		dir, err := fs.Sub(migrations, sub)
		if err != nil {
			repository.Close()
			return nil, fmt.Errorf("open %s migrations: %w", sub, err)
		}
		if err := repository.RunMigrations(ctx, dir); err != nil {
			repository.Close()
			return nil, err
		}
	}
	return repository, nil
}
