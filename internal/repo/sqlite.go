package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// sqlitePragmas apply to every pooled connection.
var sqlitePragmas = []string{
	"busy_timeout=10000",
	"journal_mode=WAL",
	"foreign_keys=ON",
}

const sqliteReceiptColumns = `id, order_id, customer_id, artwork_id, artwork_title, phone_number, payment_method, status, metadata, created_at, updated_at`

// SQLiteRepository keeps the ledger in a single SQLite file next to the session.
type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLite opens the ledger file at path. ":memory:" gives a private in-memory ledger.
func NewSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteRepository, error) {
	dsn, err := sqliteDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	if strings.Contains(dsn, ":memory:") {
		// Every new connection to :memory: is a fresh database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite ledger: %w", err)
	}
	logger = logger.With("component", "ledger_sqlite")
	logger.Debug("sqlite ledger opened", "path", path)
	return &SQLiteRepository{db: db, logger: logger}, nil
}

func sqliteDSN(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("sqlite ledger path is empty")
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	params := make([]string, 0, len(sqlitePragmas))
	for _, p := range sqlitePragmas {
		params = append(params, "_pragma="+p)
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&"), nil
}

func (r *SQLiteRepository) Close() {
	if r.db != nil {
		r.db.Close()
	}
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// RunMigrations applies the files in filesystem that have not run yet.
func (r *SQLiteRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return applySQLMigrations(ctx, r.db, filesystem)
}

// InsertMessage keeps a copy of a message. A record with a known remote id is stored once.
func (r *SQLiteRepository) InsertMessage(ctx context.Context, msg MessageRecord) error {
	raw, err := toJSON(msg.RawPayload)
	if err != nil {
		return err
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	const q = `
INSERT INTO ledger_messages (id, remote_id, owner_id, peer_id, direction, content, raw_payload, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (remote_id) DO NOTHING;
`
	_, err = r.db.ExecContext(ctx, q,
		uuid.NewString(),
		nullableID(msg.RemoteID),
		msg.OwnerID,
		msg.PeerID,
		msg.Direction,
		msg.Content,
		jsonParam(raw),
		createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListRecentMessages returns up to limit records of one thread, newest first.
func (r *SQLiteRepository) ListRecentMessages(ctx context.Context, ownerID, peerID int64, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT id, COALESCE(remote_id, 0), direction, content, raw_payload, created_at
FROM ledger_messages
WHERE owner_id = ? AND peer_id = ?
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, ownerID, peerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	var records []MessageRecord
	for rows.Next() {
		rec := MessageRecord{OwnerID: ownerID, PeerID: peerID}
		var raw []byte
		if err := rows.Scan(&rec.ID, &rec.RemoteID, &rec.Direction, &rec.Content, &raw, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recent message: %w", err)
		}
		rec.RawPayload = fromJSON(raw)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent messages: %w", err)
	}
	return records, nil
}

// InsertReceipt stores a receipt and returns the stored row. Inserting the same order twice
// returns the first receipt untouched.
func (r *SQLiteRepository) InsertReceipt(ctx context.Context, receipt Receipt) (*Receipt, error) {
	meta, err := toJSON(receipt.Metadata)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	q := `
INSERT INTO receipts (id, order_id, customer_id, artwork_id, artwork_title, phone_number, payment_method, status, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (order_id) DO UPDATE SET updated_at = receipts.updated_at
RETURNING ` + sqliteReceiptColumns + `;`
	row := r.db.QueryRowContext(ctx, q,
		uuid.NewString(),
		receipt.OrderID,
		receipt.CustomerID,
		receipt.ArtworkID,
		receipt.ArtworkTitle,
		receipt.PhoneNumber,
		receipt.PaymentMethod,
		receipt.Status,
		jsonParam(meta),
		now,
		now,
	)
	inserted, err := scanReceipt(row)
	if err != nil {
		return nil, fmt.Errorf("insert receipt: %w", err)
	}
	return inserted, nil
}

func (r *SQLiteRepository) GetReceiptByOrderID(ctx context.Context, orderID int64) (*Receipt, error) {
	q := `SELECT ` + sqliteReceiptColumns + ` FROM receipts WHERE order_id = ? LIMIT 1;`
	receipt, err := scanReceipt(r.db.QueryRowContext(ctx, q, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("receipt for order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	return receipt, nil
}

// UpdateReceiptStatus sets the status and merges metadata into what is already kept.
func (r *SQLiteRepository) UpdateReceiptStatus(ctx context.Context, orderID int64, status string, metadata map[string]any) error {
	meta, err := toJSON(metadata)
	if err != nil {
		return err
	}
	const q = `
UPDATE receipts
SET status = ?,
    metadata = json_patch(COALESCE(metadata, '{}'), COALESCE(?, '{}')),
    updated_at = ?
WHERE order_id = ?;
`
	res, err := r.db.ExecContext(ctx, q, status, jsonParam(meta), time.Now().UTC(), orderID)
	if err != nil {
		return fmt.Errorf("update receipt status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update receipt status: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("receipt for order %d: %w", orderID, ErrNotFound)
	}
	return nil
}

// ListReceipts returns receipts newest first; customerID 0 lists every customer.
func (r *SQLiteRepository) ListReceipts(ctx context.Context, customerID int64, limit int) ([]Receipt, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
SELECT ` + sqliteReceiptColumns + `
FROM receipts
WHERE ? = 0 OR customer_id = ?
ORDER BY created_at DESC, rowid DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, customerID, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	var receipts []Receipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		receipts = append(receipts, *receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}
	return receipts, nil
}
