package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const receiptColumns = `id::text, order_id, customer_id, artwork_id, artwork_title, phone_number, payment_method, status, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// InsertReceipt stores a receipt. Inserting the same order twice returns the existing row.
func (r *PostgresRepository) InsertReceipt(ctx context.Context, receipt Receipt) (*Receipt, error) {
	meta, err := toJSON(receipt.Metadata)
	if err != nil {
		return nil, err
	}
	q := `
INSERT INTO receipts (order_id, customer_id, artwork_id, artwork_title, phone_number, payment_method, status, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (order_id) DO UPDATE SET updated_at = receipts.updated_at
RETURNING ` + receiptColumns + `;`
	row := r.pool.QueryRow(ctx, q,
		receipt.OrderID,
		receipt.CustomerID,
		receipt.ArtworkID,
		receipt.ArtworkTitle,
		receipt.PhoneNumber,
		receipt.PaymentMethod,
		receipt.Status,
		jsonParam(meta),
	)
	inserted, err := scanReceipt(row)
	if err != nil {
		return nil, fmt.Errorf("insert receipt: %w", err)
	}
	return inserted, nil
}

// GetReceiptByOrderID retrieves the receipt of a backend order.
func (r *PostgresRepository) GetReceiptByOrderID(ctx context.Context, orderID int64) (*Receipt, error) {
	q := `SELECT ` + receiptColumns + ` FROM receipts WHERE order_id = $1 LIMIT 1;`
	receipt, err := scanReceipt(r.pool.QueryRow(ctx, q, orderID))
	if err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("receipt for order %d: %w", orderID, ErrNotFound)
		}
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	return receipt, nil
}

// UpdateReceiptStatus sets the payment status and merges metadata into the stored object.
func (r *PostgresRepository) UpdateReceiptStatus(ctx context.Context, orderID int64, status string, metadata map[string]any) error {
	meta, err := toJSON(metadata)
	if err != nil {
		return err
	}
	const q = `
UPDATE receipts
SET status = $2,
    metadata = COALESCE(metadata, '{}'::jsonb) || COALESCE($3::jsonb, '{}'::jsonb),
    updated_at = NOW()
WHERE order_id = $1;
`
	ct, err := r.pool.Exec(ctx, q, orderID, status, jsonParam(meta))
	if err != nil {
		return fmt.Errorf("update receipt status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("receipt for order %d: %w", orderID, ErrNotFound)
	}
	return nil
}

// ListReceipts returns receipts newest first. customerID 0 lists every customer.
func (r *PostgresRepository) ListReceipts(ctx context.Context, customerID int64, limit int) ([]Receipt, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
SELECT ` + receiptColumns + `
FROM receipts
WHERE $1 = 0 OR customer_id = $1
ORDER BY created_at DESC
LIMIT $2;`
	rows, err := r.pool.Query(ctx, q, customerID, limit)
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

func scanReceipt(row rowScanner) (*Receipt, error) {
	var (
		receipt  Receipt
		metaJSON []byte
	)
	if err := row.Scan(
		&receipt.ID,
		&receipt.OrderID,
		&receipt.CustomerID,
		&receipt.ArtworkID,
		&receipt.ArtworkTitle,
		&receipt.PhoneNumber,
		&receipt.PaymentMethod,
		&receipt.Status,
		&metaJSON,
		&receipt.CreatedAt,
		&receipt.UpdatedAt,
	); err != nil {
		return nil, err
	}
	receipt.Metadata = fromJSON(metaJSON)
	return &receipt, nil
}

func toJSON(val map[string]any) ([]byte, error) {
	if val == nil {
		return nil, nil
	}
	data, err := json.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return data, nil
}

func fromJSON(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"_raw": string(data)}
	}
	return m
}

func jsonParam(data []byte) any {
	if data == nil {
		return nil
	}
	return string(data)
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
