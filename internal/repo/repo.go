package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository keeps the ledger in Postgres.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
}

var _ Repository = (*PostgresRepository)(nil)

// New opens a new connection pool to the database with the desired search_path.
func New(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		logger: logger.With("component", "repo"),
		schema: schema,
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations applies schema migrations on the connected database.
func (r *PostgresRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return ApplyMigrations(ctx, r.pool, filesystem)
}

// InsertMessage stores a message record. Records already kept under the same remote id are skipped.
func (r *PostgresRepository) InsertMessage(ctx context.Context, msg MessageRecord) error {
	raw, err := toJSON(msg.RawPayload)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO ledger_messages (remote_id, owner_id, peer_id, direction, content, raw_payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))
ON CONFLICT (remote_id) DO NOTHING;
`
	_, err = r.pool.Exec(ctx, q,
		nullableID(msg.RemoteID),
		msg.OwnerID,
		msg.PeerID,
		msg.Direction,
		msg.Content,
		jsonParam(raw),
		nullableTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListRecentMessages returns the latest messages kept for one thread, newest first.
func (r *PostgresRepository) ListRecentMessages(ctx context.Context, ownerID, peerID int64, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT id::text, COALESCE(remote_id, 0), direction, content, raw_payload, created_at
FROM ledger_messages
WHERE owner_id = $1 AND peer_id = $2
ORDER BY created_at DESC
LIMIT $3;
`
	rows, err := r.pool.Query(ctx, q, ownerID, peerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	var records []MessageRecord
	for rows.Next() {
		var (
			msg MessageRecord
			raw []byte
		)
		if err := rows.Scan(&msg.ID, &msg.RemoteID, &msg.Direction, &msg.Content, &raw, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recent message: %w", err)
		}
		msg.OwnerID = ownerID
		msg.PeerID = peerID
		msg.RawPayload = fromJSON(raw)
		records = append(records, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent messages: %w", err)
	}
	return records, nil
}

func notFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
