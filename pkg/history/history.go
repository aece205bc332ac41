// Package history is the durable audit log of placed orders. It is a
// record, not state: the token store and budget ledger never read it back,
// so the core stays memory-only across restarts.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/skygate-io/skygate/pkg/models"
)

// Log writes and queries placed orders in a SQLite database.
type Log struct {
	db *sql.DB
}

const createOrdersTable = `
CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	archive_id TEXT NOT NULL,
	aoi TEXT NOT NULL,
	cost_cents INTEGER NOT NULL,
	currency TEXT NOT NULL,
	order_ref TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at);
CREATE INDEX IF NOT EXISTS idx_orders_session ON orders(session_id);
`

// New opens the history database and runs auto-migration.
func New(dbPath string) (*Log, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(createOrdersTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Log{db: db}, nil
}

// Record stores a placed order.
func (l *Log) Record(ctx context.Context, rec models.OrderRecord) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO orders (id, session_id, archive_id, aoi, cost_cents, currency, order_ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.ArchiveID, rec.AOI, int64(rec.Cost), rec.Currency, rec.OrderRef, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record order: %w", err)
	}
	return nil
}

// List returns the most recent orders, newest first.
func (l *Log) List(ctx context.Context, limit int) ([]models.OrderRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, session_id, archive_id, aoi, cost_cents, currency, order_ref, created_at
		 FROM orders ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []models.OrderRecord
	for rows.Next() {
		var rec models.OrderRecord
		var cents int64
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.ArchiveID, &rec.AOI, &cents, &rec.Currency, &rec.OrderRef, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		rec.Cost = models.Cents(cents)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TotalSince sums the cost of orders placed at or after the given time.
func (l *Log) TotalSince(ctx context.Context, since time.Time) (models.Cents, error) {
	var total sql.NullInt64
	err := l.db.QueryRowContext(ctx,
		`SELECT SUM(cost_cents) FROM orders WHERE created_at >= ?`, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total orders: %w", err)
	}
	return models.Cents(total.Int64), nil
}

// Close releases the database handle.
func (l *Log) Close() error {
	return l.db.Close()
}
