package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/computerd/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// One connection: SQLite has a single writer and every :memory:
	// connection would otherwise see its own empty database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
		now:    time.Now,
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

const upsertComputer = `INSERT INTO computers (id, label, is_on, state, updated_at, created_at)
	 VALUES (?, ?, ?, ?, ?, ?)
	 ON CONFLICT(id) DO UPDATE SET
	   label = excluded.label,
	   is_on = excluded.is_on,
	   state = excluded.state,
	   updated_at = excluded.updated_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) put(ctx context.Context, db execer, rec model.ComputerRecord) error {
	now := s.now().UTC()
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = now
	}
	_, err := db.ExecContext(ctx, upsertComputer,
		rec.ID, rec.Label, boolToInt(rec.On), rec.State,
		updated.UTC().Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put computer %d: %w", rec.ID, err)
	}
	return nil
}

// PutComputer inserts or updates a single record.
func (s *SQLiteStore) PutComputer(ctx context.Context, rec model.ComputerRecord) error {
	s.logger.Debug("sql", "op", "upsert", "table", "computers", "id", rec.ID)
	return s.put(ctx, s.db, rec)
}

// SaveComputers replaces the stored set with recs in one transaction.
func (s *SQLiteStore) SaveComputers(ctx context.Context, recs []model.ComputerRecord) error {
	s.logger.Debug("sql", "op", "save_all", "table", "computers", "count", len(recs))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ids := make([]any, 0, len(recs))
	for _, rec := range recs {
		if err := s.put(ctx, tx, rec); err != nil {
			return err
		}
		ids = append(ids, rec.ID)
	}

	del := "DELETE FROM computers"
	if len(ids) > 0 {
		del += " WHERE id NOT IN (" + strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + ")"
	}
	if _, err := tx.ExecContext(ctx, del, ids...); err != nil {
		return fmt.Errorf("prune computers: %w", err)
	}

	return tx.Commit()
}

// LoadComputers returns every stored record in id order.
func (s *SQLiteStore) LoadComputers(ctx context.Context) ([]model.ComputerRecord, error) {
	s.logger.Debug("sql", "op", "select", "table", "computers")

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label, is_on, state, updated_at FROM computers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ComputerRecord
	for rows.Next() {
		rec, err := scanComputer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// GetComputer returns the record for id, or nil when it is not stored.
func (s *SQLiteStore) GetComputer(ctx context.Context, id int) (*model.ComputerRecord, error) {
	s.logger.Debug("sql", "op", "select", "table", "computers", "id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, label, is_on, state, updated_at FROM computers WHERE id = ?`, id)
	rec, err := scanComputer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// DeleteComputer removes the record for id. Deleting a missing id is not an error.
func (s *SQLiteStore) DeleteComputer(ctx context.Context, id int) error {
	s.logger.Debug("sql", "op", "delete", "table", "computers", "id", id)
	_, err := s.db.ExecContext(ctx, `DELETE FROM computers WHERE id = ?`, id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanComputer(row scanner) (*model.ComputerRecord, error) {
	var rec model.ComputerRecord
	var on int
	var updatedAt string
	if err := row.Scan(&rec.ID, &rec.Label, &on, &rec.State, &updatedAt); err != nil {
		return nil, err
	}
	rec.On = on != 0
	if updatedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse updated_at for computer %d: %w", rec.ID, err)
		}
		rec.UpdatedAt = t
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
