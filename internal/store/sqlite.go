package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps all records in one SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One writer; SQLite serializes anyway and this avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if err := migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite %q: %w", path, err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Get(ctx context.Context, task string) (*Record, error) {
	var (
		rec      Record
		storedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT task, fingerprint, output, stored_at FROM results WHERE task = ?`, task,
	).Scan(&rec.Task, &rec.Fingerprint, &rec.Output, &storedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", task, err)
	}
	t, err := time.Parse(time.RFC3339Nano, storedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: bad stored_at for %q: %v", ErrCorruptRecord, task, err)
	}
	rec.StoredAt = t
	return &rec, nil
}

func (s *SQLiteStore) Put(ctx context.Context, rec Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	output := rec.Output
	if output == nil {
		output = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO results (task, fingerprint, output, size, stored_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			output      = excluded.output,
			size        = excluded.size,
			stored_at   = excluded.stored_at`,
		rec.Task, rec.Fingerprint, output, len(output), rec.StoredAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put %q: %w", rec.Task, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, task string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM results WHERE task = ?`, task); err != nil {
		return fmt.Errorf("delete %q: %w", task, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]RecordInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task, fingerprint, size, stored_at FROM results ORDER BY task`)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	var out []RecordInfo
	for rows.Next() {
		var (
			info     RecordInfo
			storedAt string
		)
		if err := rows.Scan(&info.Task, &info.Fingerprint, &info.Size, &storedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, storedAt); err == nil {
			info.StoredAt = t
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
