package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"smsrelay/api/internal/filter"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a viewer secret already held by another credential.
	ErrConflict = errors.New("conflict")
	// ErrExists reports a second admin identity.
	ErrExists        = errors.New("already exists")
	ErrMirrorMissing = errors.New("mirror message missing")
)

// SQLStore persists the relay's timeline, outbox and credentials in SQLite or
// PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) timestamp() time.Time {
	return s.now().UTC()
}

// inTx runs fn in a transaction and commits when fn returns nil.
func (s *SQLStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// filterClause renders f as an AND-prefixed predicate over the given columns.
func (s *SQLStore) filterClause(f filter.Filter, contentColumn, counterpartColumn string) (string, []any) {
	switch f.Kind {
	case filter.KindContentContains:
		return " AND " + s.dialect.contains(contentColumn), []any{f.Value}
	case filter.KindSenderMatch:
		return " AND " + s.dialect.contains(counterpartColumn), []any{f.Value}
	default:
		return "", nil
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
