package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"   // register "postgres" driver
	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/manualrag-go/internal/bundle"
	"github.com/54b3r/manualrag-go/internal/rag"
)

// Dialect names a supported SQL database.
type Dialect string

const (
	// DialectSQLite uses modernc.org/sqlite.
	DialectSQLite Dialect = "sqlite"
	// DialectPostgres uses github.com/lib/pq.
	DialectPostgres Dialect = "postgres"
)

// SQL is a Backend that records every registration version in a table.
// The latest version of a manual is the row with the highest version.
type SQL struct {
	// db is the underlying database connection pool.
	db *sql.DB
	// dialect selects placeholder syntax.
	dialect Dialect
	// locks serializes writes per account within this process.
	locks accountLocks
	// now is the clock used for created_at. Overridden in tests.
	now func() time.Time
}

// OpenSQL opens the ledger at dsn and runs the schema migration.
// For sqlite, use ":memory:" for an in-memory database in tests.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQL, error) {
	driver := string(dialect)
	switch dialect {
	case DialectSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
	case DialectPostgres:
	default:
		return nil, fmt.Errorf("registry: unknown SQL dialect %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// A single connection keeps :memory: databases shared and avoids
		// SQLITE_BUSY under concurrent writes.
		db.SetMaxOpenConns(1)
	}

	s := &SQL{db: db, dialect: dialect, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQL) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS manual_registrations (
    manual_id       TEXT    NOT NULL,
    version         INTEGER NOT NULL,
    content_handle  TEXT    NOT NULL,
    vector_handle   TEXT    NOT NULL,
    account         TEXT    NOT NULL,
    created_at      BIGINT  NOT NULL,  -- Unix timestamp (seconds)
    PRIMARY KEY (manual_id, version)
)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("registry: migrate: %w", err)
	}
	return nil
}

// Register appends reg to the ledger. reg.Version must be exactly one past
// the current version; zero assigns the next version.
func (s *SQL) Register(ctx context.Context, reg rag.Registration, creds rag.Credentials) (*rag.Receipt, error) {
	unlock := s.locks.lock(creds.Account)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.fail(ctx, "begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	if err := tx.QueryRowContext(ctx,
		s.rebind(`SELECT COALESCE(MAX(version), 0) FROM manual_registrations WHERE manual_id = ?`),
		reg.ManualID,
	).Scan(&current); err != nil {
		return nil, s.fail(ctx, "read version", err)
	}

	version := reg.Version
	if version == 0 {
		version = current + 1
	}
	if version != current+1 {
		return nil, fmt.Errorf("%w: version conflict for %q: have %d, writing %d",
			rag.ErrRegistry, reg.ManualID, current, version)
	}

	if _, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO manual_registrations
    (manual_id, version, content_handle, vector_handle, account, created_at)
VALUES (?, ?, ?, ?, ?, ?)`),
		reg.ManualID, version, string(reg.ContentHandle), string(reg.VectorHandle),
		creds.Account, s.now().Unix(),
	); err != nil {
		return nil, s.fail(ctx, "insert", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, s.fail(ctx, "commit", err)
	}
	return &rag.Receipt{TxHash: reg.ManualID + "@" + strconv.Itoa(version)}, nil
}

// Resolve returns the highest registered version of manualID. The ledger is
// shared, so caller is ignored.
func (s *SQL) Resolve(ctx context.Context, manualID, _ string) (*rag.Registration, error) {
	var (
		version          int
		content, vectors string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
SELECT version, content_handle, vector_handle
FROM   manual_registrations
WHERE  manual_id = ?
ORDER  BY version DESC
LIMIT  1`), manualID).Scan(&version, &content, &vectors)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", rag.ErrManualNotFound, manualID)
	}
	if err != nil {
		return nil, s.fail(ctx, "resolve", err)
	}
	return toRegistration(manualID, content, vectors, version)
}

// History returns every registered version of manualID, oldest first.
func (s *SQL) History(ctx context.Context, manualID string) ([]rag.Registration, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT version, content_handle, vector_handle
FROM   manual_registrations
WHERE  manual_id = ?
ORDER  BY version ASC`), manualID)
	if err != nil {
		return nil, s.fail(ctx, "history", err)
	}
	defer rows.Close()

	var out []rag.Registration
	for rows.Next() {
		var (
			version          int
			content, vectors string
		)
		if err := rows.Scan(&version, &content, &vectors); err != nil {
			return nil, s.fail(ctx, "history scan", err)
		}
		reg, err := toRegistration(manualID, content, vectors, version)
		if err != nil {
			return nil, err
		}
		out = append(out, *reg)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(ctx, "history rows", err)
	}
	return out, nil
}

// Name returns the dependency label used in readiness responses.
func (s *SQL) Name() string { return "registry" }

// Ping checks the database connection.
func (s *SQL) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("registry: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQL) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("registry: close: %w", err)
	}
	return nil
}

// fail wraps a database error as rag.ErrRegistry, preferring the context
// error when the deadline has passed.
func (s *SQL) fail(ctx context.Context, action string, err error) error {
	if ctx.Err() != nil {
		return deadlineError(ctx, action)
	}
	return fmt.Errorf("%w: %s: %w", rag.ErrRegistry, action, err)
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQL) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// toRegistration validates stored handles before they reach storage.
func toRegistration(manualID, content, vectors string, version int) (*rag.Registration, error) {
	ch, err := bundle.ParseHandle(content)
	if err != nil {
		return nil, fmt.Errorf("%w: content handle for %q: %w", rag.ErrRegistry, manualID, err)
	}
	vh, err := bundle.ParseHandle(vectors)
	if err != nil {
		return nil, fmt.Errorf("%w: vector handle for %q: %w", rag.ErrRegistry, manualID, err)
	}
	return &rag.Registration{ManualID: manualID, ContentHandle: ch, VectorHandle: vh, Version: version}, nil
}
