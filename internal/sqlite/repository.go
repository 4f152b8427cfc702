// Package sqlite implements the reader post cache on an embedded SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/blackmichael/readercache/internal/domain"
	"github.com/blackmichael/readercache/internal/sqlite/migrations"
	"github.com/blackmichael/readercache/internal/sqlitemigrate"
)

var _ domain.PostRepository = (*Repository)(nil)

// Repository implements domain.PostRepository using SQLite.
type Repository struct {
	db     *sql.DB
	logger *slog.Logger
	tracer trace.Tracer
}

// NewRepository opens the database file at path, applies the embedded
// schema, and returns a new Repository. The caller should call Close when
// the repository is no longer needed.
func NewRepository(ctx context.Context, path string, logger *slog.Logger) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Writers take the lock at BEGIN so concurrent write transactions
	// queue on busy_timeout instead of failing on lock upgrade.
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := sqlitemigrate.Apply(ctx, db, migrations.FS, ""); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return newRepository(db, logger), nil
}

func newRepository(db *sql.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("github.com/blackmichael/readercache/internal/sqlite"),
	}
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Ping verifies the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// withTx runs fn in a write transaction. The transaction ignores ctx
// cancellation once begun: it either commits or rolls back in full.
func (r *Repository) withTx(ctx context.Context, name string, fn func(ctx context.Context, tx *sql.Tx) error, opts ...trace.SpanStartOption) error {
	ctx, span := r.tracer.Start(ctx, "sqlite."+name, opts...)
	defer span.End()

	ctx = context.WithoutCancel(ctx)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "begin")
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name)
		return err
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit")
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func streamAttrs(stream domain.Stream) trace.SpanStartEventOption {
	return trace.WithAttributes(
		attribute.String("stream.name", stream.Name),
		attribute.String("stream.type", stream.Type.String()),
	)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isConstraint(err error, want ...int) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		for _, code := range want {
			if sqliteErr.Code() == code {
				return true
			}
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	return isConstraint(err, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY)
}

func isCheckViolation(err error) bool {
	return isConstraint(err, sqlite3lib.SQLITE_CONSTRAINT_CHECK, sqlite3lib.SQLITE_CONSTRAINT_NOTNULL)
}
