package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cbodonnell/flywheel-exchange/pkg/exchange"
	_ "github.com/mattn/go-sqlite3"
)

var _ Repository = &SQLiteRepository{}

type SQLiteRepository struct {
	db           *sql.DB
	beltCapacity int
}

// NewSQLiteRepository opens the database at path and applies every file in
// the migrations directory in name order.
func NewSQLiteRepository(ctx context.Context, path string, migrations string, beltCapacity int) (*SQLiteRepository, error) {
	// foreign keys are per connection in SQLite
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	// a single writer keeps exchange transactions serialized
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, migrations, func(ctx context.Context, migration string) error {
		_, err := db.ExecContext(ctx, migration)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	if beltCapacity <= 0 {
		beltCapacity = DefaultBeltCapacity
	}
	return &SQLiteRepository{
		db:           db,
		beltCapacity: beltCapacity,
	}, nil
}

// runMigrations executes the migration files in dir in name order.
func runMigrations(ctx context.Context, dir string, exec func(ctx context.Context, migration string) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %v", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}

		migrationPath := filepath.Join(dir, entry.Name())
		migration, err := os.ReadFile(migrationPath)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %v", migrationPath, err)
		}

		if err := exec(ctx, string(migration)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %v", migrationPath, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

// DB exposes the underlying handle for seeding records the exchange does
// not create, such as accounts, characters and amulets.
func (r *SQLiteRepository) DB() *sql.DB {
	return r.db
}

func (r *SQLiteRepository) WithTx(ctx context.Context, fn func(ctx context.Context, stores exchange.Stores) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqlStores{q: sqliteQuerier{tx}, beltCapacity: r.beltCapacity}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type sqliteQuerier struct {
	tx *sql.Tx
}

func (q sqliteQuerier) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := q.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q sqliteQuerier) QueryRow(ctx context.Context, query string, args ...interface{}) rowScanner {
	return sqliteRow{q.tx.QueryRowContext(ctx, query, args...)}
}

func (q sqliteQuerier) Query(ctx context.Context, query string, args ...interface{}) (rows, error) {
	r, err := q.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqliteRows{r}, nil
}

type sqliteRow struct {
	row *sql.Row
}

func (r sqliteRow) Scan(dest ...interface{}) error {
	if err := r.row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &ErrNotFound{}
		}
		return err
	}
	return nil
}

type sqliteRows struct {
	*sql.Rows
}

func (r sqliteRows) Close() {
	r.Rows.Close()
}
