package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/cbodonnell/flywheel-exchange/pkg/exchange"
	"github.com/cbodonnell/flywheel-exchange/pkg/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Repository = &PostgresRepository{}

type PostgresRepository struct {
	pool         *pgxpool.Pool
	beltCapacity int
}

// NewPostgresRepository connects to the database and applies the
// migrations directory. The caller is responsible for calling Close() on
// the repository.
func NewPostgresRepository(ctx context.Context, connStr string, migrations string, beltCapacity int) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	var username string
	var database string
	if err := pool.QueryRow(ctx, "SELECT current_user, current_database()").Scan(&username, &database); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to query database: %v", err)
	}
	log.Info("Connected to %s as %s", database, username)

	if err := runMigrations(ctx, migrations, func(ctx context.Context, migration string) error {
		_, err := pool.Exec(ctx, migration)
		return err
	}); err != nil {
		pool.Close()
		return nil, err
	}

	if beltCapacity <= 0 {
		beltCapacity = DefaultBeltCapacity
	}
	return &PostgresRepository{
		pool:         pool,
		beltCapacity: beltCapacity,
	}, nil
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	r.pool.Close()
	return nil
}

// WithTx runs fn in a serializable transaction so concurrent exchanges on
// the same records behave as if run one after another.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(ctx context.Context, stores exchange.Stores) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &sqlStores{q: postgresQuerier{tx}, beltCapacity: r.beltCapacity}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type postgresQuerier struct {
	tx pgx.Tx
}

func (q postgresQuerier) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	tag, err := q.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q postgresQuerier) QueryRow(ctx context.Context, query string, args ...interface{}) rowScanner {
	return postgresRow{q.tx.QueryRow(ctx, query, args...)}
}

func (q postgresQuerier) Query(ctx context.Context, query string, args ...interface{}) (rows, error) {
	return q.tx.Query(ctx, query, args...)
}

type postgresRow struct {
	row pgx.Row
}

func (r postgresRow) Scan(dest ...interface{}) error {
	if err := r.row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &ErrNotFound{}
		}
		return err
	}
	return nil
}
