package watermark

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/ledgersync/pkg/errors"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS %s (
	pipeline_key TEXT PRIMARY KEY,
	watermark TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// PostgresStore keeps watermarks in a Postgres table through a pgx pool
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
	key   string
	opts  options

	load   string
	upsert string
	reset  string
}

// OpenPostgresStore connects with a pgx connection string
func OpenPostgresStore(ctx context.Context, dsn, table, key string, opts ...Option) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse connection string")
	}
	poolConfig.MaxConns = 2
	poolConfig.MinConns = 0
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "postgres ping failed")
	}

	s, err := NewPostgresStore(pool, table, key, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an open pool
func NewPostgresStore(pool *pgxpool.Pool, table, key string, opts ...Option) (*PostgresStore, error) {
	table, err := sanitizeTableName(table)
	if err != nil {
		return nil, err
	}

	o := newOptions(opts)
	o.logger = o.logger.With(zap.String("component", "watermark_postgres"), zap.String("table", table))

	const insert = "INSERT INTO %s AS t (pipeline_key, watermark, updated_at) VALUES ($1, $2, $3) " +
		"ON CONFLICT (pipeline_key) DO UPDATE SET watermark = EXCLUDED.watermark, updated_at = EXCLUDED.updated_at"

	return &PostgresStore{
		pool:   pool,
		table:  table,
		key:    key,
		opts:   o,
		load:   fmt.Sprintf("SELECT watermark FROM %s WHERE pipeline_key = $1", table),
		upsert: fmt.Sprintf(insert+" WHERE t.watermark < EXCLUDED.watermark", table),
		reset:  fmt.Sprintf(insert, table),
	}, nil
}

// EnsureSchema creates the table when missing
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(postgresSchema, s.table)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to create watermark table").
			WithDetail("table", s.table)
	}
	return nil
}

// Load reads the row for this pipeline
func (s *PostgresStore) Load(ctx context.Context) (time.Time, bool, error) {
	var wm time.Time
	err := s.pool.QueryRow(ctx, s.load, s.key).Scan(&wm)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, errors.ErrorTypeQuery, "failed to load watermark").
			WithDetail("key", s.key)
	}
	return wm.UTC(), true, nil
}

// Save upserts wm; an existing later value is kept
func (s *PostgresStore) Save(ctx context.Context, wm time.Time) error {
	return s.exec(ctx, s.upsert, wm)
}

// Reset upserts wm unconditionally
func (s *PostgresStore) Reset(ctx context.Context, wm time.Time) error {
	return s.exec(ctx, s.reset, wm)
}

// Close closes the pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) exec(ctx context.Context, query string, wm time.Time) error {
	wm = Normalize(wm)
	if _, err := s.pool.Exec(ctx, query, s.key, wm, s.opts.clock.Now().UTC()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to save watermark").
			WithDetail("key", s.key)
	}
	s.opts.logger.Debug("watermark saved", zap.Time("watermark", wm))
	return nil
}
