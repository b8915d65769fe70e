package watermark

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/ajitpratap0/ledgersync/pkg/errors"
)

const mysqlSchema = `CREATE TABLE IF NOT EXISTS %s (
	pipeline_key VARCHAR(128) NOT NULL,
	watermark DATETIME(6) NOT NULL,
	updated_at DATETIME(6) NOT NULL,
	PRIMARY KEY (pipeline_key)
)`

// MySQLStore keeps watermarks in a MySQL table, one row per pipeline key
type MySQLStore struct {
	db    *sql.DB
	table string
	key   string
	opts  options

	load   string
	upsert string
	reset  string
}

// OpenMySQLStore connects with a go-sql-driver DSN. Time parsing is forced on
// and all values are read and written in UTC.
func OpenMySQLStore(ctx context.Context, dsn, table, key string, opts ...Option) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid mysql dsn")
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid mysql configuration")
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "mysql ping failed")
	}

	s, err := NewMySQLStore(db, table, key, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewMySQLStore wraps an open database
func NewMySQLStore(db *sql.DB, table, key string, opts ...Option) (*MySQLStore, error) {
	table, err := sanitizeTableName(table)
	if err != nil {
		return nil, err
	}

	o := newOptions(opts)
	o.logger = o.logger.With(zap.String("component", "watermark_mysql"), zap.String("table", table))

	return &MySQLStore{
		db:    db,
		table: table,
		key:   key,
		opts:  o,
		load:  fmt.Sprintf("SELECT watermark FROM %s WHERE pipeline_key = ?", table),
		// updated_at is assigned first because MySQL evaluates the SET list
		// left to right against the already-updated row
		upsert: fmt.Sprintf(
			"INSERT INTO %s (pipeline_key, watermark, updated_at) VALUES (?, ?, ?) "+
				"ON DUPLICATE KEY UPDATE "+
				"updated_at = IF(VALUES(watermark) > watermark, VALUES(updated_at), updated_at), "+
				"watermark = GREATEST(watermark, VALUES(watermark))",
			table,
		),
		reset: fmt.Sprintf(
			"INSERT INTO %s (pipeline_key, watermark, updated_at) VALUES (?, ?, ?) "+
				"ON DUPLICATE KEY UPDATE watermark = VALUES(watermark), updated_at = VALUES(updated_at)",
			table,
		),
	}, nil
}

// EnsureSchema creates the table when missing
func (s *MySQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(mysqlSchema, s.table)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to create watermark table").
			WithDetail("table", s.table)
	}
	return nil
}

// Load reads the row for this pipeline
func (s *MySQLStore) Load(ctx context.Context) (time.Time, bool, error) {
	var wm time.Time
	err := s.db.QueryRowContext(ctx, s.load, s.key).Scan(&wm)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, errors.ErrorTypeQuery, "failed to load watermark").
			WithDetail("key", s.key)
	}
	return wm.UTC(), true, nil
}

// Save upserts wm; an existing later value is kept
func (s *MySQLStore) Save(ctx context.Context, wm time.Time) error {
	return s.exec(ctx, s.upsert, wm)
}

// Reset upserts wm unconditionally
func (s *MySQLStore) Reset(ctx context.Context, wm time.Time) error {
	return s.exec(ctx, s.reset, wm)
}

// Close closes the database
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func (s *MySQLStore) exec(ctx context.Context, query string, wm time.Time) error {
	wm = Normalize(wm)
	if _, err := s.db.ExecContext(ctx, query, s.key, wm, s.opts.clock.Now().UTC()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to save watermark").
			WithDetail("key", s.key)
	}
	s.opts.logger.Debug("watermark saved", zap.Time("watermark", wm))
	return nil
}
