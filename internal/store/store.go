package store

import (
	"context"
	"fmt"
	"time"

	"sales-analytics/config"
	"sales-analytics/internal/util"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Store reads pre-aggregated report inputs from the sales warehouse.
type Store struct {
	db           *sqlx.DB
	queryTimeout time.Duration
}

// NewStore creates a new warehouse store
func NewStore(cfg config.DatabaseConfig) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to warehouse: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping warehouse: %w", err)
	}

	return &Store{db: db, queryTimeout: cfg.QueryTimeout}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks the warehouse connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// selectReport runs a read query under the store timeout and records its
// latency under name.
func (s *Store) selectReport(ctx context.Context, name string, dest interface{}, query string, args ...interface{}) error {
	ctx, span := util.StartSpan(ctx, "Store."+name)
	start := time.Now()

	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	err := s.db.SelectContext(ctx, dest, s.db.Rebind(query), args...)
	util.WarehouseQueryLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	util.EndSpan(span, err)
	if err != nil {
		return fmt.Errorf("%s query failed: %w", name, err)
	}
	return nil
}
