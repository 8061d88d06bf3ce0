// Package store provides the shared SQLite storage handle for the AAA
// core. Every component (credential store, policy store, NAS registry,
// accounting session manager, retention job) receives the same *Store
// and owns a disjoint set of tables.
package store

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Config holds storage configuration. Tuning here is deployment-time
// policy, not a per-call option.
type Config struct {
	// Path is the filesystem path to the database file. ":memory:" is
	// accepted for tests but forces PoolSize 1 since each in-memory
	// connection is independent.
	Path string `json:"path"`

	// PoolSize is the number of pooled connections. Defaults to
	// max(NumCPU, 4). SQLite serializes writes regardless of pool size;
	// extra connections serve concurrent readers.
	PoolSize int `json:"pool_size"`

	// BusyTimeoutMS bounds how long a contended write waits for the
	// database lock before failing with a retryable error. Default 5000.
	BusyTimeoutMS int `json:"busy_timeout_ms"`

	// Synchronous is the commit durability level: OFF, NORMAL or FULL.
	// Default NORMAL (safe under WAL).
	Synchronous string `json:"synchronous"`

	// CacheKB is the per-connection page cache size in KiB. Default 8192.
	CacheKB int `json:"cache_kb"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize:      poolSizeDefault(),
		BusyTimeoutMS: 5000,
		Synchronous:   "NORMAL",
		CacheKB:       8192,
	}
}

func poolSizeDefault() int {
	n := runtime.NumCPU()
	if n < 4 {
		n = 4
	}
	return n
}

// Store is a fixed-size pool of SQLite connections with the schema
// bootstrapped and standard pragmas applied. Store is safe for
// concurrent use; individual connections are not. Each goroutine must
// Take its own connection and Put it back when done.
type Store struct {
	pool   *sqlitex.Pool
	logger *zap.Logger
	path   string
}

// Open opens (creating if needed) the database at cfg.Path, applies
// pragmas to every pooled connection, and creates the schema. The
// caller must Close the store when done.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: path required")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = poolSizeDefault()
	}
	if cfg.Path == ":memory:" {
		cfg.PoolSize = 1
	}
	if cfg.BusyTimeoutMS <= 0 {
		cfg.BusyTimeoutMS = 5000
	}
	if cfg.Synchronous == "" {
		cfg.Synchronous = "NORMAL"
	}
	if cfg.CacheKB <= 0 {
		cfg.CacheKB = 8192
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: cfg.PoolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConn(conn, cfg)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", cfg.Path, mapError(err))
	}

	s := &Store{
		pool:   pool,
		logger: logger,
		path:   cfg.Path,
	}

	if err := s.createSchema(); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("Store opened",
		zap.String("path", cfg.Path),
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("busy_timeout_ms", cfg.BusyTimeoutMS),
		zap.String("synchronous", cfg.Synchronous),
	)

	return s, nil
}

// prepareConn applies pragmas to a pooled connection. WAL keeps readers
// unblocked by the single writer; busy_timeout bounds lock waits so a
// contended write fails fast instead of hanging.
func prepareConn(conn *sqlite.Conn, cfg Config) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA synchronous=%s", cfg.Synchronous),
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeoutMS),
		fmt.Sprintf("PRAGMA cache_size=-%d", cfg.CacheKB),
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) createSchema() error {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("store: schema: %w", mapError(err))
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("store: creating schema: %w", mapError(err))
	}
	return nil
}

// Take borrows a connection from the pool, blocking until one is
// available or ctx is cancelled. The caller must Put it back.
func (s *Store) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: take: %w: %v", ErrUnavailable, err)
	}
	return conn, nil
}

// Put returns a connection to the pool.
func (s *Store) Put(conn *sqlite.Conn) {
	s.pool.Put(conn)
}

// Exec runs a single statement on its own pooled connection, returning
// the number of rows changed.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (int, error) {
	conn, err := s.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.Put(conn)

	if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
		return 0, mapError(err)
	}
	return conn.Changes(), nil
}

// Query runs a read-only statement, invoking result for each row.
func (s *Store) Query(ctx context.Context, query string, result func(stmt *sqlite.Stmt) error, args ...any) error {
	conn, err := s.Take(ctx)
	if err != nil {
		return err
	}
	defer s.Put(conn)

	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args:       args,
		ResultFunc: result,
	})
	return mapError(err)
}

// WithTx runs fn inside an IMMEDIATE transaction on a single pooled
// connection. The transaction is rolled back if fn returns an error.
func (s *Store) WithTx(ctx context.Context, fn func(conn *sqlite.Conn) error) (err error) {
	conn, takeErr := s.Take(ctx)
	if takeErr != nil {
		return takeErr
	}
	defer s.Put(conn)

	endTx, txErr := sqlitex.ImmediateTransaction(conn)
	if txErr != nil {
		return fmt.Errorf("store: begin: %w", mapError(txErr))
	}
	defer endTx(&err)

	if err = fn(conn); err != nil {
		return err
	}
	return nil
}

// Vacuum rebuilds the database file, reclaiming space freed by the
// retention sweep. Optional: only invoked explicitly (CLI flag), never
// as part of the sweep itself.
func (s *Store) Vacuum(ctx context.Context) error {
	conn, err := s.Take(ctx)
	if err != nil {
		return err
	}
	defer s.Put(conn)

	if err := sqlitex.ExecuteTransient(conn, "VACUUM", nil); err != nil {
		return fmt.Errorf("store: vacuum: %w", mapError(err))
	}
	s.logger.Info("Database compacted", zap.String("path", s.path))
	return nil
}

// Close closes the pool, blocking until all borrowed connections are
// returned.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("store: closing %s: %w", s.path, err)
	}
	s.logger.Info("Store closed", zap.String("path", s.path))
	return nil
}

// MapError exposes the low-level error mapping for components that run
// their own statements on a borrowed connection.
func MapError(err error) error {
	return mapError(err)
}
