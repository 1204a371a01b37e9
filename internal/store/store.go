// Package store is the PoI Store (spec.md §4.B): a transactional
// persistence layer over Postgres for the entities in §3, with the
// liveness invariant, pair-normalized divergence reports, and the
// cross_check_reports notification channel.
package store

import (
	"context"
	"embed"
	"fmt"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"cross-checker/internal/notifybus"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID is the advisory lock key migrations run under, so
// that concurrently starting processes don't race to create tables.
const migrationLockID = 1

type Store struct {
	pool     *pgxpool.Pool
	bus      *notifybus.Bus
	listener *notifybus.PGListener
}

// Open connects to dbURL and returns a Store ready for Migrate. Pool
// sizing follows DB_MAX_OPEN_CONNS/DB_MAX_IDLE_CONNS style overrides
// when maxOpen/maxIdle are zero.
func Open(ctx context.Context, dbURL string, maxOpen, maxIdle int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse db url: %w", err)
	}

	if maxOpen == 0 {
		maxOpen = envInt("DB_MAX_OPEN_CONNS", 0)
	}
	if maxOpen > 0 {
		cfg.MaxConns = int32(maxOpen)
	}
	if maxIdle == 0 {
		maxIdle = envInt("DB_MAX_IDLE_CONNS", 0)
	}
	if maxIdle > 0 {
		cfg.MinConns = int32(maxIdle)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	bus := notifybus.New()
	listener, err := notifybus.NewPGListener(ctx, dbURL, bus)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: listen %s: %w", notifybus.Channel, err)
	}
	go func() {
		if err := listener.Run(context.Background()); err != nil {
			// The listener connection died; Recv callers will block
			// forever. Operators notice via the stalled bisection
			// worker pool and restart the process.
			fmt.Fprintf(os.Stderr, "[store] notification listener stopped: %v\n", err)
		}
	}()

	return &Store{pool: pool, bus: bus, listener: listener}, nil
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (s *Store) Close() {
	s.bus.Close()
	if s.listener != nil {
		s.listener.Close(context.Background())
	}
	s.pool.Close()
}

// Migrate runs every embedded migration inside a single advisory-lock
// critical section, so that multiple processes starting concurrently
// serialize rather than race on DDL.
func (s *Store) Migrate(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("store: acquire for migrate: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("store: acquire migration lock: %w", err)
	}
	defer conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID)

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("store: read migrations: %w", err)
	}
	for _, entry := range entries {
		content, err := migrationFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("store: read migration %s: %w", entry.Name(), err)
		}
		if _, err := conn.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("store: apply migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}
