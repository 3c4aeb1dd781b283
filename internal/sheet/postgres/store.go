// Package postgres upserts worksheet rows into Postgres tables, one table per worksheet.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/healthsync/internal/sheet"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store writes rows with INSERT ... ON CONFLICT.
type Store struct {
	pool pool

	mu      sync.Mutex
	created map[string]struct{}
}

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, created: make(map[string]struct{})}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p, created: make(map[string]struct{})}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Upsert inserts row or updates the row with the same key.
func (s *Store) Upsert(ctx context.Context, table sheet.Table, row sheet.Row) (sheet.Outcome, error) {
	if err := table.Validate(); err != nil {
		return "", err
	}
	if err := table.ValidateIdentifiers(); err != nil {
		return "", err
	}
	if _, err := row.Key(table); err != nil {
		return "", err
	}
	if err := s.ensureTable(ctx, table); err != nil {
		return "", err
	}

	values := row.Values(table)
	args := make([]any, len(values))
	for i, v := range values {
		if i < table.KeyColumns {
			v = strings.TrimSpace(v)
		}
		args[i] = v
	}
	var inserted bool
	if err := s.pool.QueryRow(ctx, UpsertSQL(table), args...).Scan(&inserted); err != nil {
		return "", fmt.Errorf("upsert %s: %w", table.Name, err)
	}
	if inserted {
		return sheet.OutcomeInserted, nil
	}
	return sheet.OutcomeUpdated, nil
}

func (s *Store) ensureTable(ctx context.Context, table sheet.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.created[table.Name]; ok {
		return nil
	}
	if _, err := s.pool.Exec(ctx, CreateTableSQL(table)); err != nil {
		return fmt.Errorf("create table %s: %w", table.Name, err)
	}
	s.created[table.Name] = struct{}{}
	return nil
}

// CreateTableSQL returns the DDL for table. Every column is TEXT.
func CreateTableSQL(table sheet.Table) string {
	defs := make([]string, 0, len(table.Columns)+1)
	for _, c := range table.Columns {
		def := quote(c.Name) + " TEXT"
		if !c.Optional {
			def += " NOT NULL DEFAULT ''"
		}
		defs = append(defs, def)
	}
	defs = append(defs, "PRIMARY KEY ("+joinQuoted(table.KeyNames())+")")
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(table.Name), strings.Join(defs, ", "))
}

// UpsertSQL returns the upsert statement for table. Merge tables keep existing values
// wherever the incoming cell is empty.
func UpsertSQL(table sheet.Table) string {
	header := table.Header()
	placeholders := make([]string, len(header))
	for i := range header {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf(
		"INSERT INTO %s AS t (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s RETURNING (xmax = 0) AS inserted",
		quote(table.Name),
		joinQuoted(header),
		strings.Join(placeholders, ", "),
		joinQuoted(table.KeyNames()),
		strings.Join(assignments(table, "t"), ", "),
	)
}

func assignments(table sheet.Table, alias string) []string {
	rest := table.Columns[table.KeyColumns:]
	if len(rest) == 0 {
		k := quote(table.Columns[0].Name)
		return []string{k + " = EXCLUDED." + k}
	}
	out := make([]string, len(rest))
	for i, c := range rest {
		col := quote(c.Name)
		if table.Merge {
			out[i] = fmt.Sprintf("%s = COALESCE(NULLIF(EXCLUDED.%s, ''), %s.%s)", col, col, alias, col)
			continue
		}
		out[i] = fmt.Sprintf("%s = EXCLUDED.%s", col, col)
	}
	return out
}

func quote(ident string) string {
	return `"` + ident + `"`
}

func joinQuoted(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quote(n)
	}
	return strings.Join(out, ", ")
}
