// Package sqlite upserts worksheet rows into a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/healthsync/internal/sheet"
)

// Store writes rows into one SQLite table per worksheet.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	created map[string]struct{}
}

// Open opens (or creates) the database at path. ":memory:" keeps it in process.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store.path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	return &Store{db: db, created: make(map[string]struct{})}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upsert inserts row or updates the row with the same key.
func (s *Store) Upsert(ctx context.Context, table sheet.Table, row sheet.Row) (sheet.Outcome, error) {
	if err := table.Validate(); err != nil {
		return "", err
	}
	if err := table.ValidateIdentifiers(); err != nil {
		return "", err
	}
	key, err := row.Key(table)
	if err != nil {
		return "", err
	}
	if err := s.ensureTable(ctx, table); err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	keyArgs := make([]any, len(key))
	for i, k := range key {
		keyArgs[i] = k
	}
	var one int
	outcome := sheet.OutcomeUpdated
	err = tx.QueryRowContext(ctx, existsSQL(table), keyArgs...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		outcome = sheet.OutcomeInserted
	case err != nil:
		return "", fmt.Errorf("lookup %s: %w", table.Name, err)
	}

	values := row.Values(table)
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	copy(args, keyArgs)
	if _, err := tx.ExecContext(ctx, upsertSQL(table), args...); err != nil {
		return "", fmt.Errorf("upsert %s: %w", table.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return outcome, nil
}

// Rows returns every row of table ordered by key, in column order.
func (s *Store) Rows(ctx context.Context, table sheet.Table) ([][]string, error) {
	if err := table.ValidateIdentifiers(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		joinQuoted(table.Header()), quote(table.Name), joinQuoted(table.KeyNames()))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table.Name, err)
	}
	defer func() { _ = rows.Close() }()

	var out [][]string
	for rows.Next() {
		cells := make([]sql.NullString, len(table.Columns))
		dest := make([]any, len(cells))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table.Name, err)
		}
		record := make([]string, len(cells))
		for i, c := range cells {
			record[i] = c.String
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *Store) ensureTable(ctx context.Context, table sheet.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.created[table.Name]; ok {
		return nil
	}
	defs := make([]string, 0, len(table.Columns)+1)
	for _, c := range table.Columns {
		def := quote(c.Name) + " TEXT"
		if !c.Optional {
			def += " NOT NULL DEFAULT ''"
		}
		defs = append(defs, def)
	}
	defs = append(defs, "PRIMARY KEY ("+joinQuoted(table.KeyNames())+")")
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(table.Name), strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", table.Name, err)
	}
	s.created[table.Name] = struct{}{}
	return nil
}

func existsSQL(table sheet.Table) string {
	conds := make([]string, table.KeyColumns)
	for i, name := range table.KeyNames() {
		conds[i] = quote(name) + " = ?"
	}
	return fmt.Sprintf("SELECT 1 FROM %s WHERE %s", quote(table.Name), strings.Join(conds, " AND "))
}

func upsertSQL(table sheet.Table) string {
	header := table.Header()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(header)), ", ")
	rest := table.Columns[table.KeyColumns:]
	sets := make([]string, 0, len(rest))
	for _, c := range rest {
		col := quote(c.Name)
		if table.Merge {
			sets = append(sets, fmt.Sprintf("%s = COALESCE(NULLIF(excluded.%s, ''), %s)", col, col, col))
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", col, col))
	}
	conflict := "DO NOTHING"
	if len(sets) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		quote(table.Name), joinQuoted(header), placeholders, joinQuoted(table.KeyNames()), conflict)
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
