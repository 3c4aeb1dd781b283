// Package sheet models date-keyed worksheets and the stores that upsert rows into them.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrWorksheetNotFound is returned by a Book when the named worksheet does not exist.
	ErrWorksheetNotFound = errors.New("worksheet not found")
	// ErrMissingColumn is returned when a merge-mode worksheet lacks a required header.
	ErrMissingColumn = errors.New("missing required column")
	// ErrEmptyKey is returned when a row has no value for one of its key columns.
	ErrEmptyKey = errors.New("row key is empty")
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Outcome reports what an upsert did.
type Outcome string

// Upsert outcomes.
const (
	OutcomeInserted Outcome = "inserted"
	OutcomeUpdated  Outcome = "updated"
)

// Column is one named worksheet column.
type Column struct {
	Name string
	// Optional columns are skipped in merge mode when the worksheet header lacks them.
	Optional bool
}

// Table describes a worksheet layout. The first KeyColumns columns identify a row.
type Table struct {
	Name       string
	Columns    []Column
	KeyColumns int
	// Merge makes upserts write only the row's non-empty cells into columns resolved
	// from the existing header, leaving every other cell untouched.
	Merge bool
}

// Header returns the column names in order.
func (t Table) Header() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// KeyNames returns the names of the key columns.
func (t Table) KeyNames() []string {
	return t.Header()[:t.KeyColumns]
}

// Validate checks the table is usable.
func (t Table) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("table name is required")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s has no columns", t.Name)
	}
	if t.KeyColumns <= 0 || t.KeyColumns > len(t.Columns) {
		return fmt.Errorf("table %s: key columns must be between 1 and %d", t.Name, len(t.Columns))
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for i, c := range t.Columns {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" {
			return fmt.Errorf("table %s: column %d has no name", t.Name, i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("table %s: duplicate column %q", t.Name, c.Name)
		}
		seen[name] = struct{}{}
		if i < t.KeyColumns && c.Optional {
			return fmt.Errorf("table %s: key column %q cannot be optional", t.Name, c.Name)
		}
	}
	return nil
}

// ValidateIdentifiers checks that the table and column names are safe SQL identifiers.
func (t Table) ValidateIdentifiers() error {
	if !validIdentifier.MatchString(t.Name) {
		return fmt.Errorf("invalid table name %q", t.Name)
	}
	for _, c := range t.Columns {
		if !validIdentifier.MatchString(c.Name) {
			return fmt.Errorf("invalid column name %q", c.Name)
		}
	}
	return nil
}

// Row holds cell values by column name. Missing cells are written as empty strings.
type Row struct {
	Cells map[string]string
}

// NewRow returns an empty row.
func NewRow() Row {
	return Row{Cells: make(map[string]string)}
}

// Set assigns a cell and returns the row for chaining.
func (r Row) Set(column, value string) Row {
	r.Cells[column] = value
	return r
}

// Get returns a cell value, or "" when unset.
func (r Row) Get(column string) string {
	if r.Cells == nil {
		return ""
	}
	return r.Cells[column]
}

// Values returns the cells ordered by the table columns.
func (r Row) Values(t Table) []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = r.Get(c.Name)
	}
	return out
}

// Key returns the key cells and ErrEmptyKey if any of them is blank.
func (r Row) Key(t Table) ([]string, error) {
	key := make([]string, t.KeyColumns)
	for i := 0; i < t.KeyColumns; i++ {
		name := t.Columns[i].Name
		v := strings.TrimSpace(r.Get(name))
		if v == "" {
			return nil, fmt.Errorf("%w: %s", ErrEmptyKey, name)
		}
		key[i] = v
	}
	return key, nil
}

// Store upserts rows into a named table.
type Store interface {
	Upsert(ctx context.Context, table Table, row Row) (Outcome, error)
	Close() error
}
