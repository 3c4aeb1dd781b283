package sheet

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Grid is a worksheet addressed by 0-based row and column indexes. Row 0 is the header.
type Grid interface {
	Values(ctx context.Context) ([][]string, error)
	UpdateRange(ctx context.Context, row, col int, values []string) error
	AppendRow(ctx context.Context, values []string) error
}

// Book is a spreadsheet holding named worksheets.
type Book interface {
	// Worksheet returns ErrWorksheetNotFound when name does not exist.
	Worksheet(ctx context.Context, name string) (Grid, error)
	// AddWorksheet creates name and writes header as its first row.
	AddWorksheet(ctx context.Context, name string, header []string) (Grid, error)
}

// GridStore implements Store on top of a spreadsheet-like Book.
type GridStore struct {
	book  Book
	close func() error
}

// NewGridStore wraps book. closeFn may be nil.
func NewGridStore(book Book, closeFn func() error) *GridStore {
	return &GridStore{book: book, close: closeFn}
}

// Close releases the underlying book.
func (s *GridStore) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

// Upsert writes row into the table's worksheet, creating the worksheet when missing.
func (s *GridStore) Upsert(ctx context.Context, table Table, row Row) (Outcome, error) {
	if err := table.Validate(); err != nil {
		return "", err
	}
	key, err := row.Key(table)
	if err != nil {
		return "", err
	}
	grid, err := s.open(ctx, table)
	if err != nil {
		return "", err
	}
	values, err := grid.Values(ctx)
	if err != nil {
		return "", fmt.Errorf("read worksheet %s: %w", table.Name, err)
	}
	if table.Merge {
		return s.merge(ctx, grid, values, table, row, key)
	}
	return s.replace(ctx, grid, values, table, row, key)
}

func (s *GridStore) open(ctx context.Context, table Table) (Grid, error) {
	grid, err := s.book.Worksheet(ctx, table.Name)
	if err == nil {
		return grid, nil
	}
	if !errors.Is(err, ErrWorksheetNotFound) {
		return nil, fmt.Errorf("open worksheet %s: %w", table.Name, err)
	}
	grid, err = s.book.AddWorksheet(ctx, table.Name, table.Header())
	if err != nil {
		return nil, fmt.Errorf("create worksheet %s: %w", table.Name, err)
	}
	return grid, nil
}

func (s *GridStore) replace(
	ctx context.Context,
	grid Grid,
	values [][]string,
	table Table,
	row Row,
	key []string,
) (Outcome, error) {
	if len(values) == 0 {
		if err := grid.AppendRow(ctx, table.Header()); err != nil {
			return "", fmt.Errorf("write header to %s: %w", table.Name, err)
		}
		values = [][]string{table.Header()}
	}
	positions := make([]int, table.KeyColumns)
	for i := range positions {
		positions[i] = i
	}
	if idx := findRow(values, positions, key); idx > 0 {
		if err := grid.UpdateRange(ctx, idx, 0, row.Values(table)); err != nil {
			return "", fmt.Errorf("update %s row %d: %w", table.Name, idx, err)
		}
		return OutcomeUpdated, nil
	}
	if err := grid.AppendRow(ctx, row.Values(table)); err != nil {
		return "", fmt.Errorf("append to %s: %w", table.Name, err)
	}
	return OutcomeInserted, nil
}

func (s *GridStore) merge(
	ctx context.Context,
	grid Grid,
	values [][]string,
	table Table,
	row Row,
	key []string,
) (Outcome, error) {
	if len(values) == 0 {
		return "", fmt.Errorf("%w: worksheet %s has no header row", ErrMissingColumn, table.Name)
	}
	columns, err := resolveColumns(values[0], table)
	if err != nil {
		return "", fmt.Errorf("worksheet %s: %w", table.Name, err)
	}
	keyPositions := make([]int, table.KeyColumns)
	for i := range keyPositions {
		keyPositions[i] = columns[table.Columns[i].Name]
	}

	outcome := OutcomeUpdated
	target := findRow(values, keyPositions, key)
	if target < 0 {
		target = len(values)
		outcome = OutcomeInserted
		for i, pos := range keyPositions {
			if err := grid.UpdateRange(ctx, target, pos, []string{key[i]}); err != nil {
				return "", fmt.Errorf("create %s row %d: %w", table.Name, target, err)
			}
		}
	}
	for _, c := range table.Columns[table.KeyColumns:] {
		pos, ok := columns[c.Name]
		if !ok {
			continue
		}
		v := row.Get(c.Name)
		if v == "" {
			continue
		}
		if err := grid.UpdateRange(ctx, target, pos, []string{v}); err != nil {
			return "", fmt.Errorf("update %s row %d column %s: %w", table.Name, target, c.Name, err)
		}
	}
	return outcome, nil
}

// resolveColumns maps table column names to header positions.
func resolveColumns(header []string, table Table) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if _, dup := index[name]; !dup && name != "" {
			index[name] = i
		}
	}
	out := make(map[string]int, len(table.Columns))
	for i, c := range table.Columns {
		pos, ok := index[strings.ToLower(strings.TrimSpace(c.Name))]
		if !ok {
			if c.Optional && i >= table.KeyColumns {
				continue
			}
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, c.Name)
		}
		out[c.Name] = pos
	}
	return out, nil
}

// findRow returns the index into values of the first data row matching key, or -1.
func findRow(values [][]string, positions []int, key []string) int {
	for i := 1; i < len(values); i++ {
		if rowMatches(values[i], positions, key) {
			return i
		}
	}
	return -1
}

func rowMatches(cells []string, positions []int, key []string) bool {
	for i, pos := range positions {
		if pos >= len(cells) || strings.TrimSpace(cells[pos]) != key[i] {
			return false
		}
	}
	return true
}
