// Package memory keeps worksheets in process memory for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/healthsync/internal/sheet"
)

// Book is a thread-safe in-memory spreadsheet.
type Book struct {
	mu     sync.RWMutex
	sheets map[string][][]string
}

// NewBook returns an empty book.
func NewBook() *Book {
	return &Book{sheets: make(map[string][][]string)}
}

// NewStore returns a sheet.Store backed by a fresh in-memory book.
func NewStore() (*sheet.GridStore, *Book) {
	book := NewBook()
	return sheet.NewGridStore(book, nil), book
}

// Worksheet returns the named worksheet or sheet.ErrWorksheetNotFound.
func (b *Book) Worksheet(_ context.Context, name string) (sheet.Grid, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.sheets[name]; !ok {
		return nil, fmt.Errorf("%w: %s", sheet.ErrWorksheetNotFound, name)
	}
	return &grid{book: b, name: name}, nil
}

// AddWorksheet creates a worksheet whose first row is header.
func (b *Book) AddWorksheet(_ context.Context, name string, header []string) (sheet.Grid, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sheets[name]; ok {
		return nil, fmt.Errorf("worksheet %s already exists", name)
	}
	rows := [][]string{}
	if len(header) > 0 {
		rows = append(rows, append([]string(nil), header...))
	}
	b.sheets[name] = rows
	return &grid{book: b, name: name}, nil
}

// Seed replaces a worksheet's contents.
func (b *Book) Seed(name string, rows [][]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sheets[name] = cloneRows(rows)
}

// Rows returns a copy of a worksheet's contents, or nil when it does not exist.
func (b *Book) Rows(name string) [][]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rows, ok := b.sheets[name]
	if !ok {
		return nil
	}
	return cloneRows(rows)
}

// Names lists the worksheets in lexical order.
func (b *Book) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.sheets))
	for name := range b.sheets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type grid struct {
	book *Book
	name string
}

func (g *grid) Values(_ context.Context) ([][]string, error) {
	g.book.mu.RLock()
	defer g.book.mu.RUnlock()
	return cloneRows(g.book.sheets[g.name]), nil
}

func (g *grid) UpdateRange(_ context.Context, row, col int, values []string) error {
	if row < 0 || col < 0 {
		return fmt.Errorf("invalid cell %d,%d", row, col)
	}
	g.book.mu.Lock()
	defer g.book.mu.Unlock()
	rows := g.book.sheets[g.name]
	for len(rows) <= row {
		rows = append(rows, nil)
	}
	cells := rows[row]
	for len(cells) < col+len(values) {
		cells = append(cells, "")
	}
	copy(cells[col:], values)
	rows[row] = cells
	g.book.sheets[g.name] = rows
	return nil
}

func (g *grid) AppendRow(_ context.Context, values []string) error {
	g.book.mu.Lock()
	defer g.book.mu.Unlock()
	g.book.sheets[g.name] = append(g.book.sheets[g.name], append([]string(nil), values...))
	return nil
}

func cloneRows(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}
