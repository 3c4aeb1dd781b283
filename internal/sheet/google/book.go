// Package google stores worksheets in a Google Sheets spreadsheet.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/JakeFAU/healthsync/internal/sheet"
)

const (
	// Cells are stored as sent so keys read back exactly as written.
	valueInput   = "RAW"
	newSheetRows = 1000
	minSheetCols = 20
)

// Config captures the spreadsheet to write to and the service account to use.
type Config struct {
	SpreadsheetID string
	// CredentialsFile is read first when it exists.
	CredentialsFile string
	// CredentialsJSON is the inline service-account key.
	CredentialsJSON string
}

// Book is a spreadsheet reachable through the Sheets API.
type Book struct {
	values        *sheets.SpreadsheetsValuesService
	spreadsheets  *sheets.SpreadsheetsService
	spreadsheetID string

	mu     sync.Mutex
	titles map[string]struct{}
}

// New creates a sheet.Store writing to cfg.SpreadsheetID.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*sheet.GridStore, error) {
	book, err := NewBook(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return sheet.NewGridStore(book, nil), nil
}

// NewBook connects to the Sheets API. Credentials are loaded from cfg unless opts are provided.
func NewBook(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Book, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, fmt.Errorf("store.spreadsheet_id is required")
	}
	if len(opts) == 0 {
		creds, err := LoadCredentials(cfg.CredentialsFile, cfg.CredentialsJSON)
		if err != nil {
			return nil, err
		}
		opts = []option.ClientOption{
			option.WithCredentialsJSON(creds),
			option.WithScopes(sheets.SpreadsheetsScope),
		}
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Book{
		values:        svc.Spreadsheets.Values,
		spreadsheets:  svc.Spreadsheets,
		spreadsheetID: cfg.SpreadsheetID,
	}, nil
}

// LoadCredentials returns service-account JSON from file when it exists, otherwise from inline.
// Literal "\n" sequences in private_key are turned into newlines.
func LoadCredentials(file, inline string) ([]byte, error) {
	var raw []byte
	if file != "" {
		data, err := os.ReadFile(file)
		switch {
		case err == nil:
			raw = data
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
	}
	if len(raw) == 0 {
		raw = []byte(strings.TrimSpace(inline))
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("google credentials are required (GOOGLE_CREDENTIALS_JSON or store.credentials_file)")
	}
	return normalizePrivateKey(raw)
}

func normalizePrivateKey(raw []byte) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	key, ok := doc["private_key"].(string)
	if !ok || !strings.Contains(key, `\n`) {
		return raw, nil
	}
	doc["private_key"] = strings.ReplaceAll(key, `\n`, "\n")
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode credentials: %w", err)
	}
	return out, nil
}

// Worksheet returns the named worksheet or sheet.ErrWorksheetNotFound.
func (b *Book) Worksheet(ctx context.Context, name string) (sheet.Grid, error) {
	ok, err := b.hasTitle(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", sheet.ErrWorksheetNotFound, name)
	}
	return &grid{book: b, title: name}, nil
}

// AddWorksheet creates the worksheet and writes header into its first row.
func (b *Book) AddWorksheet(ctx context.Context, name string, header []string) (sheet.Grid, error) {
	cols := int64(max(len(header), minSheetCols))
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{
					Title: name,
					GridProperties: &sheets.GridProperties{
						RowCount:    newSheetRows,
						ColumnCount: cols,
					},
				},
			},
		}},
	}
	if _, err := b.spreadsheets.BatchUpdate(b.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return nil, fmt.Errorf("add worksheet %s: %w", name, err)
	}
	b.mu.Lock()
	if b.titles != nil {
		b.titles[name] = struct{}{}
	}
	b.mu.Unlock()

	g := &grid{book: b, title: name}
	if len(header) > 0 {
		if err := g.UpdateRange(ctx, 0, 0, header); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (b *Book) hasTitle(ctx context.Context, name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.titles == nil {
		resp, err := b.spreadsheets.Get(b.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
		if err != nil {
			return false, fmt.Errorf("list worksheets: %w", err)
		}
		b.titles = make(map[string]struct{}, len(resp.Sheets))
		for _, s := range resp.Sheets {
			if s.Properties != nil {
				b.titles[s.Properties.Title] = struct{}{}
			}
		}
	}
	_, ok := b.titles[name]
	return ok, nil
}

type grid struct {
	book  *Book
	title string
}

func (g *grid) Values(ctx context.Context) ([][]string, error) {
	resp, err := g.book.values.Get(g.book.spreadsheetID, quoteTitle(g.title)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get values: %w", err)
	}
	out := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = fmt.Sprint(v)
		}
		out[i] = cells
	}
	return out, nil
}

func (g *grid) UpdateRange(ctx context.Context, row, col int, values []string) error {
	if len(values) == 0 {
		return nil
	}
	rng := CellRange(g.title, row, col, len(values))
	body := &sheets.ValueRange{Values: [][]any{toAny(values)}}
	if _, err := g.book.values.Update(g.book.spreadsheetID, rng, body).
		ValueInputOption(valueInput).Context(ctx).Do(); err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

func (g *grid) AppendRow(ctx context.Context, values []string) error {
	body := &sheets.ValueRange{Values: [][]any{toAny(values)}}
	if _, err := g.book.values.Append(g.book.spreadsheetID, quoteTitle(g.title), body).
		ValueInputOption(valueInput).InsertDataOption("INSERT_ROWS").Context(ctx).Do(); err != nil {
		return fmt.Errorf("append to %s: %w", g.title, err)
	}
	return nil
}

// ColumnLetter converts a 0-based column index to A1 letters (0 -> A, 26 -> AA).
func ColumnLetter(col int) string {
	var out []byte
	for n := col + 1; n > 0; n = (n - 1) / 26 {
		out = append([]byte{byte('A' + (n-1)%26)}, out...)
	}
	return string(out)
}

// CellRange returns the A1 range covering width cells of row starting at col.
func CellRange(title string, row, col, width int) string {
	start := ColumnLetter(col) + strconv.Itoa(row+1)
	if width <= 1 {
		return quoteTitle(title) + "!" + start
	}
	end := ColumnLetter(col+width-1) + strconv.Itoa(row+1)
	return quoteTitle(title) + "!" + start + ":" + end
}

func quoteTitle(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
