package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/healthsync/internal/sheet"
)

func TestBookWorksheetNotFound(t *testing.T) {
	t.Parallel()

	_, err := NewBook().Worksheet(context.Background(), "missing")
	require.True(t, errors.Is(err, sheet.ErrWorksheetNotFound))
}

func TestGridUpdateRangePadsRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	book := NewBook()
	g, err := book.AddWorksheet(ctx, "daily", []string{"date", "a"})
	require.NoError(t, err)

	require.NoError(t, g.UpdateRange(ctx, 2, 3, []string{"x"}))
	require.Equal(t, [][]string{
		{"date", "a"},
		nil,
		{"", "", "", "x"},
	}, book.Rows("daily"))
}

func TestValuesReturnsCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	book := NewBook()
	book.Seed("daily", [][]string{{"date"}, {"2024-01-01"}})
	g, err := book.Worksheet(ctx, "daily")
	require.NoError(t, err)

	values, err := g.Values(ctx)
	require.NoError(t, err)
	values[1][0] = "changed"
	require.Equal(t, "2024-01-01", book.Rows("daily")[1][0])
}

func TestAddWorksheetRejectsDuplicate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	book := NewBook()
	_, err := book.AddWorksheet(ctx, "daily", nil)
	require.NoError(t, err)
	_, err = book.AddWorksheet(ctx, "daily", nil)
	require.Error(t, err)
	require.Equal(t, []string{"daily"}, book.Names())
}
