package sheet_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/healthsync/internal/sheet"
	"github.com/JakeFAU/healthsync/internal/sheet/memory"
)

var dailyTable = sheet.Table{
	Name:       "oura_data",
	Columns:    []sheet.Column{{Name: "date"}, {Name: "sleep_score"}, {Name: "steps"}},
	KeyColumns: 1,
}

var manualTable = sheet.Table{
	Name: "daily_manual_entry",
	Columns: []sheet.Column{
		{Name: "date"},
		{Name: "coherence"},
		{Name: "session_length", Optional: true},
		{Name: "achievement", Optional: true},
	},
	KeyColumns: 1,
	Merge:      true,
}

func TestGridStoreCreatesWorksheetAndAppends(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, book := memory.NewStore()

	outcome, err := store.Upsert(ctx, dailyTable, sheet.NewRow().Set("date", "2024-01-01").Set("sleep_score", "82"))
	require.NoError(t, err)
	require.Equal(t, sheet.OutcomeInserted, outcome)
	require.Equal(t, [][]string{
		{"date", "sleep_score", "steps"},
		{"2024-01-01", "82", ""},
	}, book.Rows("oura_data"))
}

func TestGridStoreFullModeIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, book := memory.NewStore()
	book.Seed("oura_data", [][]string{
		{"date", "sleep_score", "steps"},
		{"2023-12-31", "70", "9000"},
		{"2024-01-01", "60", "1000"},
	})

	row := sheet.NewRow().Set("date", "2024-01-01").Set("sleep_score", "82").Set("steps", "8500")
	for range 2 {
		outcome, err := store.Upsert(ctx, dailyTable, row)
		require.NoError(t, err)
		require.Equal(t, sheet.OutcomeUpdated, outcome)
	}
	require.Equal(t, [][]string{
		{"date", "sleep_score", "steps"},
		{"2023-12-31", "70", "9000"},
		{"2024-01-01", "82", "8500"},
	}, book.Rows("oura_data"))
}

func TestGridStoreFullModeWritesHeaderIntoEmptyWorksheet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, book := memory.NewStore()
	book.Seed("oura_data", nil)

	_, err := store.Upsert(ctx, dailyTable, sheet.NewRow().Set("date", "2024-01-01"))
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"date", "sleep_score", "steps"},
		{"2024-01-01", "", ""},
	}, book.Rows("oura_data"))
}

func TestGridStoreCompositeKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, book := memory.NewStore()
	table := sheet.Table{
		Name:       "strava_workouts",
		Columns:    []sheet.Column{{Name: "date"}, {Name: "time"}, {Name: "name"}},
		KeyColumns: 2,
	}

	_, err := store.Upsert(ctx, table, sheet.NewRow().Set("date", "2024-01-01").Set("time", "07:00:00").Set("name", "a"))
	require.NoError(t, err)
	outcome, err := store.Upsert(ctx, table, sheet.NewRow().Set("date", "2024-01-01").Set("time", "18:00:00").Set("name", "b"))
	require.NoError(t, err)
	require.Equal(t, sheet.OutcomeInserted, outcome)
	outcome, err = store.Upsert(ctx, table, sheet.NewRow().Set("date", "2024-01-01").Set("time", "07:00:00").Set("name", "c"))
	require.NoError(t, err)
	require.Equal(t, sheet.OutcomeUpdated, outcome)

	require.Equal(t, [][]string{
		{"date", "time", "name"},
		{"2024-01-01", "07:00:00", "c"},
		{"2024-01-01", "18:00:00", "b"},
	}, book.Rows("strava_workouts"))
}

func TestGridStoreMergeModePreservesOtherColumns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, book := memory.NewStore()
	book.Seed("daily_manual_entry", [][]string{
		{"Date", "Weight", " Coherence ", "Achievement"},
		{"2024-01-01", "180", "", "5"},
	})

	row := sheet.NewRow().Set("date", "2024-01-01").Set("coherence", "3.2").Set("session_length", "15")
	outcome, err := store.Upsert(ctx, manualTable, row)
	require.NoError(t, err)
	require.Equal(t, sheet.OutcomeUpdated, outcome)

	outcome, err = store.Upsert(ctx, manualTable, sheet.NewRow().Set("date", "2024-01-02").Set("coherence", "4"))
	require.NoError(t, err)
	require.Equal(t, sheet.OutcomeInserted, outcome)

	require.Equal(t, [][]string{
		{"Date", "Weight", " Coherence ", "Achievement"},
		{"2024-01-01", "180", "3.2", "5"},
		{"2024-01-02", "", "4"},
	}, book.Rows("daily_manual_entry"))
}

func TestGridStoreMergeModeMissingRequiredColumn(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, book := memory.NewStore()
	book.Seed("daily_manual_entry", [][]string{{"date", "weight"}})

	_, err := store.Upsert(ctx, manualTable, sheet.NewRow().Set("date", "2024-01-01").Set("coherence", "3"))
	require.True(t, errors.Is(err, sheet.ErrMissingColumn))
}

func TestGridStoreRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	store, _ := memory.NewStore()
	_, err := store.Upsert(context.Background(), dailyTable, sheet.NewRow().Set("sleep_score", "1"))
	require.True(t, errors.Is(err, sheet.ErrEmptyKey))
}
