package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/healthsync/internal/sheet"
)

var ouraTable = sheet.Table{
	Name:       "oura_data",
	Columns:    []sheet.Column{{Name: "date"}, {Name: "sleep_score"}, {Name: "steps"}},
	KeyColumns: 1,
}

func TestUpsertCreatesTableOnceAndReportsOutcome(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "oura_data"`)).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "oura_data" AS t`)).
		WithArgs("2024-01-01", "82", "").
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "oura_data" AS t`)).
		WithArgs("2024-01-01", "85", "9000").
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(false))

	ctx := context.Background()
	outcome, err := store.Upsert(ctx, ouraTable, sheet.NewRow().Set("date", " 2024-01-01").Set("sleep_score", "82"))
	require.NoError(t, err)
	require.Equal(t, sheet.OutcomeInserted, outcome)

	outcome, err = store.Upsert(ctx, ouraTable,
		sheet.NewRow().Set("date", "2024-01-01").Set("sleep_score", "85").Set("steps", "9000"))
	require.NoError(t, err)
	require.Equal(t, sheet.OutcomeUpdated, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertWrapsQueryError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewWithPool(mock)
	require.NoError(t, err)

	boom := errors.New("boom")
	mock.ExpectExec("CREATE TABLE").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectQuery("INSERT INTO").WillReturnError(boom)

	_, err = store.Upsert(context.Background(), ouraTable, sheet.NewRow().Set("date", "2024-01-01"))
	require.ErrorIs(t, err, boom)
}

func TestUpsertRejectsUnsafeIdentifiers(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewWithPool(mock)
	require.NoError(t, err)

	bad := sheet.Table{Name: "oura data", Columns: []sheet.Column{{Name: "date"}}, KeyColumns: 1}
	_, err = store.Upsert(context.Background(), bad, sheet.NewRow().Set("date", "2024-01-01"))
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSQLMergeKeepsExistingValues(t *testing.T) {
	t.Parallel()

	table := sheet.Table{
		Name:       "daily_manual_entry",
		Columns:    []sheet.Column{{Name: "date"}, {Name: "coherence"}, {Name: "achievement", Optional: true}},
		KeyColumns: 1,
		Merge:      true,
	}
	got := UpsertSQL(table)
	require.Contains(t, got, `ON CONFLICT ("date")`)
	require.Contains(t, got, `"coherence" = COALESCE(NULLIF(EXCLUDED."coherence", ''), t."coherence")`)
	require.Contains(t, got, "RETURNING (xmax = 0)")

	ddl := CreateTableSQL(table)
	require.Contains(t, ddl, `"achievement" TEXT,`)
	require.Contains(t, ddl, `PRIMARY KEY ("date")`)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
	_, err = NewWithPool(nil)
	require.Error(t, err)
}
