package sheet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		table   Table
		wantErr bool
	}{
		{
			name:  "valid",
			table: Table{Name: "daily", Columns: []Column{{Name: "date"}, {Name: "score"}}, KeyColumns: 1},
		},
		{
			name:    "missing name",
			table:   Table{Columns: []Column{{Name: "date"}}, KeyColumns: 1},
			wantErr: true,
		},
		{
			name:    "key out of range",
			table:   Table{Name: "daily", Columns: []Column{{Name: "date"}}, KeyColumns: 2},
			wantErr: true,
		},
		{
			name:    "duplicate column",
			table:   Table{Name: "daily", Columns: []Column{{Name: "date"}, {Name: " Date"}}, KeyColumns: 1},
			wantErr: true,
		},
		{
			name:    "optional key",
			table:   Table{Name: "daily", Columns: []Column{{Name: "date", Optional: true}}, KeyColumns: 1},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.table.Validate()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestValidateIdentifiers(t *testing.T) {
	t.Parallel()

	ok := Table{Name: "oura_data", Columns: []Column{{Name: "date"}, {Name: "zone_1_min"}}, KeyColumns: 1}
	require.NoError(t, ok.ValidateIdentifiers())

	bad := Table{Name: "oura_data", Columns: []Column{{Name: "date; drop"}}, KeyColumns: 1}
	require.Error(t, bad.ValidateIdentifiers())
}

func TestRowKeyAndValues(t *testing.T) {
	t.Parallel()

	table := Table{
		Name:       "workouts",
		Columns:    []Column{{Name: "date"}, {Name: "time"}, {Name: "name"}},
		KeyColumns: 2,
	}
	row := NewRow().Set("date", " 2024-03-01 ").Set("time", "07:30:00")

	key, err := row.Key(table)
	require.NoError(t, err)
	require.Equal(t, []string{"2024-03-01", "07:30:00"}, key)
	require.Equal(t, []string{" 2024-03-01 ", "07:30:00", ""}, row.Values(table))
	require.Equal(t, []string{"date", "time"}, table.KeyNames())

	_, err = NewRow().Set("date", "2024-03-01").Key(table)
	require.True(t, errors.Is(err, ErrEmptyKey))
}

func TestFormatHelpers(t *testing.T) {
	t.Parallel()

	f := func(v float64) *float64 { return &v }
	i := func(v int) *int { return &v }

	require.Equal(t, "", FormatDecimal(nil))
	require.Equal(t, "36.55", FormatDecimal(f(36.55)))
	require.Equal(t, "82", FormatDecimal(f(82)))
	require.Equal(t, "2.5", FormatFloat(f(2.45), 1))
	require.Equal(t, "3", FormatFloat(f(3.0), 2))
	require.Equal(t, "", FormatInt(nil))
	require.Equal(t, "8500", FormatInt(i(8500)))
	require.InDelta(t, 12.35, Round(12.345, 2), 1e-9)
}
