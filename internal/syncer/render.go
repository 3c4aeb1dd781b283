package syncer

import (
	"github.com/jedib0t/go-pretty/v6/table"
)

// RenderGrid draws a worksheet's rows as a rounded table. The first row is the header.
func RenderGrid(title string, rows [][]string) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle(title)
	if len(rows) == 0 {
		return t.Render()
	}
	t.AppendHeader(toRow(rows[0]))
	for _, r := range rows[1:] {
		t.AppendRow(toRow(r))
	}
	return t.Render()
}

func toRow(cells []string) table.Row {
	row := make(table.Row, len(cells))
	for i, c := range cells {
		row[i] = c
	}
	return row
}
