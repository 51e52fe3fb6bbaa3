package export

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() Table {
	return Table{
		Title:   "Decision history",
		Columns: Cols("Stage", "Decision", "Comment"),
		Rows: [][]string{
			{"Department Endorser", "APPROVED", "ok, endorsed"},
			{"FMO", "REJECTED", "room \"A\" is double booked"},
		},
	}
}

func TestRenderCSVQuotesCells(t *testing.T) {
	out, err := RenderCSV(sampleTable())
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"Stage", "Decision", "Comment"}, records[0])
	assert.Equal(t, "room \"A\" is double booked", records[2][2])
}

func TestRenderRejectsRaggedRows(t *testing.T) {
	tbl := sampleTable()
	tbl.Rows = append(tbl.Rows, []string{"only one"})
	_, err := RenderCSV(tbl)
	assert.Error(t, err)
	_, err = RenderPDF(tbl)
	assert.Error(t, err)
	_, err = RenderCSV(Table{})
	assert.Error(t, err)
}

func TestRenderPDF(t *testing.T) {
	tbl := sampleTable()
	tbl.Columns[2].Weight = 3
	out, err := RenderPDF(tbl)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestColumnWidthsFillPage(t *testing.T) {
	widths := columnWidths([]Column{{Weight: 1}, {Weight: 3}, {}})
	assert.InDelta(t, pageWidth, widths[0]+widths[1]+widths[2], 0.001)
	assert.InDelta(t, widths[0], widths[2], 0.001)
}
