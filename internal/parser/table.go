package parser

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/xuri/excelize/v2"
)

// CSVStrategy renders a delimited file as an aligned text grid. The first
// record is the header.
type CSVStrategy struct{}

func (s *CSVStrategy) Extract(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return "", errors.New("parse csv: no columns to parse")
	}
	return renderGrid(records[0], records[1:]), nil
}

// SpreadsheetStrategy renders the first worksheet of a workbook as an
// aligned text grid. The first row is the header.
type SpreadsheetStrategy struct{}

func (s *SpreadsheetStrategy) Extract(ctx context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return "", fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return renderGrid(rows[0], rows[1:]), nil
}

// gridStyle draws no borders and separates columns with two spaces.
func gridStyle() table.Style {
	style := table.StyleDefault
	style.Name = "Grid"
	style.Box.PaddingLeft = ""
	style.Box.PaddingRight = ""
	style.Box.MiddleVertical = "  "
	style.Format.Header = text.FormatDefault
	style.Options = table.Options{
		DrawBorder:      false,
		SeparateColumns: true,
		SeparateFooter:  false,
		SeparateHeader:  false,
		SeparateRows:    false,
	}
	return style
}

// renderGrid right-aligns every column. Short rows are padded and long rows
// widen the grid.
func renderGrid(header []string, rows [][]string) string {
	columns := len(header)
	for _, row := range rows {
		if len(row) > columns {
			columns = len(row)
		}
	}
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(gridStyle())
	tw.AppendHeader(toRow(header, columns))
	for _, row := range rows {
		tw.AppendRow(toRow(row, columns))
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       text.AlignRight,
			AlignHeader: text.AlignRight,
		})
	}
	tw.SetColumnConfigs(configs)

	lines := strings.Split(tw.Render(), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	return strings.Join(lines, "\n")
}

func toRow(cells []string, columns int) table.Row {
	r := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		if i < len(cells) {
			r[i] = cells[i]
		} else {
			r[i] = ""
		}
	}
	return r
}
