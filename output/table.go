package output

import (
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// TableFormatter renders rows as an aligned table. Rows buffer until
// Flush.
type TableFormatter struct {
	table *tablewriter.Table
}

// NewTableFormatter creates a table formatter. When header is false the
// name line is suppressed.
func NewTableFormatter(w io.Writer, header bool) *TableFormatter {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetColumnSeparator(" ")
	table.SetHeaderLine(header)
	return &TableFormatter{table: table}
}

// WriteHeader sets the column-name line.
func (t *TableFormatter) WriteHeader(names []string) error {
	t.table.SetHeader(names)
	return nil
}

// WriteRow buffers one row, expanding a pivot-path column into its
// roll-up sequence.
func (t *TableFormatter) WriteRow(values []string, pivotPathCol int) error {
	if pivotPathCol < 0 || pivotPathCol >= len(values) {
		t.table.Append(values)
		return nil
	}
	parts := strings.Split(values[pivotPathCol], ".")
	for start := 0; start < len(parts); start++ {
		expanded := make([]string, len(values))
		copy(expanded, values)
		expanded[pivotPathCol] = strings.Join(parts[start:], ".")
		t.table.Append(expanded)
	}
	return nil
}

// Flush renders the buffered table.
func (t *TableFormatter) Flush() error {
	t.table.Render()
	return nil
}
