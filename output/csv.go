// Package output renders emitted query rows: a CSV-normalized
// projection by default, or an aligned table.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Formatter consumes a header and rows of rendered values. pivotPathCol
// is the index of the column carrying a dotted roll-up path, or -1.
type Formatter interface {
	WriteHeader(names []string) error
	WriteRow(values []string, pivotPathCol int) error
	Flush() error
}

// CSVFormatter writes rows as CSV-normalized text. Values are quoted
// iff they contain a comma, a quote, or a newline; embedded quotes
// double.
type CSVFormatter struct {
	writer io.Writer
	header bool
}

// NewCSVFormatter creates a CSV formatter. When header is false the
// name line is suppressed.
func NewCSVFormatter(w io.Writer, header bool) *CSVFormatter {
	return &CSVFormatter{writer: w, header: header}
}

// WriteHeader writes the column-name line when enabled.
func (c *CSVFormatter) WriteHeader(names []string) error {
	if !c.header {
		return nil
	}
	return c.writeLine(names)
}

// WriteRow writes one row. A pivot-path column expands the row into a
// sequence of rows, one per dotted prefix depth, so a pivoted path
// renders as a roll-up.
func (c *CSVFormatter) WriteRow(values []string, pivotPathCol int) error {
	if pivotPathCol < 0 || pivotPathCol >= len(values) {
		return c.writeLine(values)
	}
	parts := strings.Split(values[pivotPathCol], ".")
	expanded := make([]string, len(values))
	for start := 0; start < len(parts); start++ {
		copy(expanded, values)
		expanded[pivotPathCol] = strings.Join(parts[start:], ".")
		if err := c.writeLine(expanded); err != nil {
			return err
		}
	}
	return nil
}

// Flush is a no-op; rows write through.
func (c *CSVFormatter) Flush() error {
	return nil
}

func (c *CSVFormatter) writeLine(values []string) error {
	var sb strings.Builder
	for i, value := range values {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(FormatForCSV(value))
	}
	sb.WriteByte('\n')
	_, err := io.WriteString(c.writer, sb.String())
	if err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}

// FormatForCSV quotes a value iff it contains a comma, a quote, or a
// newline, doubling embedded quotes.
func FormatForCSV(value string) string {
	if !strings.ContainsAny(value, ",\"\n") {
		return value
	}
	return "\"" + strings.ReplaceAll(value, "\"", "\"\"") + "\""
}
