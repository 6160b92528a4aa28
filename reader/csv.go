package reader

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// parseCSV adapts a delimited table to events: one <row> per record
// under a single <table>, one tag per field. The delimiter is sniffed
// from the first non-blank line: tab when it splits into two or more
// tab-delimited fields, else comma.
func parseCSV(br *bufio.Reader, h Handler, header bool) error {
	lines := newLineSource(br)

	firstLine, ok, err := lines.next()
	for err == nil && ok && strings.TrimSpace(firstLine) == "" {
		firstLine, ok, err = lines.next()
	}
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	firstLine = strings.TrimRight(firstLine, " \t\r\n")

	delimiter := byte('\t')
	firstParts := splitCSVLine(firstLine, delimiter)
	if len(firstParts) < 2 {
		delimiter = ','
		firstParts = splitCSVLine(firstLine, delimiter)
	}

	var fieldNames []string
	if header {
		fieldNames = firstParts
		for i, fieldName := range fieldNames {
			fieldNames[i] = sanitizeFieldName(fieldName)
		}
		firstLine = ""
	}

	h.OpenTag("table")
	pendingLine := firstLine
	if header {
		pendingLine = ""
	}
	for !h.Stopped() {
		line, ok, err := readCSVRecord(lines, &pendingLine)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		line = strings.TrimRight(line, " \t\r\n")
		if line == "" {
			continue
		}
		values := splitCSVLine(line, delimiter)
		h.OpenTag("row")
		n := len(values)
		if len(fieldNames) > n {
			n = len(fieldNames)
		}
		for i := 0; i < n; i++ {
			if i == len(fieldNames) {
				// name surplus columns by ordinal, uniquified with a
				// leading underscore
				name := strconv.Itoa(i + 1)
				for contains(fieldNames, name) {
					name = "_" + name
				}
				fieldNames = append(fieldNames, name)
			}
			value := ""
			if i < len(values) {
				value = values[i]
			}
			h.OpenTag(fieldNames[i])
			if value != "" {
				h.Text(value)
			}
			h.CloseTag(fieldNames[i])
		}
		h.CloseTag("row")
	}
	h.CloseTag("table")
	return nil
}

// readCSVRecord joins physical lines until quotes balance, so quoted
// fields may span newlines.
func readCSVRecord(lines *lineSource, pending *string) (string, bool, error) {
	var record strings.Builder
	inQuotes := false
	read := false
	for {
		var line string
		if *pending != "" {
			line = *pending
			*pending = ""
		} else {
			next, ok, err := lines.next()
			if err != nil {
				return "", false, err
			}
			if !ok {
				break
			}
			line = next
		}
		read = true
		for i := 0; i < len(line); i++ {
			switch line[i] {
			case '\\':
				i++
			case '"':
				inQuotes = !inQuotes
			}
		}
		record.WriteString(line)
		if !inQuotes {
			break
		}
		record.WriteByte('\n')
	}
	return record.String(), read, nil
}

// splitCSVLine splits one record on the delimiter, honoring quoted
// fields; outer quotes strip and doubled quotes collapse.
func splitCSVLine(line string, delimiter byte) []string {
	var parts []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == '\\' && i+1 < len(line):
			cur.WriteByte(ch)
			i++
			cur.WriteByte(line[i])
		case ch == '"':
			inQuotes = !inQuotes
			cur.WriteByte(ch)
		case ch == delimiter && !inQuotes:
			parts = append(parts, unquoteField(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(ch)
		}
	}
	parts = append(parts, unquoteField(cur.String()))
	return parts
}

func unquoteField(field string) string {
	if len(field) >= 2 && field[0] == '"' && field[len(field)-1] == '"' {
		field = field[1 : len(field)-1]
		field = strings.ReplaceAll(field, `""`, `"`)
	}
	return field
}

// sanitizeFieldName munges tag-unfriendly field names.
func sanitizeFieldName(name string) string {
	if name == "" {
		return "_"
	}
	if strings.IndexByte("</!?", name[0]) >= 0 {
		name = "\"" + name + "\""
	}
	name = strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\n', '\r':
			return '_'
		}
		return r
	}, name)
	return name
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// lineSource reads physical lines, tolerating a missing final newline.
type lineSource struct {
	br  *bufio.Reader
	eof bool
}

func newLineSource(br *bufio.Reader) *lineSource {
	return &lineSource{br: br}
}

func (l *lineSource) next() (string, bool, error) {
	if l.eof {
		return "", false, nil
	}
	line, err := l.br.ReadString('\n')
	if err == io.EOF {
		l.eof = true
		if line == "" {
			return "", false, nil
		}
		return strings.TrimSuffix(line, "\n"), true, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "reading input")
	}
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"), true, nil
}
