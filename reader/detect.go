package reader

import (
	"bufio"
	"io"

	"github.com/pkg/errors"

	"github.com/treeq/treeq/query"
)

// Dialect identifies a detected input format.
type Dialect int

const (
	DialectUnknown Dialect = iota
	DialectXML
	DialectJSON
	DialectJSONArray
	DialectLog
	DialectCSV
)

// Options configure dialect adapters.
type Options struct {
	// Header treats the first delimited-table line as column names.
	Header bool
}

// Detect probes the start of the buffered input and classifies the
// dialect without consuming it: a tag tree, a nested object, a
// timestamped log, an anonymous top-level array, or a delimited table.
func Detect(br *bufio.Reader) (Dialect, error) {
	probe, err := br.Peek(4096)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return DialectUnknown, errors.Wrap(err, "probing input")
	}
	i := 0
	for i < len(probe) && isWhitespace(probe[i]) {
		i++
	}
	if i == len(probe) {
		return DialectUnknown, errors.New("input not recognized as json, xml, csv/tsv, or log")
	}

	switch probe[i] {
	case '<':
		return DialectXML, nil
	case '{':
		return DialectJSON, nil
	case '[':
		// "[YYYY-MM-DD ..." opens a log line; any other bracket opens an
		// anonymous top-level array.
		j := i + 1
		for j < len(probe) && isWhitespace(probe[j]) {
			j++
		}
		if leadsWithDate(probe[j:]) {
			return DialectLog, nil
		}
		return DialectJSONArray, nil
	}

	if isAlnum(probe[i]) {
		// A bare timestamp still reads as a log; anything else is a
		// delimited table.
		if line := firstLine(probe[i:]); lineIsLog(line) {
			return DialectLog, nil
		}
		return DialectCSV, nil
	}
	return DialectUnknown, errors.New("input not recognized as json, xml, csv/tsv, or log")
}

// Parse detects the dialect and pumps the whole input through the
// matching adapter.
func Parse(r io.Reader, h Handler, opts Options) error {
	br := bufio.NewReaderSize(r, maxTagSize)
	dialect, err := Detect(br)
	if err != nil {
		return err
	}
	return ParseDialect(dialect, br, h, opts)
}

// ParseDialect pumps the input through the adapter for a known dialect.
func ParseDialect(dialect Dialect, br *bufio.Reader, h Handler, opts Options) error {
	switch dialect {
	case DialectXML:
		return parseXML(br, h)
	case DialectJSON, DialectJSONArray:
		return parseJSON(br, h)
	case DialectLog:
		return parseLog(br, h)
	case DialectCSV:
		return parseCSV(br, h, opts.Header)
	default:
		return errors.New("input not recognized as json, xml, csv/tsv, or log")
	}
}

func isWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func isAlnum(ch byte) bool {
	return (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func firstLine(b []byte) string {
	for i := 0; i < len(b); i++ {
		if b[i] == '\n' {
			return string(b[:i])
		}
	}
	return string(b)
}

func leadsWithDate(b []byte) bool {
	// YYYY-MM-DD
	if len(b) < 10 {
		return false
	}
	for i, ch := range b[:10] {
		if i == 4 || i == 7 {
			if ch != '-' {
				return false
			}
		} else if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}

func lineIsLog(line string) bool {
	_, _, _, _, ok := parseLogLine(line)
	return ok
}

// renderDateTime formats a parsed timestamp the way the engine renders
// datetime values.
func renderDateTime(dt query.DateTime) string {
	return dt.Format(true)
}
