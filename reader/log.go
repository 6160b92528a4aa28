package reader

import (
	"bufio"
	"strings"

	"github.com/pkg/errors"

	"github.com/treeq/treeq/query"
)

// logSeekLines bounds how many lines are scanned for the first log line,
// so at most logSeekLines-1 non-log lines may precede it.
const logSeekLines = 10

// parsedLogLine is one recognized log record head.
type parsedLogLine struct {
	dt       query.DateTime
	level    string
	category string
	msg      string
}

// parseLog adapts timestamped log lines to events. Each record becomes a
// <log> element with time/level/category/msg children; embedded JSON in
// the message body is extracted and merged into the record. TRACE
// START/END/ROOT categories open, close, and reset a tag scope carrying
// the embedded JSON.
func parseLog(br *bufio.Reader, h Handler) error {
	lines := newLineSource(br)
	var openScopes []string

	// scan for the first log line
	var next parsedLogLine
	found := false
	for seek := logSeekLines; seek > 0; seek-- {
		line, ok, err := lines.next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if dt, level, category, msg, ok := parseLogLine(line); ok {
			next = parsedLogLine{dt, level, category, msg}
			found = true
			break
		}
	}
	if !found {
		return errors.New("input not recognized as a log")
	}

	more := true
	for more && !h.Stopped() {
		record := next

		// Append non-log continuation lines to the message until the
		// next record head.
		more = false
		for {
			line, ok, err := lines.next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if dt, level, category, msg, ok := parseLogLine(line); ok {
				next = parsedLogLine{dt, level, category, msg}
				more = true
				break
			}
			record.msg += "\n" + line
		}

		handled := false
		if record.level == "TRACE" {
			switch record.category {
			case "START":
				// opens a tag scope carrying the embedded JSON
				name, body := extractEmbeddedJSON(record.msg)
				if body != "" {
					if name == "" {
						name = jsonTopTag
					}
					opened, err := emitEmbeddedJSON(body, h, makeTag(name), true)
					if err == nil {
						openScopes = append(openScopes, opened)
						handled = true
					}
				}
			case "END":
				if len(openScopes) > 0 {
					h.CloseTag(openScopes[len(openScopes)-1])
					openScopes = openScopes[:len(openScopes)-1]
				}
				handled = true
			case "ROOT":
				// unbalanced START/END safeguard: drop to zero depth
				for len(openScopes) > 0 {
					h.CloseTag(openScopes[len(openScopes)-1])
					openScopes = openScopes[:len(openScopes)-1]
				}
				handled = true
			}
		}

		if !handled {
			h.OpenTag("log")
			emitData(h, "time", renderDateTime(record.dt))
			emitData(h, "level", record.level)
			emitData(h, "category", record.category)
			msg := record.msg
			if name, body := extractEmbeddedJSON(msg); body != "" {
				tag := name
				if tag == "" {
					tag = jsonTopTag
				}
				if _, err := emitEmbeddedJSON(body, h, makeTag(tag), false); err == nil {
					msg = removeEmbeddedJSON(msg, name, body)
				}
			}
			emitData(h, "msg", strings.TrimSpace(msg))
			h.CloseTag("log")
		}
	}

	for len(openScopes) > 0 {
		h.CloseTag(openScopes[len(openScopes)-1])
		openScopes = openScopes[:len(openScopes)-1]
	}
	return nil
}

func emitData(h Handler, name, value string) {
	h.OpenTag(name)
	if value != "" {
		h.Text(value)
	}
	h.CloseTag(name)
}

// parseLogLine splits a record head: a date-time (possibly across two
// tokens, possibly bracket-wrapped), an optional level, an optional
// "CATEGORY -" prefix, and the message tail.
func parseLogLine(line string) (dt query.DateTime, level, category, msg string, ok bool) {
	parts, positions := splitLogTokens(line)
	numParts := len(parts)
	currPart := 0
	isDigit0 := numParts >= 1 && len(parts[0]) > 0 && parts[0][0] >= '0' && parts[0][0] <= '9'
	isDigit1 := numParts >= 2 && len(parts[1]) > 0 && parts[1][0] >= '0' && parts[1][0] <= '9'

	dt.Err = true
	switch {
	case numParts == 1 && isDigit0:
		dt = query.ParseDateTime(parts[0])
		currPart = 1
	case numParts >= 2 && isDigit0 && !isDigit1:
		dt = query.ParseDateTime(parts[0])
		currPart = 1
	case numParts >= 2 && isDigit0 && isDigit1:
		dt = query.ParseDateTimeParts(parts[0], parts[1])
		currPart = 2
	}
	if dt.Err {
		return dt, "", "", "", false
	}

	if currPart < numParts {
		level = parts[currPart]
		currPart++
	}
	// categories separate from the message with " - "
	if currPart+1 < numParts && parts[currPart+1] == "-" {
		category = parts[currPart]
		currPart += 2
	}
	if currPart < numParts {
		msg = line[positions[currPart]:]
	}
	return dt, level, category, msg, true
}

// splitLogTokens tokenizes on spaces and brackets, keeping each token's
// position so the message tail stays verbatim.
func splitLogTokens(line string) ([]string, []int) {
	var parts []string
	var positions []int
	i := 0
	for i < len(line) {
		ch := line[i]
		if ch == ' ' || ch == '\t' || ch == '[' || ch == ']' {
			i++
			continue
		}
		start := i
		for i < len(line) {
			ch = line[i]
			if ch == ' ' || ch == '\t' || ch == '[' || ch == ']' {
				break
			}
			i++
		}
		parts = append(parts, line[start:i])
		positions = append(positions, start)
	}
	return parts, positions
}

// extractEmbeddedJSON finds the first balanced {...} in a message,
// together with an optional "label:" immediately preceding it.
func extractEmbeddedJSON(msg string) (label, body string) {
	depth := 0
	beg, end := -1, -1
	inString := false
	for i := 0; i < len(msg) && end < 0; i++ {
		ch := msg[i]
		switch {
		case inString:
			if ch == '\\' {
				i++
			} else if ch == '"' {
				inString = false
			}
		case ch == '"':
			inString = true
		case ch == '{':
			if depth == 0 {
				beg = i
			}
			depth++
		case ch == '}':
			if depth == 0 {
				return "", "" // brace out of order
			}
			depth--
			if depth == 0 {
				end = i
			}
		}
	}
	if end < 0 {
		return "", ""
	}

	// A label and colon preceding the object (foo:{a:1}) folds into the
	// extraction.
	label = precedingLabel(msg[:beg])
	return label, msg[beg : end+1]
}

// precedingLabel scans backward for "label:" directly before the brace.
func precedingLabel(prefix string) string {
	i := len(prefix) - 1
	for i >= 0 && (prefix[i] == ' ' || prefix[i] == '\t') {
		i--
	}
	if i < 0 || prefix[i] != ':' {
		return ""
	}
	i--
	end := i
	for i >= 0 && (isAlnum(prefix[i]) || prefix[i] == '_') {
		i--
	}
	if i == end {
		return ""
	}
	return prefix[i+1 : end+1]
}

// removeEmbeddedJSON strips the extracted fragment (and its label) from
// the message.
func removeEmbeddedJSON(msg, label, body string) string {
	idx := strings.Index(msg, body)
	if idx < 0 {
		return msg
	}
	start := idx
	if label != "" {
		labeled := label + ":"
		if pre := strings.LastIndex(msg[:idx], labeled); pre >= 0 && strings.TrimSpace(msg[pre+len(labeled):idx]) == "" {
			start = pre
		}
	}
	return msg[:start] + msg[idx+len(body):]
}
