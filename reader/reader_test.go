package reader

import (
	"bufio"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder captures the event stream as compact strings.
type recorder struct {
	events  []string
	stopped bool
}

func (r *recorder) OpenTag(name string)        { r.events = append(r.events, "<"+name+">") }
func (r *recorder) Attr(name, value string)    { r.events = append(r.events, "@"+name+"="+value) }
func (r *recorder) Text(data string)           { r.events = append(r.events, "t:"+data) }
func (r *recorder) CloseTag(name string)       { r.events = append(r.events, "</"+name+">") }
func (r *recorder) Stopped() bool              { return r.stopped }
func (r *recorder) textless() (out []string) { // drops whitespace-only text
	for _, ev := range r.events {
		if strings.HasPrefix(ev, "t:") && strings.TrimSpace(ev[2:]) == "" {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Dialect
	}{
		{"xml", "  <root><a>1</a></root>", DialectXML},
		{"json object", `{"a": 1}`, DialectJSON},
		{"json anonymous array", `[1, 2, 3]`, DialectJSONArray},
		{"log bracketed", "[2024-01-02 03:04:05] INFO hi", DialectLog},
		{"log bare", "2024-01-02 03:04:05 INFO hi\n", DialectLog},
		{"csv", "a,b\n1,2\n", DialectCSV},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Detect(bufio.NewReader(strings.NewReader(tt.input)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectUnrecognized(t *testing.T) {
	_, err := Detect(bufio.NewReader(strings.NewReader("   ")))
	assert.Error(t, err)
}

func TestParseXMLEvents(t *testing.T) {
	var rec recorder
	err := Parse(strings.NewReader(`<r><o a="1" b='2'><id>7</id><e/></o></r>`), &rec, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"<r>", "<o>", "@a=1", "@b=2", "<id>", "t:7", "</id>", "<e>", "</e>", "</o>", "</r>",
	}, rec.textless())
}

func TestParseXMLSkipsSpecials(t *testing.T) {
	var rec recorder
	err := Parse(strings.NewReader(`<?xml version="1.0"?><!DOCTYPE r><r><a>1</a></r>`), &rec, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"<r>", "<a>", "t:1", "</a>", "</r>"}, rec.textless())
}

func TestParseJSONObjects(t *testing.T) {
	var rec recorder
	input := `{"id": 1, "tags": ["x", "y"], "sub": {"k": true}}`
	err := Parse(strings.NewReader(input), &rec, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"<json>",
		"<id>", "t:1", "</id>",
		"<tags>", "t:x", "</tags>",
		"<tags>", "t:y", "</tags>",
		"<sub>", "<k>", "t:true", "</k>", "</sub>",
		"</json>",
	}, rec.textless())
}

func TestParseJSONAttr(t *testing.T) {
	var rec recorder
	input := `{"o": {"_attr": {"a": 1}, "v": "x"}}`
	err := Parse(strings.NewReader(input), &rec, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"<json>", "<o>", "@a=1", "<v>", "t:x", "</v>", "</o>", "</json>",
	}, rec.textless())
}

func TestParseJSONAnonymousArray(t *testing.T) {
	var rec recorder
	err := Parse(strings.NewReader(`[{"a": 1}, {"a": 2}]`), &rec, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"<arr>",
		"<row>", "<a>", "t:1", "</a>", "</row>",
		"<row>", "<a>", "t:2", "</a>", "</row>",
		"</arr>",
	}, rec.textless())
}

func TestParseCSVHeaderAndRows(t *testing.T) {
	var rec recorder
	err := Parse(strings.NewReader("a,b\n1,2\n3,4\n"), &rec, Options{Header: true})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"<table>",
		"<row>", "<a>", "t:1", "</a>", "<b>", "t:2", "</b>", "</row>",
		"<row>", "<a>", "t:3", "</a>", "<b>", "t:4", "</b>", "</row>",
		"</table>",
	}, rec.textless())
}

func TestParseCSVNoHeaderOrdinalNames(t *testing.T) {
	var rec recorder
	err := parseCSV(bufio.NewReader(strings.NewReader("x,y\n")), &rec, false)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"<table>",
		"<row>", "<1>", "t:x", "</1>", "<2>", "t:y", "</2>", "</row>",
		"</table>",
	}, rec.textless())
}

func TestParseCSVTabDelimiter(t *testing.T) {
	var rec recorder
	err := Parse(strings.NewReader("a\tb\n1\t2\n"), &rec, Options{Header: true})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"<table>",
		"<row>", "<a>", "t:1", "</a>", "<b>", "t:2", "</b>", "</row>",
		"</table>",
	}, rec.textless())
}

func TestParseCSVQuotedNewline(t *testing.T) {
	var rec recorder
	err := parseCSV(bufio.NewReader(strings.NewReader("a,b\n\"x\ny\",2\n")), &rec, true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"<table>",
		"<row>", "<a>", "t:x\ny", "</a>", "<b>", "t:2", "</b>", "</row>",
		"</table>",
	}, rec.textless())
}

func TestParseCSVSurplusValues(t *testing.T) {
	var rec recorder
	err := parseCSV(bufio.NewReader(strings.NewReader("a\n1,2\n")), &rec, true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"<table>",
		"<row>", "<a>", "t:1", "</a>", "<2>", "t:2", "</2>", "</row>",
		"</table>",
	}, rec.textless())
}

func TestParseLogLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		level    string
		category string
		msg      string
		ok       bool
	}{
		{"full line", "2024-01-02 03:04:05 INFO hello world", "INFO", "", "hello world", true},
		{"bracketed", "[2024-01-02 03:04:05] WARN careful", "WARN", "", "careful", true},
		{"with category", "2024-01-02 03:04:05 TRACE NET - payload", "TRACE", "NET", "payload", true},
		{"no level", "2024-01-02 03:04:05", "", "", "", true},
		{"not a log line", "just text", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, level, category, msg, ok := parseLogLine(tt.line)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.level, level)
				assert.Equal(t, tt.category, category)
				assert.Equal(t, tt.msg, msg)
			}
		})
	}
}

func TestParseLogRecords(t *testing.T) {
	var rec recorder
	input := "2024-01-02 03:04:05 INFO hello\ncontinued\n2024-01-02 03:04:06 WARN bye\n"
	err := Parse(strings.NewReader(input), &rec, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"<log>",
		"<time>", "t:2024-01-02 03:04:05", "</time>",
		"<level>", "t:INFO", "</level>",
		"<category>", "</category>",
		"<msg>", "t:hello\ncontinued", "</msg>",
		"</log>",
		"<log>",
		"<time>", "t:2024-01-02 03:04:06", "</time>",
		"<level>", "t:WARN", "</level>",
		"<category>", "</category>",
		"<msg>", "t:bye", "</msg>",
		"</log>",
	}, rec.textless())
}

func TestParseLogEmbeddedJSON(t *testing.T) {
	var rec recorder
	input := "2024-01-02 03:04:05 INFO req:{\"a\": 1} done\n"
	err := Parse(strings.NewReader(input), &rec, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"<log>",
		"<time>", "t:2024-01-02 03:04:05", "</time>",
		"<level>", "t:INFO", "</level>",
		"<category>", "</category>",
		"<req>", "<a>", "t:1", "</a>", "</req>",
		"<msg>", "t:done", "</msg>",
		"</log>",
	}, rec.textless())
}

func TestParseLogTraceScopes(t *testing.T) {
	var rec recorder
	input := "2024-01-02 03:04:05 TRACE START - scope:{\"id\": 9}\n" +
		"2024-01-02 03:04:06 INFO inside\n" +
		"2024-01-02 03:04:07 TRACE END - scope\n"
	err := Parse(strings.NewReader(input), &rec, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"<scope>", "<id>", "t:9", "</id>",
		"<log>",
		"<time>", "t:2024-01-02 03:04:06", "</time>",
		"<level>", "t:INFO", "</level>",
		"<category>", "</category>",
		"<msg>", "t:inside", "</msg>",
		"</log>",
		"</scope>",
	}, rec.textless())
}

func TestExtractEmbeddedJSON(t *testing.T) {
	label, body := extractEmbeddedJSON(`before req:{"a": {"b": 1}} after`)
	assert.Equal(t, "req", label)
	assert.Equal(t, `{"a": {"b": 1}}`, body)

	label, body = extractEmbeddedJSON("no braces here")
	assert.Equal(t, "", label)
	assert.Equal(t, "", body)
}

func TestHandlerStopsAdapter(t *testing.T) {
	rec := &recorder{stopped: true}
	var input strings.Builder
	input.WriteString("a\n")
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&input, "%d\n", i)
	}
	err := parseCSV(bufio.NewReader(strings.NewReader(input.String())), rec, true)
	require.NoError(t, err)
	// only the table wrapper events appear
	assert.Equal(t, []string{"<table>", "</table>"}, rec.textless())
}
