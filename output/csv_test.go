package output

import (
	"strings"
	"testing"
)

func TestFormatForCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "abc", "abc"},
		{"empty", "", ""},
		{"comma", "a,b", "\"a,b\""},
		{"quote", `a"b`, `"a""b"`},
		{"newline", "a\nb", "\"a\nb\""},
		{"leading space stays bare", " a", " a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatForCSV(tt.input); got != tt.want {
				t.Errorf("FormatForCSV(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCSVFormatterRows(t *testing.T) {
	var sb strings.Builder
	f := NewCSVFormatter(&sb, true)
	f.WriteHeader([]string{"a", "b"})
	f.WriteRow([]string{"1", "x,y"}, -1)
	f.WriteRow([]string{"2", ""}, -1)
	f.Flush()

	want := "a,b\n1,\"x,y\"\n2,\n"
	if got := sb.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestCSVFormatterSuppressedHeader(t *testing.T) {
	var sb strings.Builder
	f := NewCSVFormatter(&sb, false)
	f.WriteHeader([]string{"a"})
	f.WriteRow([]string{"1"}, -1)

	if got := sb.String(); got != "1\n" {
		t.Errorf("output = %q, want %q", got, "1\n")
	}
}

func TestCSVFormatterPivotPathRollup(t *testing.T) {
	var sb strings.Builder
	f := NewCSVFormatter(&sb, false)
	f.WriteRow([]string{"a.b.c", "9"}, 0)

	want := "a.b.c,9\nb.c,9\nc,9\n"
	if got := sb.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}
