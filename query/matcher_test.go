package query

import "testing"

// feedEvents drives the engine with a fixed event script.
type event struct {
	kind  byte // 'o' open, 'a' attr, 't' text, 'c' close
	name  string
	value string
}

func feedEvents(t *testing.T, p *Parser, events []event) {
	t.Helper()
	for _, ev := range events {
		switch ev.kind {
		case 'o':
			p.OpenTag(ev.name)
		case 'a':
			p.Attr(ev.name, ev.value)
		case 't':
			p.Text(ev.value)
		case 'c':
			p.CloseTag(ev.name)
		}
	}
}

func newTestParser(t *testing.T, columnSpecs ...string) *Parser {
	t.Helper()
	p := NewParser()
	for _, columnSpec := range columnSpecs {
		p.AddColumn(columnSpec)
	}
	if err := p.FinishColumns(); err != nil {
		t.Fatalf("FinishColumns error: %v", err)
	}
	if err := p.Reset(MainPass); err != nil {
		t.Fatalf("Reset error: %v", err)
	}
	return p
}

func TestMatcherSimplePath(t *testing.T) {
	p := newTestParser(t, "a.b")
	var rows [][]string
	p.SetRowCallback(func(rowIdx int) {
		rows = append(rows, []string{p.Value(rowIdx, 0).Str})
	})

	feedEvents(t, p, []event{
		{kind: 'o', name: "a"},
		{kind: 'o', name: "b"},
		{kind: 't', value: "hello"},
		{kind: 'c', name: "b"},
		{kind: 'c', name: "a"},
	})

	if len(rows) != 1 || rows[0][0] != "hello" {
		t.Errorf("rows = %v, want [[hello]]", rows)
	}
}

func TestMatcherWildcardDepth(t *testing.T) {
	// a deep wildcard path matches regardless of nesting depth
	p := newTestParser(t, "leaf")
	var got []string
	p.SetRowCallback(func(rowIdx int) {
		got = append(got, p.Value(rowIdx, 0).Str)
	})

	feedEvents(t, p, []event{
		{kind: 'o', name: "top"},
		{kind: 'o', name: "mid"},
		{kind: 'o', name: "leaf"},
		{kind: 't', value: "1"},
		{kind: 'c', name: "leaf"},
		{kind: 'c', name: "mid"},
		{kind: 'o', name: "leaf"},
		{kind: 't', value: "2"},
		{kind: 'c', name: "leaf"},
		{kind: 'c', name: "top"},
	})

	if len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Errorf("values = %v, want [1 2]", got)
	}
}

func TestMatcherSiblingDiscipline(t *testing.T) {
	// a later-order path re-matching rolls back paths ordered after it,
	// so values never pair across sibling records
	p := newTestParser(t, "k", "v")
	var rows [][]string
	p.SetRowCallback(func(rowIdx int) {
		rows = append(rows, []string{p.Value(rowIdx, 0).Str, p.Value(rowIdx, 1).Str})
	})

	feedEvents(t, p, []event{
		{kind: 'o', name: "r"},
		{kind: 'o', name: "rec"},
		{kind: 'o', name: "k"}, {kind: 't', value: "k1"}, {kind: 'c', name: "k"},
		{kind: 'o', name: "v"}, {kind: 't', value: "v1"}, {kind: 'c', name: "v"},
		{kind: 'c', name: "rec"},
		{kind: 'o', name: "rec"},
		{kind: 'o', name: "k"}, {kind: 't', value: "k2"}, {kind: 'c', name: "k"},
		{kind: 'o', name: "v"}, {kind: 't', value: "v2"}, {kind: 'c', name: "v"},
		{kind: 'c', name: "rec"},
		{kind: 'c', name: "r"},
	})

	want := [][]string{{"k1", "v1"}, {"k2", "v2"}}
	if len(rows) != 2 {
		t.Fatalf("rows = %v, want %v", rows, want)
	}
	for i := range want {
		if rows[i][0] != want[i][0] || rows[i][1] != want[i][1] {
			t.Errorf("row %d = %v, want %v", i, rows[i], want[i])
		}
	}
}

func TestMatcherSelfClosingTag(t *testing.T) {
	p := newTestParser(t, "a", "b")
	var rows int
	p.SetRowCallback(func(int) { rows++ })

	// <r><a>1</a><b/></r>: b carries no data but still matches
	feedEvents(t, p, []event{
		{kind: 'o', name: "r"},
		{kind: 'o', name: "a"}, {kind: 't', value: "1"}, {kind: 'c', name: "a"},
		{kind: 'o', name: "b"}, {kind: 'c', name: "b"},
		{kind: 'c', name: "r"},
	})

	if rows != 1 {
		t.Errorf("rows = %d, want 1", rows)
	}
}

func TestMatcherImmediateDepth(t *testing.T) {
	p := newTestParser(t, "depth[x]", "x")
	var depths []int64
	p.SetRowCallback(func(rowIdx int) {
		depths = append(depths, p.Value(rowIdx, 0).Int)
	})

	feedEvents(t, p, []event{
		{kind: 'o', name: "a"},
		{kind: 'o', name: "b"},
		{kind: 'o', name: "x"}, {kind: 't', value: "1"}, {kind: 'c', name: "x"},
		{kind: 'c', name: "b"},
		{kind: 'c', name: "a"},
	})

	if len(depths) != 1 || depths[0] != 2 {
		t.Errorf("depths = %v, want [2]", depths)
	}
}

func TestMatcherNodeName(t *testing.T) {
	p := newTestParser(t, "nodename[x,1]", "x")
	var names []string
	p.SetRowCallback(func(rowIdx int) {
		names = append(names, p.Value(rowIdx, 0).Str)
	})

	feedEvents(t, p, []event{
		{kind: 'o', name: "outer"},
		{kind: 'o', name: "x"}, {kind: 't', value: "1"}, {kind: 'c', name: "x"},
		{kind: 'c', name: "outer"},
	})

	if len(names) != 1 || names[0] != "outer" {
		t.Errorf("names = %v, want [outer]", names)
	}
}

func TestMatcherSyncCommits(t *testing.T) {
	// sync forces a commit as soon as its path alone matches
	p := newTestParser(t, "a", "sync[a]")
	var rows int
	p.SetRowCallback(func(int) { rows++ })

	feedEvents(t, p, []event{
		{kind: 'o', name: "r"},
		{kind: 'o', name: "a"}, {kind: 't', value: "1"}, {kind: 'c', name: "a"},
		{kind: 'o', name: "a"}, {kind: 't', value: "2"}, {kind: 'c', name: "a"},
		{kind: 'c', name: "r"},
	})

	if rows != 2 {
		t.Errorf("rows = %d, want 2", rows)
	}
}
