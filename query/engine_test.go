package query_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/treeq/treeq/query"
	"github.com/treeq/treeq/reader"
)

// runQuery executes a full query against string input, re-reading the
// input for each pass, and returns the rendered output rows.
func runQuery(t *testing.T, columnSpecs []string, input, joinInput string) (header []string, rows [][]string) {
	t.Helper()

	p := query.NewParser()
	for _, columnSpec := range columnSpecs {
		p.AddColumn(columnSpec)
	}
	if err := p.FinishColumns(); err != nil {
		t.Fatalf("FinishColumns(%v) error: %v", columnSpecs, err)
	}

	if p.Spec().IsFlagSet(query.SpecLeftSideOfJoin) {
		p.SetIndexedJoin(loadJoin(t, p.Spec().JoinSpec(), joinInput))
	}

	p.SetRowCallback(func(rowIdx int) {
		cnt := p.RowRepeatCount(rowIdx)
		for i := 0; i < cnt; i++ {
			rows = append(rows, renderRow(p, rowIdx))
		}
	})

	runPasses(t, p, input)

	for _, column := range p.Columns() {
		if column.IsOutput() {
			header = append(header, column.Name)
		}
	}
	return header, rows
}

func loadJoin(t *testing.T, joinSpec *query.JoinSpec, joinInput string) query.IndexedRows {
	t.Helper()
	jp := query.NewParser()
	if err := jp.Spec().AddJoinColumns(joinSpec); err != nil {
		t.Fatalf("AddJoinColumns error: %v", err)
	}
	var indices []int
	for _, column := range joinSpec.Columns {
		if column.Flags&query.ColumnIndexed != 0 {
			indices = append(indices, column.Index)
		}
	}
	indexed := query.IndexedRows{}
	jp.SetRowCallback(func(rowIdx int) {
		emitted := jp.Row(rowIdx)
		row := make(query.Row, len(emitted))
		copy(row, emitted)
		indexed[query.HashRow(row, indices)] = append(indexed[query.HashRow(row, indices)], row)
	})
	runPasses(t, jp, joinInput)
	return indexed
}

func runPasses(t *testing.T, p *query.Parser, input string) {
	t.Helper()
	for _, passType := range p.PassTypes() {
		if err := p.Reset(passType); err != nil {
			t.Fatalf("Reset error: %v", err)
		}
		switch passType {
		case query.GatherDataPass, query.MainPass:
			if err := reader.Parse(strings.NewReader(input), p, reader.Options{Header: true}); err != nil {
				t.Fatalf("reader error: %v", err)
			}
			if err := p.CheckUnreferenced(); err != nil {
				t.Fatalf("unreferenced: %v", err)
			}
		case query.StoredValuesPass:
			if err := p.OutputStoredRows(); err != nil {
				t.Fatalf("OutputStoredRows error: %v", err)
			}
		}
	}
}

func renderRow(p *query.Parser, rowIdx int) []string {
	var values []string
	for _, column := range p.Columns() {
		if column.IsOutput() {
			v := p.Value(rowIdx, column.ValueIdx)
			values = append(values, v.Format(query.SubsecondTimes, query.DefaultPrecision))
		}
	}
	return values
}

func TestQueryProjectionAndFilterCSV(t *testing.T) {
	input := "category,sales\nA,10\nB,20\nA,30\n"
	_, rows := runQuery(t, []string{"category", "sum[sales]", "where[sales>15]"}, input, "")
	want := [][]string{{"B", "20"}, {"A", "30"}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryAggregateCSV(t *testing.T) {
	input := "category,sales\nA,10\nB,20\nA,30\n"
	_, rows := runQuery(t, []string{"category", "sum[sales]"}, input, "")
	want := [][]string{{"A", "40"}, {"B", "20"}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryNestedTagProjection(t *testing.T) {
	input := "<r><o><id>1</id><c>x</c></o><o><id>2</id><c>y</c></o></r>"
	_, rows := runQuery(t, []string{"id", "c"}, input, "")
	want := [][]string{{"1", "x"}, {"2", "y"}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryAggregateSortTop(t *testing.T) {
	input := "<r><t><k>a</k><v>1</v></t><t><k>b</k><v>3</v></t><t><k>a</k><v>4</v></t></r>"
	_, rows := runQuery(t, []string{"k", "sum[v]", "sort[-sum[v]]", "top[1]"}, input, "")
	want := [][]string{{"a", "5"}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryPivotWithSpread(t *testing.T) {
	input := "<r><row><k>x</k><n>1</n></row><row><k>y</k><n>2</n></row><row><k>x</k><n>3</n></row></r>"
	header, rows := runQuery(t, []string{"pivot[k,n]:pivot(k,n,true)"}, input, "")
	if diff := cmp.Diff([]string{"x", "y"}, header); diff != "" {
		t.Fatalf("header mismatch (-want +got):\n%s", diff)
	}
	want := [][]string{{"1", ""}, {"", "2"}, {"3", ""}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryInnerEquiJoin(t *testing.T) {
	input := "id,v\n1,a\n2,b\n"
	joinInput := "id,label\n1,A\n3,C\n"
	_, rows := runQuery(t,
		[]string{"id", "v", "join::label", "join[file.csv]", "where[id==join::id]"},
		input, joinInput)
	want := [][]string{{"1", "a", "A"}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryOuterJoinEmptyRight(t *testing.T) {
	input := "id,v\n1,a\n2,b\n"
	joinInput := "id,label\n1,A\n3,C\n"
	_, rows := runQuery(t,
		[]string{"id", "v", "join::label", "join[file.csv,true]", "where[id==join::id]"},
		input, joinInput)
	want := [][]string{{"1", "a", "A"}, {"2", "b", ""}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryLogProjection(t *testing.T) {
	input := "2024-01-02 03:04:05 INFO hello world\n"
	_, rows := runQuery(t, []string{"time", "level", "msg"}, input, "")
	want := [][]string{{"2024-01-02 03:04:05", "INFO", "hello world"}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryDistinct(t *testing.T) {
	input := "k\nx\ny\nx\n"
	_, rows := runQuery(t, []string{"k", "--distinct"}, input, "")
	want := [][]string{{"x"}, {"y"}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryFirstN(t *testing.T) {
	input := "k\na\nb\nc\n"
	_, rows := runQuery(t, []string{"k", "first[2]"}, input, "")
	want := [][]string{{"a"}, {"b"}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestQuerySortStrings(t *testing.T) {
	input := "k,v\nb,2\na,1\nc,3\n"
	_, rows := runQuery(t, []string{"k", "v", "sort[k]"}, input, "")
	want := [][]string{{"a", "1"}, {"b", "2"}, {"c", "3"}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestQuerySortReversedStrings(t *testing.T) {
	input := "k,v\nb,2\na,1\nc,3\n"
	_, rows := runQuery(t, []string{"k", "v", "sort[-k]"}, input, "")
	want := [][]string{{"c", "3"}, {"b", "2"}, {"a", "1"}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryJSONInput(t *testing.T) {
	input := `{"id": 1, "c": "x"}` + "\n" + `{"id": 2, "c": "y"}`
	_, rows := runQuery(t, []string{"id", "c"}, input, "")
	want := [][]string{{"1", "x"}, {"2", "y"}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryAttributes(t *testing.T) {
	input := `<r><o a="1"><b>x</b></o><o a="2"><b>y</b></o></r>`
	_, rows := runQuery(t, []string{"b", "o..a"}, input, "")
	want := [][]string{{"x", "1"}, {"y", "2"}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryUnreferencedPathError(t *testing.T) {
	p := query.NewParser()
	p.AddColumn("nosuch")
	if err := p.FinishColumns(); err != nil {
		t.Fatal(err)
	}
	if err := p.Reset(query.MainPass); err != nil {
		t.Fatal(err)
	}
	if err := reader.Parse(strings.NewReader("<r><a>1</a></r>"), p, reader.Options{Header: true}); err != nil {
		t.Fatal(err)
	}
	err := p.CheckUnreferenced()
	if err == nil || !strings.Contains(err.Error(), "not matched") {
		t.Errorf("expected unreferenced-path error, got %v", err)
	}
}

func TestQueryRowNumAndComputedColumns(t *testing.T) {
	input := "v\n10\n20\n"
	_, rows := runQuery(t, []string{"n:rownum()", "d:int(v)*2"}, input, "")
	want := [][]string{{"1", "20"}, {"2", "40"}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}
