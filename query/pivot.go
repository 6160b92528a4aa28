package query

import (
	"fmt"
	"strings"
)

type pivotState int

const (
	startNewPartition pivotState = iota
	partitioning
)

// Pivoter turns jagged name/value partitions into wide columns. It is
// bound when a column's top-level operator is pivot(names, values
// [, jagged]). The partition boundary is inferred by watching the parse
// depth: pairs accumulate while the depth stays at or above the minimum
// depth at which the partition captured them, and the partition closes
// when the depth drops below it.
type Pivoter struct {
	ctx          *ParserContext
	columnEditor ColumnEditor

	column      *Column // the column holding pivot(), not its results
	columnNames []string
	names       []string // current partition
	values      []Value  // current partition

	state             pivotState
	jagged            bool
	spreadIdx         int
	firstPass         bool
	collectingColumns bool
	partitionDepth    int
}

// PivotResult reports the outcome of a TryPivot and lets the pipeline
// accept or reject the pivoted row.
type PivotResult struct {
	pivoted    bool
	encl       *Pivoter
	newColumns []*Column
}

// WasPivoted reports whether a partition closed and produced a row.
func (r *PivotResult) WasPivoted() bool {
	return r.pivoted
}

// Accept commits the pivoted row's column set.
func (r *PivotResult) Accept() {
	r.encl.accept()
}

// Reject rolls back columns added for a row that was filtered out. It
// returns true when the built row can be recycled.
func (r *PivotResult) Reject() bool {
	return r.encl.reject(r)
}

// NewPivoter creates a pivoter bound to a column editor.
func NewPivoter(ctx *ParserContext, columnEditor ColumnEditor) *Pivoter {
	return &Pivoter{
		ctx:               ctx,
		columnEditor:      columnEditor,
		firstPass:         true,
		collectingColumns: true,
		spreadIdx:         -1,
	}
}

// BindColumns attaches the pivot column and its declared column-name
// list. Literal names synthesize result columns up front; exactly one
// spread marker records where discovered names insert.
func (p *Pivoter) BindColumns(pivotColumn *Column, columnNames []string) error {
	if len(columnNames) == 0 {
		return fmt.Errorf("pivot function requires column names, which can include spread (...)")
	}

	expr := pivotColumn.Expr
	if expr.Arg(0).Flags&ExprContainsAggregate != 0 {
		return fmt.Errorf("pivot names argument must not contain aggregate functions")
	}
	if expr.Arg(1).Flags&ExprContainsAggregate != 0 {
		return fmt.Errorf("pivot values argument must not contain aggregate functions")
	}
	if expr.Arg(0).Flags&ExprContainsJoinPathRef != 0 {
		return fmt.Errorf("pivot names argument must not contain joined paths")
	}
	if expr.Arg(1).Flags&ExprContainsJoinPathRef != 0 {
		return fmt.Errorf("pivot values argument must not contain joined paths")
	}

	p.spreadIdx = -1
	nextColumnIdx := pivotColumn.Index
	for _, colName := range columnNames {
		if colName == "..." {
			p.spreadIdx = nextColumnIdx
		} else {
			column := p.insertNewColumn(colName, nextColumnIdx)
			nextColumnIdx = column.Index + 1
		}
	}
	p.column = pivotColumn
	p.columnNames = columnNames
	p.jagged = expr.NumArgs() == 3 && expr.Arg(2).Type() == TypeBoolean && expr.Arg(2).Value().Bool
	return nil
}

// Enabled reports whether a pivot column is bound.
func (p *Pivoter) Enabled() bool {
	return p.column != nil
}

// RequirePrepass reports whether a gather pass must discover column
// names before the main pass.
func (p *Pivoter) RequirePrepass() bool {
	return p.Enabled() && p.jagged
}

// Reset prepares for a new pass. Column collection continues only
// through the first pass.
func (p *Pivoter) Reset() {
	if p.Enabled() {
		p.state = startNewPartition
		p.collectingColumns = p.firstPass
		p.firstPass = false
	}
}

// AccumulateRow evaluates the names and values expressions for one
// matched row and appends the pair to the open partition.
func (p *Pivoter) AccumulateRow(evaluator *Evaluator) {
	// The partition depth is the minimum depth at which this partition's
	// pairs were captured; leaving it closes the partition.
	if p.state == startNewPartition || p.ctx.CurrDepth < p.partitionDepth {
		p.partitionDepth = p.ctx.CurrDepth
	}
	p.state = partitioning
	p.names = append(p.names, evaluator.Evaluate(p.column.Expr.Arg(0)).Str)
	p.values = append(p.values, evaluator.Evaluate(p.column.Expr.Arg(1)))
}

// PartitionSize returns the number of accumulated (name, value) pairs.
func (p *Pivoter) PartitionSize() int {
	return len(p.names)
}

// TryPivot closes the partition if the parse depth fell below the
// partition minimum, writing each captured value into the column named by
// its captured name and collapsing the accumulated rows into one.
func (p *Pivoter) TryPivot(rows *[]Row) PivotResult {
	result := PivotResult{encl: p}

	if !p.Enabled() || !p.isAtEndOfPartition() {
		return result
	}

	// Clear previous values on existing pivot columns.
	for _, column := range p.columnEditor.Columns() {
		if column.IsPivotResult() {
			column.Expr.SetValue(StringValue(""))
		}
	}

	partitionSize := p.PartitionSize()
	firstRowIdx := len(*rows) - partitionSize
	for idx := 0; idx < partitionSize; idx++ {
		colName := p.names[idx]
		column := p.columnEditor.Column(colName)
		if column == nil && p.collectingColumns && p.spreadIdx != -1 {
			column = p.insertNewColumn(colName, p.spreadIdx)
			result.newColumns = append(result.newColumns, column)
			p.spreadIdx++
		}
		if column != nil {
			column.Flags |= ColumnPivotReferenced
			// Write the pivoted value to the expression; the pipeline
			// transfers it into the stored row.
			column.Expr.SetValueAndType(p.values[idx])
		}
	}

	p.names = p.names[:0]
	p.values = p.values[:0]

	if len(result.newColumns) > 0 {
		// Replace all the partition's rows with one of the new width.
		*rows = (*rows)[:firstRowIdx]
		*rows = append(*rows, NewRow(p.columnEditor.RowSize()))
	} else {
		// Drop all but the first partition row, which is recycled.
		*rows = (*rows)[:firstRowIdx+1]
	}

	result.pivoted = true
	return result
}

// CheckUnreferenced reports pivot result columns that never received a
// value from the input.
func (p *Pivoter) CheckUnreferenced() error {
	var missing []string
	for _, column := range p.columnEditor.Columns() {
		if column.IsPivotResult() && column.Flags&ColumnPivotReferenced == 0 {
			missing = append(missing, column.Name)
		}
	}
	if len(missing) > 0 {
		plural := ""
		if len(missing) > 1 {
			plural = "s"
		}
		return fmt.Errorf("pivot column%s not found in input: %s", plural, strings.Join(missing, ", "))
	}
	return nil
}

// accept runs after the pivoted row passed filtering.
func (p *Pivoter) accept() {
	if !p.jagged {
		p.collectingColumns = false
	}
}

// reject rolls back spread columns added for a row whose outputs were
// all filtered out. Returns true when the built row can be recycled.
func (p *Pivoter) reject(result *PivotResult) bool {
	for _, column := range result.newColumns {
		p.columnEditor.DeleteColumn(column)
		if p.spreadIdx > 0 {
			p.spreadIdx--
		}
	}
	return len(result.newColumns) == 0
}

func (p *Pivoter) isAtEndOfPartition() bool {
	if !p.Enabled() || p.state != partitioning {
		return false
	}
	if p.ctx.CurrDepth < p.partitionDepth {
		p.state = startNewPartition
		return true
	}
	return false
}

func (p *Pivoter) insertNewColumn(colName string, idx int) *Column {
	expr := NewExpr()
	expr.SetOperator(LookupOperator(OpLiteral))
	expr.SetType(TypeString)
	column := NewColumn(colName, expr, ColumnOutput|ColumnPivotResult)
	p.columnEditor.InsertColumn(column, idx)
	return column
}
