package query

import "sort"

// RowCallback receives the index of each emitted row.
type RowCallback func(rowIdx int)

// QueryFlags track the pipeline's per-pass mode.
type QueryFlags uint

const (
	// QueryStoreRows buffers rows instead of streaming them.
	QueryStoreRows QueryFlags = 1 << iota
	// QueryInvokeRowCallback fires the row callback on the final pass.
	QueryInvokeRowCallback
	// QueryParseStopped is set when a stop condition (first/top/root/
	// cancellation) ends the current pass.
	QueryParseStopped
	// QueryRecycleStorage marks the tail row slot reusable after a
	// filter rejected it.
	QueryRecycleStorage
)

type rowRef struct {
	idx   int // into storedRows (distinct) or seqRows (otherwise)
	count int
}

// Query is the row pipeline: it joins, filters, stores or streams each
// committed row, and finalizes aggregates, sort order, and limits over
// the stored rows.
type Query struct {
	flags QueryFlags
	ctx   *ParserContext
	spec  *Spec

	rowCallback RowCallback
	joinKey     Row
	// seqRows is the build/storage area. Streaming and distinct queries
	// keep one recycled build row here; otherwise all rows accumulate.
	seqRows    []Row
	storedRows []Row // distinct storage
	distinct   map[uint64][]int
	rowRefs    []rowRef
	aggregates []RowAggregates
	indexedJoin IndexedRows
	pivoter    *Pivoter
}

// NewQuery creates a pipeline over a parsed spec.
func NewQuery(ctx *ParserContext, spec *Spec) *Query {
	q := &Query{ctx: ctx, spec: spec}
	q.pivoter = NewPivoter(ctx, spec)
	return q
}

// SetFlags sets or clears pipeline flags.
func (q *Query) SetFlags(flags QueryFlags, set bool) {
	if set {
		q.flags |= flags
	} else {
		q.flags &^= flags
	}
}

// IsFlagSet reports whether a pipeline flag is set.
func (q *Query) IsFlagSet(flag QueryFlags) bool {
	return q.flags&flag != 0
}

// Pivoter returns the pipeline's pivoter.
func (q *Query) Pivoter() *Pivoter {
	return q.pivoter
}

// Streaming reports whether rows can be emitted as they commit: no
// distinct, no sort, no aggregates.
func (q *Query) Streaming() bool {
	return !q.isDistinct() && !q.needsSorting() && !q.aggregated()
}

// SetRowCallback installs the row consumer.
func (q *Query) SetRowCallback(cb RowCallback) {
	q.rowCallback = cb
}

// SetIndexedJoin hands the pipeline the pre-built join index.
func (q *Query) SetIndexedJoin(indexedJoin IndexedRows) {
	q.indexedJoin = indexedJoin
}

// Reset prepares for a pass. The join index and pivoter-collected
// columns persist between passes.
func (q *Query) Reset(passType, lastPassType PassType) {
	if q.distinct == nil {
		q.distinct = map[uint64][]int{}
	}
	q.SetFlags(QueryParseStopped, false)
	if passType == MainPass {
		q.SetFlags(QueryStoreRows, !q.Streaming())
	} else {
		q.SetFlags(QueryStoreRows, passType == StoredValuesPass)
	}
	q.SetFlags(QueryInvokeRowCallback, passType == lastPassType)

	q.pivoter.Reset()
	if passType == MainPass {
		q.seqRows = q.seqRows[:0]
		q.storedRows = q.storedRows[:0]
		q.rowRefs = q.rowRefs[:0]
		q.aggregates = q.aggregates[:0]
		q.distinct = map[uint64][]int{}
	}
	q.removeRecycledRow()
}

// CheckUnreferenced reports pivot columns that never bound.
func (q *Query) CheckUnreferenced() error {
	return q.pivoter.CheckUnreferenced()
}

// Row returns a stored or streamed row by output index.
func (q *Query) Row(rowIdx int) Row {
	if q.Streaming() {
		// at most one row in storage
		return q.seqRows[0]
	}
	if q.isDistinct() {
		return q.storedRows[q.rowRefs[rowIdx].idx]
	}
	if len(q.rowRefs) == len(q.seqRows) { // did we sort?
		return q.seqRows[q.rowRefs[rowIdx].idx]
	}
	return q.seqRows[rowIdx]
}

// RowRepeatCount returns how many identical rows collapsed into the
// given stored row.
func (q *Query) RowRepeatCount(rowIdx int) int {
	if q.Streaming() || q.isDistinct() {
		return 1
	}
	if len(q.rowRefs) == len(q.seqRows) {
		return q.rowRefs[rowIdx].count
	}
	return 1
}

// OnEndTag gives the pivoter a chance to close its partition at a depth
// drop and commits the pivoted row.
func (q *Query) OnEndTag() {
	if !q.pivoter.Enabled() {
		return
	}
	result := q.pivoter.TryPivot(&q.seqRows)
	if !result.WasPivoted() {
		return
	}
	if q.joinAndCommitRow(q.seqRows[len(q.seqRows)-1]) {
		result.Accept()
	} else if result.Reject() {
		q.SetFlags(QueryRecycleStorage, true)
		q.removeRecycledRow()
	}
}

// EmitRow handles one committed match from the matcher: pivoting queries
// accumulate into the open partition, everything else joins and commits
// immediately.
func (q *Query) EmitRow() {
	if q.pivoter.Enabled() {
		q.allocRow(q.pivoter.PartitionSize())
		q.pivoter.AccumulateRow(NewEvaluator(q.ctx, nil))
		return
	}
	if !q.joinAndCommitRow(q.allocRow(0)) {
		q.SetFlags(QueryRecycleStorage, true)
		q.removeRecycledRow()
	}
}

// OutputStoredRows runs the stored-values pass: finalize aggregates,
// sort, apply top[n] and aggregate filters, and fire the row callback
// with repeat counts.
func (q *Query) OutputStoredRows() {
	if q.rowCallback == nil {
		return
	}

	var aggregateFilters []*Column
	if q.aggregated() {
		for _, column := range q.spec.Columns() {
			if column.IsAggregate() && column.IsFilter() {
				aggregateFilters = append(aggregateFilters, column)
			}
		}
		maxRows := len(q.rowRefs)
		if !q.needsSorting() && q.spec.IsFlagSet(SpecTopNRowsSpecified) && q.spec.TopNRows() < maxRows {
			maxRows = q.spec.TopNRows()
		}
		for rowIdx := 0; rowIdx < maxRows; rowIdx++ {
			row := q.Row(rowIdx)
			evaluator := NewEvaluator(q.ctx, q.aggregates[rowIdx])
			for _, column := range q.spec.Columns() {
				switch {
				case column.IsAggregate():
					row[column.ValueIdx] = evaluator.Evaluate(column.Expr)
				case column.IsOutput():
					column.Expr.SetValue(row[column.ValueIdx])
				}
			}
		}
	} else if !q.isDistinct() {
		// Rows accumulated in the sequential store; build the reference
		// table now.
		q.rowRefs = q.rowRefs[:0]
		for rowIdx := range q.seqRows {
			q.rowRefs = append(q.rowRefs, rowRef{idx: rowIdx, count: 1})
		}
	}

	if q.needsSorting() {
		q.sortRows()
	}

	maxRows := len(q.rowRefs)
	if q.spec.IsFlagSet(SpecTopNRowsSpecified) && q.spec.TopNRows() < maxRows {
		maxRows = q.spec.TopNRows()
	}
	for rowIdx := 0; rowIdx < maxRows; rowIdx++ {
		output := true
		for _, column := range aggregateFilters {
			row := q.Row(rowIdx)
			output = output && row[column.ValueIdx].Bool
		}
		if output {
			q.rowCallback(rowIdx)
		}
	}
}

// allocRow ensures a row slot to build into, recycling the tail slot
// when rows are not being kept.
func (q *Query) allocRow(currPartitionSize int) Row {
	keepAllRows := !q.isDistinct() && !q.Streaming()
	if (keepAllRows && !q.IsFlagSet(QueryRecycleStorage)) || currPartitionSize > 0 || len(q.seqRows) == 0 {
		q.seqRows = append(q.seqRows, NewRow(q.spec.RowSize()))
	}
	q.SetFlags(QueryRecycleStorage, !keepAllRows)
	return q.seqRows[len(q.seqRows)-1]
}

func (q *Query) removeRecycledRow() {
	if q.IsFlagSet(QueryRecycleStorage) && len(q.seqRows) > 0 {
		q.seqRows = q.seqRows[:len(q.seqRows)-1]
	}
	q.SetFlags(QueryRecycleStorage, false)
}

// joinAndCommitRow evaluates, filters, and stores or streams one row,
// iterating the matching join bucket when this query is the left side of
// a join. It returns false when every iteration was filtered out.
func (q *Query) joinAndCommitRow(row Row) bool {
	committed := false

	leftSideOfJoin := q.spec.IsFlagSet(SpecLeftSideOfJoin)
	if leftSideOfJoin {
		joinSpec := q.spec.JoinSpec()
		exprs := joinSpec.EqualityExprsLeft

		// Hash the equality expressions into the bucket key.
		q.joinKey = q.joinKey[:0]
		evaluator := NewEvaluator(q.ctx, nil)
		for _, expr := range exprs {
			q.joinKey = append(q.joinKey, evaluator.Evaluate(expr))
		}
		index := HashRowPrefix(q.joinKey, len(q.joinKey))
		bucket, ok := q.indexedJoin[index]
		switch {
		case ok:
			q.ctx.SetJoinTable(bucket)
		case joinSpec.Outer:
			q.ctx.EmptyOuterJoin = true
		default:
			q.ctx.ResetJoinTable()
			return false // no join rows meet the equality constraints
		}
	}

	for {
		if leftSideOfJoin && q.ctx.JoinTable != nil && q.ctx.JoinTableRowIdx == len(q.ctx.JoinTable) {
			break // finished the join bucket
		}

		if q.checkFirstNRows() {
			q.SetFlags(QueryParseStopped, true)
			break
		}

		q.evaluateNonAggregateAndSortValues(row)

		if q.testFiltersOnNonAggregateColumns() {
			committed = true
			if !q.storeRow(row) {
				if q.checkTopNRows() {
					q.SetFlags(QueryParseStopped, true)
				} else if q.Streaming() && q.IsFlagSet(QueryInvokeRowCallback) && q.rowCallback != nil {
					q.rowCallback(0)
				}
			}
		}

		if !leftSideOfJoin || q.ctx.EmptyOuterJoin {
			break
		}
		q.ctx.JoinTableRowIdx++
	}

	q.ctx.ResetJoinTable()
	return committed
}

// evaluateNonAggregateAndSortValues fills the row's value slots and the
// non-aggregate portion of its sort-key tail.
func (q *Query) evaluateNonAggregateAndSortValues(row Row) {
	evaluator := NewEvaluator(q.ctx, nil)
	for _, column := range q.spec.Columns() {
		switch {
		case column == q.spec.SortColumn():
			// Non-aggregate sort keys go after the output values;
			// aggregate keys wait for the stored-values pass.
			valueIdx := q.spec.NumValueColumns()
			for i := 0; i < column.Expr.NumArgs(); i++ {
				arg := column.Expr.Arg(i)
				if arg.Flags&ExprContainsAggregate == 0 {
					row[valueIdx] = evaluator.Evaluate(arg)
				}
				valueIdx++
			}
		case column.IsPivotResult() && column.IsOutput():
			// The pivoter wrote the pivoted value to the column
			// expression; move it into the row.
			row[column.ValueIdx] = column.Expr.Value()
		case !column.IsAggregate() && column.IsOutput():
			row[column.ValueIdx] = evaluator.Evaluate(column.Expr)
		}
	}
}

// testFiltersOnNonAggregateColumns evaluates every where[] filter;
// filters on aggregated columns run separately at output time.
func (q *Query) testFiltersOnNonAggregateColumns() bool {
	evaluator := NewEvaluator(q.ctx, nil)
	for _, column := range q.spec.Columns() {
		if column.IsAggregate() || !column.IsFilter() {
			continue
		}
		if q.ctx.EmptyOuterJoin && column.Expr.Flags&ExprJoinEqualityWhere != 0 {
			// free pass: outer join producing empty join values
			continue
		}
		if !evaluator.Evaluate(column.Expr).Bool {
			return false
		}
	}
	return true
}

// storeRow buffers the row, deduplicating by the value prefix. It
// returns false when the pipeline is streaming (immediate output).
func (q *Query) storeRow(row Row) bool {
	if !q.isDistinct() && !q.needsSorting() {
		q.ctx.NumRowsOutput++
		return false
	}

	prefixLen := q.spec.NumValueColumns()
	hash := HashRowPrefix(row, prefixLen)
	dupIdx := -1
	for _, refIdx := range q.distinct[hash] {
		stored := q.storedRows[q.rowRefs[refIdx].idx]
		if RowsEqual(stored, row, prefixLen) {
			dupIdx = refIdx
			break
		}
	}

	var rowIdx int
	if dupIdx >= 0 {
		rowIdx = dupIdx
		q.rowRefs[rowIdx].count++
	} else {
		rowIdx = len(q.rowRefs)
		stored := make(Row, len(row))
		copy(stored, row)
		q.storedRows = append(q.storedRows, stored)
		q.rowRefs = append(q.rowRefs, rowRef{idx: len(q.storedRows) - 1, count: 1})
		q.distinct[hash] = append(q.distinct[hash], rowIdx)
		if q.aggregated() {
			q.aggregates = append(q.aggregates, NewRowAggregates(q.spec.AggrCount()))
		}
		q.ctx.NumRowsOutput++
	}

	if q.aggregated() {
		// Ingest this row's observations; results copy back into the
		// stored rows during the stored-values pass.
		evaluator := NewEvaluator(q.ctx, q.aggregates[rowIdx])
		for _, column := range q.spec.Columns() {
			if column.IsAggregate() {
				evaluator.Evaluate(column.Expr)
			}
		}
	}
	return true
}

// sortRows finalizes aggregate sort keys and stably sorts the row
// references by the composite key with per-key reversal.
func (q *Query) sortRows() {
	sortColumn := q.spec.SortColumn()
	sortExpr := sortColumn.Expr

	if q.aggregated() {
		for rowIdx := range q.rowRefs {
			evaluator := NewEvaluator(q.ctx, q.aggregates[rowIdx])
			row := q.Row(rowIdx)
			valueIdx := q.spec.NumValueColumns()
			for i := 0; i < sortExpr.NumArgs(); i++ {
				arg := sortExpr.Arg(i)
				if arg.Flags&ExprContainsAggregate != 0 {
					row[valueIdx] = evaluator.Evaluate(arg)
				}
				valueIdx++
			}
		}
	}

	firstSortValue := q.spec.NumValueColumns()
	numSortValues := q.spec.NumSortValues()
	rev := q.spec.ReversedStringSorts()

	rows := q.seqRows
	if q.isDistinct() {
		rows = q.storedRows
	}
	sort.SliceStable(q.rowRefs, func(i, j int) bool {
		left := rows[q.rowRefs[i].idx]
		right := rows[q.rowRefs[j].idx]
		for k := 0; k < numSortValues; k++ {
			cmp := Compare(left[firstSortValue+k], right[firstSortValue+k])
			if cmp < 0 {
				return !rev[k]
			}
			if cmp > 0 {
				return rev[k]
			}
		}
		return false
	})
}

func (q *Query) aggregated() bool {
	return q.spec.IsFlagSet(SpecAggregatesExist)
}

func (q *Query) isDistinct() bool {
	return q.spec.IsFlagSet(SpecDistinctUsed) || q.aggregated()
}

func (q *Query) needsSorting() bool {
	return q.spec.SortColumn() != nil && q.spec.NumValueColumns() > 0
}

func (q *Query) checkFirstNRows() bool {
	q.ctx.NumRowsMatched++
	return q.spec.IsFlagSet(SpecFirstNRowsSpecified) && q.ctx.NumRowsMatched > q.spec.FirstNRows()
}

func (q *Query) checkTopNRows() bool {
	return !q.needsSorting() && q.spec.IsFlagSet(SpecTopNRowsSpecified) &&
		q.ctx.NumRowsOutput > q.spec.TopNRows()
}
