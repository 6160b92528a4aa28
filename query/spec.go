package query

import (
	"fmt"
	"strings"
)

// SpecFlags record global properties discovered while planning.
type SpecFlags uint

const (
	SpecLineNumUsed SpecFlags = 1 << iota
	SpecGatherDataPassRequired
	SpecNodeStackRequired
	SpecAggregatesExist
	SpecShowUsage
	SpecDistinctUsed
	SpecFirstNRowsSpecified
	SpecTopNRowsSpecified
	SpecAttributesUsed
	SpecHasPivot
	SpecLeftSideOfJoin
	SpecRightSideOfJoin
	SpecColumnsAdded
)

// InputSpec configures the main input.
type InputSpec struct {
	Header   bool
	Filename string
	// ScopeName qualifies path references (name::path); overridden by
	// naming the in[] column, e.g. foo:in[...].
	ScopeName string
	PathRefs  map[string]*PathRef
}

// OutputSpec configures the output projection.
type OutputSpec struct {
	Header bool
}

// JoinSpec is recorded on behalf of the left side of a join. For the
// right side, a second Spec is built via AddJoinColumns instead of
// ParseColumns.
type JoinSpec struct {
	Flags             SpecFlags // propagated to the right-side Spec
	Header            bool
	Outer             bool
	Filename          string
	ScopeName         string
	Columns           []*Column
	PathRefs          map[string]*PathRef
	EqualityExprsLeft []*Expr
}

// Spec is the parsed query: the ordered column list plus everything the
// planner derived from it.
type Spec struct {
	flags               SpecFlags
	inputSpec           InputSpec
	outputSpec          OutputSpec
	joinSpec            JoinSpec
	columns             []*Column
	colMap              map[string]*Column
	exprs               []*Expr
	sortColumn          *Column
	reversedStringSorts []bool
	pivotColumn         *Column
	rootNodeNum         int
	firstNRows          int
	topNRows            int
	aggrCount           int
	numValueColumns     int
	caseSensitive       bool

	// per-parse state
	tokens             *Tokenizer
	currentColumn      *Column
	currentColumnNames []string
	allColumnNames     []string
}

// NewSpec creates an empty query spec.
func NewSpec() *Spec {
	return &Spec{
		inputSpec: InputSpec{Header: true, ScopeName: "left", PathRefs: map[string]*PathRef{}},
		outputSpec: OutputSpec{
			Header: true,
		},
		joinSpec: JoinSpec{Header: true, ScopeName: "right", PathRefs: map[string]*PathRef{}},
		colMap:   map[string]*Column{},
	}
}

// InputSpec returns the main input configuration.
func (s *Spec) InputSpec() *InputSpec {
	return &s.inputSpec
}

// OutputSpec returns the output configuration.
func (s *Spec) OutputSpec() *OutputSpec {
	return &s.outputSpec
}

// JoinSpec returns the join configuration.
func (s *Spec) JoinSpec() *JoinSpec {
	return &s.joinSpec
}

// Columns returns the ordered column list.
func (s *Spec) Columns() []*Column {
	return s.columns
}

// Column looks a column up by name, case-insensitively.
func (s *Spec) Column(name string) *Column {
	return s.colMap[strings.ToLower(name)]
}

// ColumnIndex returns a column's index, or -1 when absent.
func (s *Spec) ColumnIndex(name string) int {
	column := s.Column(name)
	if column == nil {
		return -1
	}
	return column.Index
}

// NumValueColumns returns the number of row slots taken by output and
// aggregate columns.
func (s *Spec) NumValueColumns() int {
	return s.numValueColumns
}

// RowSize returns the full row vector length: value slots plus sort-key
// slots.
func (s *Spec) RowSize() int {
	return s.numValueColumns + s.NumSortValues()
}

// InsertColumn inserts a column at idx (-1 appends), maintaining index
// and value-slot assignments.
func (s *Spec) InsertColumn(column *Column, idx int) int {
	if idx < 0 || idx > len(s.columns) {
		idx = len(s.columns)
	}
	column.Index = idx
	s.columns = append(s.columns, nil)
	copy(s.columns[idx+1:], s.columns[idx:])
	s.columns[idx] = column
	s.colMap[strings.ToLower(column.Name)] = column
	s.updateColumnIndices()
	return idx
}

// DeleteColumn removes a column (used by the pivoter's rollback).
func (s *Spec) DeleteColumn(column *Column) {
	idx := column.Index
	if idx < 0 || idx >= len(s.columns) {
		return
	}
	s.columns = append(s.columns[:idx], s.columns[idx+1:]...)
	delete(s.colMap, strings.ToLower(column.Name))
	s.updateColumnIndices()
}

// AggrCount returns the number of aggregate expressions.
func (s *Spec) AggrCount() int {
	return s.aggrCount
}

// FirstNRows returns the first[] limit.
func (s *Spec) FirstNRows() int {
	return s.firstNRows
}

// TopNRows returns the top[] limit.
func (s *Spec) TopNRows() int {
	return s.topNRows
}

// RootNodeNum returns the root[] ordinal, 0 when unset.
func (s *Spec) RootNodeNum() int {
	return s.rootNodeNum
}

// CaseSensitive reports the case policy selected by the case directive.
func (s *Spec) CaseSensitive() bool {
	return s.caseSensitive
}

// IsFlagSet reports whether a planning flag is set.
func (s *Spec) IsFlagSet(flag SpecFlags) bool {
	return s.flags&flag != 0
}

// SortColumn returns the sort[] column, nil when unset.
func (s *Spec) SortColumn() *Column {
	return s.sortColumn
}

// NumSortValues returns the number of sort-key slots.
func (s *Spec) NumSortValues() int {
	if s.sortColumn == nil {
		return 0
	}
	return s.sortColumn.Expr.NumArgs()
}

// ReversedStringSorts reports, per sort key, whether a string key's
// direction is reversed (its root operator was unary minus).
func (s *Spec) ReversedStringSorts() []bool {
	return s.reversedStringSorts
}

// PivotColumn returns the pivot[] column, nil when unset.
func (s *Spec) PivotColumn() *Column {
	return s.pivotColumn
}

// ParseColumns parses the column arguments: pass A reads explicit name
// lists, pass B parses expressions, infers types, classifies columns,
// resolves references, and hoists join-dependent subtrees. The pivoter,
// when given, is bound to the pivot column.
func (s *Spec) ParseColumns(columnSpecs []string, pivoter *Pivoter) error {
	if len(s.allColumnNames) != 0 {
		return fmt.Errorf("columns already parsed")
	}

	// First pass on column specs to get the names.
	namesPerColumn := make([][]string, 0, len(columnSpecs))
	overridesPerColumn := make([]nameOverride, 0, len(columnSpecs))
	for _, columnSpec := range columnSpecs {
		names, explicit, err := s.parseColumnNames(columnSpec)
		if err != nil {
			return err
		}
		for _, name := range names {
			// only create column references to explicitly named columns
			if explicit {
				s.allColumnNames = append(s.allColumnNames, name)
			} else {
				s.allColumnNames = append(s.allColumnNames, "")
			}
		}
		if explicit {
			namesPerColumn = append(namesPerColumn, names)
		} else {
			namesPerColumn = append(namesPerColumn, nil)
		}
		overridesPerColumn = append(overridesPerColumn, s.handleColumnNameOverrides(namesPerColumn[len(namesPerColumn)-1]))
	}

	// Second pass to parse the column expressions and add the columns.
	var pivotColumnNames []string
	for idx, columnSpec := range columnSpecs {
		override := overridesPerColumn[idx]
		s.currentColumnNames = namesPerColumn[idx]
		column, err := s.parseColumnExpr(columnSpec)
		if err != nil {
			return err
		}
		if override.name != "" {
			column.Name = override.name
		}
		if override.opcode == OpPivot {
			// A name echoing the call itself (pivot[k,n]:...) declares no
			// result columns; discovery falls back to a bare spread.
			for _, name := range s.currentColumnNames {
				if !strings.ContainsRune(name, '[') {
					pivotColumnNames = append(pivotColumnNames, name)
				}
			}
			if len(pivotColumnNames) == 0 {
				pivotColumnNames = []string{"..."}
			}
		}
		s.InsertColumn(column, -1)
		s.currentColumnNames = nil
	}

	if err := s.postProcessRefs(); err != nil {
		return err
	}

	if s.pivotColumn != nil && pivoter != nil {
		if err := pivoter.BindColumns(s.pivotColumn, pivotColumnNames); err != nil {
			return err
		}
	}

	for _, column := range s.columns {
		expr := column.Expr
		if err := s.validateStructureAndHoistJoinColumns(expr); err != nil {
			return err
		}
		if expr.Flags&ExprContainsJoinPathRef != 0 {
			column.Expr = s.hoistJoinExpr(expr)
		}
	}

	s.collectJoinEqualities()

	s.flags |= SpecColumnsAdded
	return nil
}

// AddJoinColumns initializes this Spec as the right side of a join, using
// the hoisted columns recorded by the left side's planner.
func (s *Spec) AddJoinColumns(joinSpec *JoinSpec) error {
	if len(s.exprs) != 0 || len(s.inputSpec.PathRefs) != 0 {
		return fmt.Errorf("join columns must be added to a fresh query spec")
	}
	if len(joinSpec.Columns) == 0 {
		return fmt.Errorf("missing joined path references")
	}

	s.inputSpec.PathRefs = joinSpec.PathRefs
	s.inputSpec.Header = joinSpec.Header
	for _, column := range joinSpec.Columns {
		s.InsertColumn(column, -1)
	}

	s.flags |= joinSpec.Flags | SpecRightSideOfJoin | SpecColumnsAdded
	return nil
}

func (s *Spec) updateColumnIndices() {
	s.numValueColumns = 0
	valueIdx := 0
	for idx, column := range s.columns {
		column.Index = idx
		if column.IsOutput() || column.IsAggregate() {
			column.ValueIdx = valueIdx
			valueIdx++
			s.numValueColumns++
		} else {
			column.ValueIdx = -1
		}
	}
}

// parseColumnNames attempts to read one or more names separated by commas
// and terminated by a colon. When no explicit name list is present, the
// whole argument text becomes the default name and the tokenizer is reset
// to the argument start.
func (s *Spec) parseColumnNames(columnSpec string) (names []string, explicit bool, err error) {
	s.tokens = NewTokenizer(columnSpec)
	expectMoreNames := false
	foundColon := false
	for {
		var name string
		switch s.tokens.Lookahead(0).ID {
		case TokID, TokStringLit, TokSpread:
			name = s.tokens.Next().Str
			// A bracketed suffix stays part of the name (pivot[x,y]:...)
			if s.tokens.Lookahead(0).ID == TokLBracket {
				s.tokens.Next()
				name += "[" + s.parseUnquotedText(TokRBracket, TokNone) + "]"
				if tok := s.tokens.Next(); tok.ID != TokRBracket {
					return nil, false, fmt.Errorf("unbalanced brackets in column name: %s", columnSpec)
				}
			}
		case TokLBrace:
			s.tokens.Next()
			name = s.parseUnquotedText(TokRBrace, TokNone)
			if tok := s.tokens.Next(); tok.ID != TokRBrace {
				return nil, false, fmt.Errorf("unbalanced braces in column name: %s", columnSpec)
			}
		}
		if name == "" {
			if expectMoreNames {
				return nil, false, fmt.Errorf("expected a column name after comma")
			}
			break
		}
		for _, existing := range names {
			if existing == name {
				return nil, false, fmt.Errorf("duplicate column name: %s", name)
			}
		}
		names = append(names, name)
		switch s.tokens.Lookahead(0).ID {
		case TokComma:
			s.tokens.Next()
			explicit = true
			expectMoreNames = true
		case TokColon:
			s.tokens.Next()
			explicit = true
			foundColon = true
			expectMoreNames = false
		default:
			expectMoreNames = false
		}
		if !expectMoreNames {
			break
		}
	}

	if !foundColon {
		// No explicit names after all; roll the tokenizer back and use
		// the full argument text as the default name.
		s.tokens = NewTokenizer(columnSpec)
		explicit = false
		names = names[:0]
		if s.ColumnIndex(columnSpec) != -1 {
			return nil, false, fmt.Errorf("duplicate column: %s", columnSpec)
		}
		names = append(names, columnSpec)
	}

	for _, name := range names {
		if s.ColumnIndex(name) != -1 {
			return nil, false, fmt.Errorf("duplicate column name: %s", name)
		}
	}

	return names, explicit, nil
}

type nameOverride struct {
	name   string
	opcode Opcode
}

// handleColumnNameOverrides peeks for a top-level in/join/pivot call:
// naming those columns renames the input/join scope, and the columns
// themselves get reserved internal names.
func (s *Spec) handleColumnNameOverrides(columnNames []string) nameOverride {
	var override nameOverride
	tok0 := s.tokens.Lookahead(0)
	tok1 := s.tokens.Lookahead(1)
	isFunctionCall := tok0.ID == TokID && (tok1.ID == TokLBracket || tok1.ID == TokLParen)
	if !isFunctionCall {
		return override
	}
	op, err := LookupOperatorName(tok0.Str)
	if err != nil {
		return override
	}
	switch op.Opcode {
	case OpIn:
		if len(columnNames) > 0 && columnNames[0] != "" {
			s.inputSpec.ScopeName = columnNames[0]
		}
		override = nameOverride{"__column_in", OpIn}
	case OpJoin:
		if len(columnNames) > 0 && columnNames[0] != "" {
			s.joinSpec.ScopeName = columnNames[0]
		}
		// lets join:: references in earlier columns parse
		s.flags |= SpecLeftSideOfJoin
		override = nameOverride{"__column_join", OpJoin}
	case OpPivot:
		override = nameOverride{"__column_pivot", OpPivot}
	}
	return override
}

func (s *Spec) parseColumnExpr(columnSpec string) (*Column, error) {
	names, _, err := s.parseColumnNames(columnSpec)
	if err != nil {
		return nil, err
	}

	expr := NewExpr()
	if err := s.parseExpr(expr, nil, false); err != nil {
		return nil, err
	}
	if _, err := s.expectNext(TokEnd, TokNone); err != nil {
		return nil, err
	}

	column := NewColumn(names[0], expr, 0)
	s.currentColumn = column

	InferTypes(expr)
	if err := s.postprocessColumnExprs(expr, 0, false); err != nil {
		return nil, err
	}

	s.tokens = nil
	s.currentColumn = nil
	return column, nil
}

// postprocessColumnExprs walks a freshly parsed column expression,
// recording structural facts and applying directives.
func (s *Spec) postprocessColumnExprs(expr *Expr, depth int, noDataParent bool) error {
	op := expr.Op

	if op.Flags&FlagTopLevelOnly != 0 && depth > 0 {
		return fmt.Errorf("top-level expression only: %s", op.Name)
	}

	if op.Flags&FlagOnceOnly != 0 {
		for _, seen := range s.exprs {
			if seen.Op.Opcode == op.Opcode {
				return fmt.Errorf("expression can only be used once: %s", op.Name)
			}
		}
	}

	s.exprs = append(s.exprs, expr)

	if op.IsAggregate() {
		s.currentColumn.Flags |= ColumnAggregate
		expr.Flags |= ExprContainsAggregate
		s.flags |= SpecAggregatesExist
		expr.AggrIdx = s.aggrCount
		s.aggrCount++
	}

	if op.Flags&FlagGatherData != 0 {
		s.flags |= SpecGatherDataPassRequired
	}

	numArgs := expr.NumArgs()
	switch op.Opcode {
	case OpPathRef:
		pathRef := expr.PathRef()
		if pathRef.Flags&PathRefJoined != 0 {
			expr.Flags |= ExprContainsJoinPathRef
		} else {
			expr.Flags |= ExprContainsInputPathRef
		}
		if noDataParent {
			pathRef.Flags |= PathRefNoData
		} else {
			// voids the NoData flag once all references are seen
			pathRef.Flags |= PathRefAppendData
			pathRef.Flags &^= PathRefNoData
		}

	case OpCase:
		if numArgs == 0 || expr.Arg(0).Value().Bool {
			s.caseSensitive = true
		}

	case OpAttr:
		s.flags |= SpecAttributesUsed

	case OpLineNum:
		s.flags |= SpecLineNumUsed

	case OpDistinct:
		s.flags |= SpecDistinctUsed

	case OpFirst:
		s.firstNRows = int(maxInt64(0, expr.Arg(0).Value().Int))
		s.flags |= SpecFirstNRowsSpecified

	case OpTop:
		s.topNRows = int(maxInt64(0, expr.Arg(0).Value().Int))
		s.flags |= SpecTopNRowsSpecified

	case OpPivot:
		s.pivotColumn = s.currentColumn
		s.flags |= SpecHasPivot

	case OpSort:
		s.sortColumn = s.currentColumn
		for i := 0; i < numArgs; i++ {
			arg := expr.Arg(i)
			s.reversedStringSorts = append(s.reversedStringSorts,
				(arg.Type() == TypeUnknown || arg.Type() == TypeString) && arg.Op.Opcode == OpNeg)
		}

	case OpInputHeader:
		s.inputSpec.Header = numArgs == 0 || expr.Arg(0).Value().Bool

	case OpJoinHeader:
		s.joinSpec.Header = numArgs == 0 || expr.Arg(0).Value().Bool

	case OpOutputHeader:
		s.outputSpec.Header = numArgs == 0 || expr.Arg(0).Value().Bool

	case OpHelp:
		s.flags |= SpecShowUsage

	case OpIn:
		s.inputSpec.Filename = expr.Arg(0).Value().Str

	case OpJoin:
		s.joinSpec.Filename = expr.Arg(0).Value().Str
		if numArgs == 2 {
			s.joinSpec.Outer = expr.Arg(1).Value().Bool
		}
		s.flags |= SpecLeftSideOfJoin

	case OpSync:
		if ref := expr.Arg(0).PathRef(); ref != nil {
			ref.Flags |= PathRefSync
		}

	case OpRoot:
		s.rootNodeNum = int(expr.Arg(0).Value().Int)
	}

	if depth == 0 {
		if op.Flags&FlagDirective == 0 {
			s.currentColumn.Flags |= ColumnOutput
		}
		if op.Opcode == OpWhere {
			expr.ChangeType(TypeBoolean)
			s.currentColumn.Flags |= ColumnFilter
		}
		if op.Opcode != OpPivot {
			if len(s.currentColumnNames) > 1 {
				return fmt.Errorf("multiple column names only valid for pivot function")
			}
			if len(s.currentColumnNames) == 1 && s.currentColumnNames[0] == "..." {
				return fmt.Errorf("column name spread (...) only valid for pivot function")
			}
		}
	}

	// pivot is a directive, but it reads the text of its name and value
	// paths
	childNoData := op.Flags&FlagNoData != 0 && op.Opcode != OpPivot
	for i := 0; i < expr.NumArgs(); i++ {
		if err := s.postprocessColumnExprs(expr.Arg(i), depth+1, childNoData); err != nil {
			return err
		}
	}
	return nil
}

// postProcessRefs runs after all columns have been parsed: it validates
// path-reference prerequisites, registers immediate-evaluation
// expressions on their paths, and resolves column references.
func (s *Spec) postProcessRefs() error {
	if len(s.inputSpec.PathRefs) == 0 {
		if s.flags&SpecLeftSideOfJoin != 0 {
			return fmt.Errorf("a join requires at least one input path reference")
		}
		if s.sortColumn != nil {
			return fmt.Errorf("a sort requires at least one input path reference")
		}
		if s.flags&SpecDistinctUsed != 0 {
			return fmt.Errorf("use of distinct requires at least one input path reference")
		}
	}
	if len(s.joinSpec.PathRefs) == 0 && s.flags&SpecLeftSideOfJoin != 0 {
		return fmt.Errorf("a join requires at least one joined path reference")
	}

	for _, pathRef := range s.inputSpec.PathRefs {
		if pathRef.Flags&PathRefAppendData != 0 {
			pathRef.Flags &^= PathRefNoData
		}
	}

	for _, expr := range s.exprs {
		op := expr.Op
		if op.Flags&FlagImmedEvaluate != 0 {
			pathRef := expr.Arg(0).PathRef()
			if pathRef == nil {
				return fmt.Errorf("first argument of %s must be a path reference", op.Name)
			}
			if op.Flags&FlagStartMatchEval != 0 {
				pathRef.StartMatchExprs = append(pathRef.StartMatchExprs, expr)
			} else {
				pathRef.EndMatchExprs = append(pathRef.EndMatchExprs, expr)
			}
			if pathRef.Flags&PathRefJoined != 0 {
				s.joinSpec.Flags |= SpecNodeStackRequired
			} else {
				s.flags |= SpecNodeStackRequired
			}
		}

		if op.Opcode == OpColumnRef {
			// Temporary reference created while parsing; resolve now that
			// every column exists.
			colName := expr.ColumnRef().Name
			column := s.Column(colName)
			if column == nil {
				return fmt.Errorf("unresolved column reference: %s", colName)
			}
			for column.Expr.ColumnRef() != nil {
				next := s.Column(column.Expr.ColumnRef().Name)
				if next == nil {
					return fmt.Errorf("unresolved column reference: %s", column.Expr.ColumnRef().Name)
				}
				if strings.EqualFold(next.Name, colName) {
					return fmt.Errorf("circular column reference: %s", colName)
				}
				column = next
			}
			expr.SetColumnRef(column)
		}
	}
	return nil
}

// collectJoinEqualities runs after hoisting. It collects the joined
// columns that appear on one side of a where[lhs==rhs] equality; those
// key the join hash index, with the opposite operands recorded for
// computing the index key from each input row.
func (s *Spec) collectJoinEqualities() {
	for _, column := range s.columns {
		if !column.IsFilter() {
			continue
		}
		expr := column.Expr
		pred := expr
		if pred.Op.Opcode == OpWhere && pred.NumArgs() == 1 {
			pred = pred.Arg(0)
		}
		if pred.Op.Opcode != OpEQ {
			continue
		}
		for operand := 0; operand <= 1; operand++ {
			ref := pred.Arg(operand).ColumnRef()
			if ref != nil && ref.Flags&ColumnJoined != 0 {
				ref.Flags |= ColumnIndexed
				s.joinSpec.EqualityExprsLeft = append(s.joinSpec.EqualityExprsLeft, pred.Arg(1-operand))
				expr.Flags |= ExprJoinEqualityWhere
				break
			}
		}
	}
}

// validateStructureAndHoistJoinColumns rolls subtree flags upward,
// enforces the aggregate composition rules, and hoists the largest
// join-dependent subtrees into synthetic joined columns.
func (s *Spec) validateStructureAndHoistJoinColumns(expr *Expr) error {
	if expr.Flags&ExprVisited != 0 {
		// Column references make the traversal DAG-like.
		return nil
	}
	expr.Flags |= ExprVisited

	op := expr.Op
	rollup := func(parent, child *Expr) error {
		if child.Flags&ExprContainsAggregate != 0 {
			if parent.Op.IsAggregate() {
				return fmt.Errorf("aggregate functions cannot be composed")
			}
			parent.Flags |= ExprContainsAggregate
		}
		if child.Flags&ExprContainsInputPathRef != 0 {
			parent.Flags |= ExprContainsInputPathRef
		}
		if child.Flags&ExprContainsJoinPathRef != 0 {
			parent.Flags |= ExprContainsJoinPathRef
		}
		return nil
	}

	if op.Opcode == OpColumnRef {
		columnExpr := expr.ColumnRef().Expr
		if err := s.validateStructureAndHoistJoinColumns(columnExpr); err != nil {
			return err
		}
		if err := rollup(expr, columnExpr); err != nil {
			return err
		}
	} else {
		for i := 0; i < expr.NumArgs(); i++ {
			arg := expr.Arg(i)
			if err := s.validateStructureAndHoistJoinColumns(arg); err != nil {
				return err
			}
			if err := rollup(expr, arg); err != nil {
				return err
			}
		}
	}

	// Joined paths hoist before computing an aggregation or any function
	// that also depends on an input path. Larger subtrees containing only
	// join path references accumulate before hoisting.
	if expr.Flags&ExprContainsJoinPathRef != 0 &&
		(expr.Flags&ExprContainsInputPathRef != 0 || op.IsAggregate()) {
		for i := 0; i < expr.NumArgs(); i++ {
			arg := expr.Arg(i)
			if arg.Flags&ExprContainsJoinPathRef != 0 {
				expr.SetArg(i, s.hoistJoinExpr(arg))
			}
		}
		expr.Flags &^= ExprContainsJoinPathRef
	}

	// Aggregations erase input path dependencies.
	if op.IsAggregate() {
		expr.Flags &^= ExprContainsInputPathRef
	}

	// A column cannot be a function of both aggregates and
	// non-aggregates, e.g. foo+sum[bar] (literals are fine: 1+sum[bar]).
	// Sort is exempt; the pipeline evaluates its aggregate and
	// non-aggregate keys in different passes.
	if op.Opcode != OpSort &&
		expr.Flags&ExprContainsAggregate != 0 && expr.Flags&ExprContainsPathRef != 0 {
		return fmt.Errorf("columns can't be functions of both aggregates and non-aggregates")
	}
	return nil
}

// hoistJoinExpr moves a join-dependent subtree into a synthetic joined
// column and returns a column reference to it.
func (s *Spec) hoistJoinExpr(expr *Expr) *Expr {
	columnNum := len(s.joinSpec.Columns) + 1
	columnName := fmt.Sprintf("__joincolumn_%d", columnNum)
	column := NewColumn(columnName, expr, ColumnOutput|ColumnJoined)
	s.joinSpec.Columns = append(s.joinSpec.Columns, column)

	newExpr := NewExpr()
	newExpr.SetOperator(LookupOperator(OpColumnRef))
	newExpr.SetType(expr.Type())
	newExpr.SetColumnRef(column)
	return newExpr
}

// parseExpr parses one expression with operator-precedence infix fixup.
func (s *Spec) parseExpr(expr *Expr, parent *Expr, unary bool) error {
	infix := false
	isFirstToken := true
	for {
		tok0 := s.tokens.Lookahead(0)
		tok1 := s.tokens.Lookahead(1)
		switch tok0.ID {
		case TokLBrace:
			// Braces distinguish quoted column and path references from
			// string literals.
			if err := s.parseRef(expr); err != nil {
				return err
			}

		case TokLBracket:
			s.tokens.Next()
			if err := s.parseExpr(expr, nil, false); err != nil {
				return err
			}
			if _, err := s.expectNext(TokRBracket, TokNone); err != nil {
				return err
			}

		case TokLParen:
			s.tokens.Next()
			if err := s.parseExpr(expr, nil, false); err != nil {
				return err
			}
			if _, err := s.expectNext(TokRParen, TokNone); err != nil {
				return err
			}

		case TokOption:
			// Options are functions too: --x => x[], --x=true => x[true]
			s.tokens.Next()
			if err := s.parseFunctionCall(expr, TokAssign, TokEnd, true); err != nil {
				return err
			}

		case TokID:
			switch {
			case IsBooleanLiteral(tok0):
				if err := s.parseLiteral(expr); err != nil {
					return err
				}
			case tok1.ID == TokLParen:
				if err := s.parseFunctionCall(expr, TokLParen, TokRParen, false); err != nil {
					return err
				}
			case tok1.ID == TokLBracket:
				if err := s.parseFunctionCall(expr, TokLBracket, TokRBracket, false); err != nil {
					return err
				}
			default:
				if err := s.parseRef(expr); err != nil {
					return err
				}
			}

		case TokNot:
			if err := s.parseUnaryOperator(expr); err != nil {
				return err
			}

		case TokMinus:
			if infix {
				if err := s.parseInfixOperator(expr, parent); err != nil {
					return err
				}
			} else if err := s.parseUnaryOperator(expr); err != nil {
				return err
			}

		case TokMult:
			if infix {
				if err := s.parseInfixOperator(expr, parent); err != nil {
					return err
				}
			} else if tok1.ID == TokDot {
				if err := s.parseRef(expr); err != nil {
					return err
				}
			} else {
				return fmt.Errorf("unexpected \"%s\"", TokenName(TokMult, ""))
			}

		case TokNumberLit, TokStringLit:
			if err := s.parseLiteral(expr); err != nil {
				return err
			}

		case TokEnd:
			return fmt.Errorf("missing expression")

		default:
			switch {
			case tok0.ID == TokError:
				return fmt.Errorf("unexpected token %q", tok0.Str)
			case tok0.ID == TokPlus && isFirstToken:
				return fmt.Errorf("positive operator not supported; use abs()")
			case IsInfixToken(tok0.ID) && !isFirstToken:
				if err := s.parseInfixOperator(expr, parent); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unexpected \"%s\"", TokenName(tok0.ID, tok0.Str))
			}
		}
		isFirstToken = false
		infix = IsInfixToken(s.tokens.Lookahead(0).ID)
		if unary || !infix {
			return nil
		}
	}
}

func (s *Spec) parseLiteral(expr *Expr) error {
	expr.SetOperator(LookupOperator(OpLiteral))
	tok := s.tokens.Next()
	if tok.ID == TokNumberLit {
		r, _ := ParseReal(tok.Str)
		expr.SetValueAndType(RealValue(r))
		return nil
	}
	if b, exact := ParseBoolean(tok.Str); exact {
		expr.SetValueAndType(BoolValue(b))
		return nil
	}
	if tok.ID == TokStringLit {
		expr.SetValueAndType(StringValue(tok.Str))
		return nil
	}
	return fmt.Errorf("expected a literal, got %q", TokenName(tok.ID, tok.Str))
}

// parseRef parses a dotted path reference (with optional scope prefix and
// braced segments) or, when the text names a column, a column reference.
func (s *Spec) parseRef(expr *Expr) error {
	op := LookupOperator(OpPathRef)
	expr.SetOperator(op)
	expr.SetType(op.Type)

	var pathSpec string
	joinedPathRef := false
	for s.tokens.Lookahead(0).ID != TokEnd {
		if pathSpec == "" && s.tokens.Lookahead(0).ID == TokID && s.tokens.Lookahead(1).ID == TokScope {
			// scoped path reference (e.g. right::ref): peel the scope
			tok := s.tokens.Next()
			s.tokens.Next()
			switch {
			case strEqFold(tok.Str, s.joinSpec.ScopeName) || strEqFold(tok.Str, "join"):
				if s.flags&SpecLeftSideOfJoin == 0 {
					return fmt.Errorf("can't reference joined paths without a join directive")
				}
				joinedPathRef = true
			case strEqFold(tok.Str, s.inputSpec.ScopeName) || strEqFold(tok.Str, "in"):
				// input scope names add no information; path refs default
				// to the main input
			default:
				return fmt.Errorf("unknown scope name: %s", tok.Str)
			}
		}
		tok := s.tokens.Lookahead(0)
		if tok.ID == TokLBrace {
			s.tokens.Next()
			pathSpec += "{" + s.parseUnquotedText(TokRBrace, TokNone) + "}"
			if next := s.tokens.Next(); next.ID != TokRBrace {
				return fmt.Errorf("unbalanced braces: %s", pathSpec)
			}
		} else if pathSpec != "" && tok.ID == TokNumberLit {
			pathSpec += s.tokens.Next().Str
		} else {
			next := s.tokens.Next()
			if next.ID != TokID && next.ID != TokMult {
				return fmt.Errorf("expected %q or %q, got %q",
					TokenName(TokID, ""), TokenName(TokMult, ""), TokenName(next.ID, next.Str))
			}
			pathSpec += next.Str
		}
		// Continue only through path dots; .. (attribute) and ...
		// (spread) end the reference.
		ahead := s.tokens.Lookahead(0)
		if len(ahead.Str) == 0 || ahead.Str[0] != '.' || (len(ahead.Str) > 1 && ahead.Str[1] == '.') {
			break
		}
		pathSpec += s.tokens.Next().Str
	}

	for _, tag := range splitQuoted(pathSpec, '.', '{', '}') {
		if len(tag) > 0 && tag[0] == '{' && tag[len(tag)-1] != '}' {
			return fmt.Errorf("unbalanced braces: %s", pathSpec)
		}
	}

	if !joinedPathRef && s.isBindableColumnName(pathSpec) {
		op := LookupOperator(OpColumnRef)
		expr.SetOperator(op)
		expr.SetType(op.Type)
		// Column references resolve after all columns are parsed; record
		// the name on a placeholder column.
		expr.SetColumnRef(NewColumn(pathSpec, NewExpr(), 0))
		return nil
	}

	// One shared PathRef per distinct path text.
	pathRefs := s.inputSpec.PathRefs
	var flags PathRefFlags
	if joinedPathRef {
		pathRefs = s.joinSpec.PathRefs
		flags = PathRefJoined
	}
	pathRef, ok := pathRefs[pathSpec]
	if !ok {
		pathRef = NewPathRef(pathSpec, flags)
		pathRefs[pathSpec] = pathRef
	}
	expr.SetPathRef(pathRef)
	return nil
}

func (s *Spec) parseUnaryOperator(expr *Expr) error {
	tok := s.tokens.Next()
	if tok.ID != TokNot && tok.ID != TokMinus {
		return fmt.Errorf("expected unary operator, got %q", TokenName(tok.ID, tok.Str))
	}
	if tok.ID == TokNot {
		expr.SetOperator(LookupOperator(OpNot))
	} else {
		expr.SetOperator(LookupOperator(OpNeg))
	}
	expr.SetType(expr.Op.Type)
	child := NewExpr()
	expr.AddArg(child)
	return s.parseExpr(child, expr, true)
}

func (s *Spec) parseInfixOperator(expr *Expr, parent *Expr) error {
	tok := s.tokens.Next()
	op, err := LookupOperatorName(tok.Str)
	if err != nil {
		return err
	}
	if op.Opcode == OpNeg {
		op = LookupOperator(OpSub)
	}

	// Make the expression parsed so far the left child of a new node.
	left := NewExpr()
	*left = *expr
	expr.Clear()
	expr.SetOperator(op)
	expr.SetType(op.Type)
	expr.AddArg(left)

	if op.Opcode == OpAttr {
		// The right side of .. is an identifier stored as a literal.
		tok, err := s.expectNext(TokID, TokNone)
		if err != nil {
			return err
		}
		right := NewExpr()
		expr.AddArg(right)
		right.SetOperator(LookupOperator(OpLiteral))
		right.SetValueAndType(StringValue(tok.Str))
	} else {
		right := NewExpr()
		expr.AddArg(right)
		if err := s.parseExpr(right, expr, false); err != nil {
			return err
		}
	}

	// Parents are given only for binary infix operators. Opcodes order by
	// precedence, so a parent with an equal-or-tighter opcode requires a
	// left-associative rotation.
	if parent != nil && parent.Op.Opcode <= op.Opcode {
		// For input 1*2+3 the tree currently computes 2+3 first:
		//      * <- parent          +
		//    1   + <- expr   =>   *   3
		//       2 3              1 2
		saveTop := *parent
		save2 := *expr.Arg(0)
		*parent = *expr
		*parent.Arg(0) = saveTop
		*parent.Arg(0).Arg(1) = save2
	}
	return nil
}

func (s *Spec) parseFunctionCall(expr *Expr, startToken, endToken TokenID, startTokenOptional bool) error {
	tok, err := s.expectNext(TokID, TokNone)
	if err != nil {
		return err
	}

	op, err := LookupOperatorName(tok.Str)
	if err != nil {
		return err
	}
	expr.SetOperator(op)
	expr.SetType(op.Type)

	if !startTokenOptional || s.tokens.Lookahead(0).ID == startToken {
		if tok, err = s.expectNext(startToken, TokNone); err != nil {
			return err
		}
	}
	if s.tokens.Lookahead(0).ID == TokComma {
		return fmt.Errorf("unexpected \",\"")
	}
	if s.tokens.Lookahead(0).ID == endToken {
		s.tokens.Next()
	} else {
		for tok.ID != endToken && tok.ID != TokEnd {
			arg := NewExpr()
			expr.AddArg(arg)
			aheadID := s.tokens.Lookahead(0).ID
			unquotedArg := (expr.NumArgs() == 1 && op.Flags&FlagUnquotedStringFirstArg != 0) ||
				(expr.NumArgs() == 2 && op.Flags&FlagUnquotedStringSecondArg != 0)
			if aheadID != TokStringLit && aheadID != TokNumberLit && unquotedArg {
				arg.SetOperator(LookupOperator(OpLiteral))
				arg.SetValueAndType(StringValue(s.parseUnquotedText(endToken, TokComma)))
			} else if err := s.parseExpr(arg, nil, false); err != nil {
				return err
			}
			if tok, err = s.expectNext(TokComma, endToken); err != nil {
				return err
			}
		}
		if tok.ID != endToken {
			return fmt.Errorf("expected %q, got %q", TokenName(endToken, ""), TokenName(tok.ID, tok.Str))
		}
	}

	// Overloads where the function depends on argument count.
	if expr.NumArgs() == 1 && op.Opcode == OpMin {
		op = LookupOperator(OpMinAggr)
		expr.SetOperator(op)
	}
	if expr.NumArgs() == 1 && op.Opcode == OpMax {
		op = LookupOperator(OpMaxAggr)
		expr.SetOperator(op)
	}

	if expr.NumArgs() < op.MinArgs || expr.NumArgs() > op.MaxArgs {
		return fmt.Errorf("wrong number of arguments for %s", op.Name)
	}
	return nil
}

// parseUnquotedText concatenates raw token text until the end token (or
// alternative, or end of argument) without consuming the terminator.
func (s *Spec) parseUnquotedText(endToken, alternative TokenID) string {
	var str string
	for {
		tok := s.tokens.Lookahead(0)
		if tok.ID == TokEnd || tok.ID == endToken {
			break
		}
		if alternative != TokNone && tok.ID == alternative {
			break
		}
		str += s.tokens.Next().Str
	}
	return str
}

func (s *Spec) expectNext(want, alternative TokenID) (Token, error) {
	tok := s.tokens.Next()
	if tok.ID != want && (alternative == TokNone || tok.ID != alternative) {
		if alternative != TokNone {
			return tok, fmt.Errorf("expected %q or %q, got %q",
				TokenName(want, ""), TokenName(alternative, ""), TokenName(tok.ID, tok.Str))
		}
		return tok, fmt.Errorf("expected %q, got %q", TokenName(want, ""), TokenName(tok.ID, tok.Str))
	}
	return tok, nil
}

// isBindableColumnName reports whether the text names another column.
// The current column's own names stay path references, so [a]:a keeps a
// as a path.
func (s *Spec) isBindableColumnName(name string) bool {
	for _, columnName := range s.currentColumnNames {
		if strEqFold(name, columnName) {
			return false
		}
	}
	for _, columnName := range s.allColumnNames {
		if columnName != "" && strEqFold(name, columnName) {
			return true
		}
	}
	return false
}

func strEqFold(a, b string) bool {
	return strings.EqualFold(a, b)
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// splitQuoted splits s on sep, treating open/close-delimited runs as
// atomic.
func splitQuoted(s string, sep, open, closer byte) []string {
	var parts []string
	var cur []byte
	depth := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == open:
			depth++
			cur = append(cur, ch)
		case ch == closer && depth > 0:
			depth--
			cur = append(cur, ch)
		case ch == sep && depth == 0:
			parts = append(parts, string(cur))
			cur = cur[:0]
		default:
			cur = append(cur, ch)
		}
	}
	parts = append(parts, string(cur))
	return parts
}
