package query

import "strings"

// PassType identifies a phase of query execution.
type PassType int

const (
	PassNotSet PassType = iota
	// GatherDataPass reads the input to precompute up-front state (e.g.
	// jagged pivot column names); no output.
	GatherDataPass
	// MainPass reads the input (again), evaluates rows, builds
	// aggregates, and streams output when no stored-values pass follows.
	MainPass
	// StoredValuesPass emits rows buffered for sorting, aggregation, and
	// distinct.
	StoredValuesPass
)

// NodeInfo records one open tag: its name and the ordinal of the node at
// which it started.
type NodeInfo struct {
	Name      string
	NodeStart int
}

// AttrPair is one attribute on the attribute stack.
type AttrPair struct {
	Name  string
	Value string
}

// ParserContext is the mutable state shared by the matcher, evaluator,
// and row pipeline during a pass. The matcher writes it; evaluators read
// it. No external mutation is permitted while a pass runs.
type ParserContext struct {
	PassType        PassType
	AppendingValues bool
	NumNodes        int
	NumLines        int
	NumRowsMatched  int // before filtering
	NumRowsOutput   int // after filtering
	RelativeDepth   int
	CurrDepth       int
	NodeStack       []NodeInfo
	AttrCountStack  []int
	AttrStack       []AttrPair

	// join state
	JoinTable       []Row
	JoinTableRowIdx int
	EmptyOuterJoin  bool

	// CaseSensitive selects the name-matching policy (the case
	// directive).
	CaseSensitive bool

	// Cancelled, when set, is polled at end-of-tag; a true result stops
	// the parse as a normal (non-error) stop.
	Cancelled func() bool
}

// NewParserContext creates a context in the not-yet-started state.
func NewParserContext() *ParserContext {
	ctx := &ParserContext{}
	ctx.Reset(PassNotSet)
	return ctx
}

// Reset clears all per-pass state.
func (c *ParserContext) Reset(passType PassType) {
	c.PassType = passType
	c.AppendingValues = false
	c.NumNodes = 0
	c.NumLines = 1
	c.NumRowsMatched = 0
	c.NumRowsOutput = 0
	c.RelativeDepth = 0
	c.CurrDepth = 0
	c.NodeStack = c.NodeStack[:0]
	c.AttrCountStack = c.AttrCountStack[:0]
	c.AttrStack = c.AttrStack[:0]
	c.ResetJoinTable()
}

// SetJoinTable points the context at a bucket of join rows for the
// current input row.
func (c *ParserContext) SetJoinTable(rows []Row) {
	c.JoinTable = rows
	c.EmptyOuterJoin = false
	c.JoinTableRowIdx = 0
}

// ResetJoinTable clears the join iteration state.
func (c *ParserContext) ResetJoinTable() {
	c.JoinTable = nil
	c.EmptyOuterJoin = false
	c.JoinTableRowIdx = -1
}

// NameEquals compares tag/attribute names under the case policy.
func (c *ParserContext) NameEquals(a, b string) bool {
	if c.CaseSensitive {
		return a == b
	}
	return strings.EqualFold(a, b)
}

// IsCancelled polls the cancellation hook.
func (c *ParserContext) IsCancelled() bool {
	return c.Cancelled != nil && c.Cancelled()
}
