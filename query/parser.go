package query

import "fmt"

// ParserFlags track engine state across events.
type ParserFlags uint

const (
	// ParserFoundRootNode gates matching until the root[n] node opens.
	ParserFoundRootNode ParserFlags = 1 << iota
)

type pendingTag struct {
	name  string
	attrs []AttrPair
}

// Parser is the engine: it consumes the normalized tag event stream,
// keeps the shared context current, drives the matcher, and commits rows
// into the pipeline. It satisfies the reader-side event contract.
//
// Attributes are staged on a pending tag and flushed before the next
// non-attribute event, so start-match evaluation sees them on the stack.
type Parser struct {
	flags       ParserFlags
	columnSpecs []string
	spec        *Spec
	ctx         *ParserContext
	query       *Query
	matcher     *Matcher
	paths       []*Path
	pending     *pendingTag
}

// NewParser creates an engine over an empty spec.
func NewParser() *Parser {
	p := &Parser{
		spec: NewSpec(),
		ctx:  NewParserContext(),
	}
	p.query = NewQuery(p.ctx, p.spec)
	return p
}

// Spec returns the engine's query spec.
func (p *Parser) Spec() *Spec {
	return p.spec
}

// Context returns the engine's shared parser context.
func (p *Parser) Context() *ParserContext {
	return p.ctx
}

// Query returns the engine's row pipeline.
func (p *Parser) Query() *Query {
	return p.query
}

// Pivoter returns the pipeline's pivoter.
func (p *Parser) Pivoter() *Pivoter {
	return p.query.Pivoter()
}

// AddColumn queues one column argument.
func (p *Parser) AddColumn(columnSpec string) {
	p.columnSpecs = append(p.columnSpecs, columnSpec)
}

// FinishColumns parses all queued column arguments.
func (p *Parser) FinishColumns() error {
	if p.spec.IsFlagSet(SpecColumnsAdded) {
		return fmt.Errorf("columns already parsed")
	}
	if err := p.spec.ParseColumns(p.columnSpecs, p.query.Pivoter()); err != nil {
		return err
	}
	p.ctx.CaseSensitive = p.spec.CaseSensitive()
	return nil
}

// PassTypes derives the ordered pass list: an optional gather pass, the
// main pass, and a stored-values pass when the query cannot stream.
func (p *Parser) PassTypes() []PassType {
	var passes []PassType
	if p.spec.IsFlagSet(SpecGatherDataPassRequired) || p.query.Pivoter().RequirePrepass() {
		passes = append(passes, GatherDataPass)
	}
	passes = append(passes, MainPass)
	if !p.query.Streaming() {
		passes = append(passes, StoredValuesPass)
	}
	return passes
}

// Columns returns the current column list.
func (p *Parser) Columns() []*Column {
	return p.spec.Columns()
}

// SetRowCallback installs the row consumer on the pipeline.
func (p *Parser) SetRowCallback(cb RowCallback) {
	p.query.SetRowCallback(cb)
}

// SetIndexedJoin hands the pipeline the join index.
func (p *Parser) SetIndexedJoin(indexedJoin IndexedRows) {
	p.query.SetIndexedJoin(indexedJoin)
}

// Row returns an emitted row.
func (p *Parser) Row(rowIdx int) Row {
	return p.query.Row(rowIdx)
}

// RowRepeatCount returns the emitted row's collapse count.
func (p *Parser) RowRepeatCount(rowIdx int) int {
	return p.query.RowRepeatCount(rowIdx)
}

// Value returns one value of an emitted row. valueIdx is the column's
// ValueIdx, not its index.
func (p *Parser) Value(rowIdx, valueIdx int) Value {
	return p.query.Row(rowIdx)[valueIdx]
}

// Reset prepares engine, matcher, and pipeline for the given pass.
func (p *Parser) Reset(passType PassType) error {
	if !p.spec.IsFlagSet(SpecColumnsAdded) {
		return fmt.Errorf("columns not parsed")
	}
	p.pending = nil
	p.resetPathMatching()
	cancelled := p.ctx.Cancelled
	caseSensitive := p.ctx.CaseSensitive
	p.ctx.Reset(passType)
	p.ctx.Cancelled = cancelled
	p.ctx.CaseSensitive = caseSensitive
	passes := p.PassTypes()
	p.query.Reset(passType, passes[len(passes)-1])
	p.matcher.Reset()
	p.setFlags(ParserFoundRootNode, p.spec.RootNodeNum() == 0)
	return nil
}

// resetPathMatching rebuilds the paths from the recorded path refs. The
// joined refs are excluded; those run in the join engine.
func (p *Parser) resetPathMatching() {
	p.paths = p.paths[:0]
	for _, pathRef := range p.spec.InputSpec().PathRefs {
		path := NewPath(p.ctx, pathRef)
		p.paths = append(p.paths, path)
		pathRef.Path = path
	}
	p.matcher = NewMatcher(p.ctx, p.paths)
}

// CheckUnreferenced reports paths or pivot columns that never matched
// the input.
func (p *Parser) CheckUnreferenced() error {
	for _, path := range p.paths {
		if err := path.CheckUnreferenced(); err != nil {
			return err
		}
	}
	return p.query.CheckUnreferenced()
}

// Stopped reports whether the current pass should stop consuming
// events.
func (p *Parser) Stopped() bool {
	return p.query.IsFlagSet(QueryParseStopped)
}

// StopParse requests a stop at the next end-of-tag.
func (p *Parser) StopParse() {
	p.query.SetFlags(QueryParseStopped, true)
}

// OutputStoredRows runs the stored-values pass.
func (p *Parser) OutputStoredRows() error {
	if err := p.Reset(StoredValuesPass); err != nil {
		return err
	}
	p.query.OutputStoredRows()
	return nil
}

// OpenTag begins a tag. Processing is deferred until the next
// non-attribute event so the tag's attributes land on the stack first.
func (p *Parser) OpenTag(name string) {
	p.flushPending()
	p.pending = &pendingTag{name: name}
}

// Attr attaches an attribute to the pending tag, or to the innermost
// open tag when attributes arrive late (object dialects).
func (p *Parser) Attr(name, value string) {
	if p.pending != nil {
		p.pending.attrs = append(p.pending.attrs, AttrPair{Name: name, Value: value})
		return
	}
	if n := len(p.ctx.AttrCountStack); n > 0 {
		p.ctx.AttrCountStack[n-1]++
		p.ctx.AttrStack = append(p.ctx.AttrStack, AttrPair{Name: name, Value: value})
	}
}

// Text accumulates character data into matched paths.
func (p *Parser) Text(data string) {
	p.flushPending()
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' {
			p.ctx.NumLines++
		}
	}
	if p.ctx.AppendingValues {
		p.matcher.AppendValue(data)
	}
}

// CloseTag ends a tag: the pivoter checks its partition, the matcher
// retreats, and a fully matched record commits a row.
func (p *Parser) CloseTag(name string) {
	p.flushPending()

	if p.flags&ParserFoundRootNode == 0 {
		return
	}

	p.ctx.CurrDepth--
	if p.ctx.CurrDepth == 0 && p.spec.RootNodeNum() > 0 {
		p.setFlags(ParserFoundRootNode, false)
		p.query.SetFlags(QueryParseStopped, true)
	}

	p.query.OnEndTag()

	p.ctx.AppendingValues = false
	matchedEndTag := p.matcher.MatchEndTag(name)
	if p.ctx.AppendingValues {
		// paths still open capture the embedded end tag
		p.matcher.AppendValue("</" + name + ">")
	}

	if matchedEndTag && p.matcher.MatchType() == AllMatched {
		p.matcher.CommitMatch()
		p.query.EmitRow()
	}

	p.popAttributes()
	if p.spec.IsFlagSet(SpecNodeStackRequired) && len(p.ctx.NodeStack) > 0 {
		p.ctx.NodeStack = p.ctx.NodeStack[:len(p.ctx.NodeStack)-1]
	}

	if p.ctx.IsCancelled() {
		p.query.SetFlags(QueryParseStopped, true)
	}
}

// flushPending performs the start-tag half of event processing once the
// tag's attributes are complete.
func (p *Parser) flushPending() {
	if p.pending == nil {
		return
	}
	tag := p.pending
	p.pending = nil

	p.ctx.NumNodes++

	rootNodeNum := p.spec.RootNodeNum()
	if rootNodeNum > 0 && p.flags&ParserFoundRootNode == 0 && p.ctx.NumNodes == rootNodeNum {
		p.setFlags(ParserFoundRootNode, true)
	}
	if p.flags&ParserFoundRootNode == 0 {
		return
	}

	p.ctx.CurrDepth++

	if p.spec.IsFlagSet(SpecNodeStackRequired) {
		p.ctx.NodeStack = append(p.ctx.NodeStack, NodeInfo{Name: tag.name, NodeStart: p.ctx.NumNodes})
	}

	if p.spec.IsFlagSet(SpecAttributesUsed) {
		p.ctx.AttrCountStack = append(p.ctx.AttrCountStack, len(tag.attrs))
		p.ctx.AttrStack = append(p.ctx.AttrStack, tag.attrs...)
	} else {
		p.ctx.AttrCountStack = append(p.ctx.AttrCountStack, 0)
	}

	if p.ctx.AppendingValues {
		// paths already open capture the embedded start tag
		p.matcher.AppendValue("<" + tag.name + ">")
		p.ctx.AppendingValues = false
	}

	p.matcher.MatchStartTag(tag.name)

	if p.matcher.MatchType() == AllMatchedWithNoDataMatches {
		// e.g. attribute matches: the element body is not needed
		p.matcher.CommitMatch()
		p.query.EmitRow()
	}
}

func (p *Parser) popAttributes() {
	if n := len(p.ctx.AttrCountStack); n > 0 {
		cnt := p.ctx.AttrCountStack[n-1]
		p.ctx.AttrCountStack = p.ctx.AttrCountStack[:n-1]
		for cnt > 0 && len(p.ctx.AttrStack) > 0 {
			p.ctx.AttrStack = p.ctx.AttrStack[:len(p.ctx.AttrStack)-1]
			cnt--
		}
	}
}

func (p *Parser) setFlags(flags ParserFlags, set bool) {
	if set {
		p.flags |= flags
	} else {
		p.flags &^= flags
	}
}
