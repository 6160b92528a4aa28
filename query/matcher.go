package query

// Matcher drives a set of paths against the tag event stream and decides
// when a full row has been matched.
type Matcher struct {
	ctx      *ParserContext
	paths    []*Path
	rowState *RowMatchState
}

// matcherRootTag wraps the input so paths, which always begin with a
// wildcard, can match at the top level; it also lets several inputs
// stream as one.
const matcherRootTag = "__root"

// NewMatcher creates a matcher over the given paths and arms it.
func NewMatcher(ctx *ParserContext, paths []*Path) *Matcher {
	m := &Matcher{ctx: ctx, paths: paths, rowState: &RowMatchState{}}
	for _, path := range m.paths {
		path.rowState = m.rowState
	}
	m.Reset()
	return m
}

// MatchStartTag feeds a start tag to every path. On any match,
// sequentially later matches are reset to keep sibling ordering.
func (m *Matcher) MatchStartTag(name string) bool {
	matchDetected := false
	m.rowState.matchType = NotAllMatched

	if len(m.paths) > 0 {
		m.rowState.currParseDepth++
		for _, path := range m.paths {
			if path.MatchStartTag(name) {
				matchDetected = true
			}
		}
		if matchDetected {
			for _, path := range m.paths {
				path.Reset(m.rowState.currParseDepth, m.rowState.matchOrder)
			}
		}
	}

	if m.rowState.searchingForEndTagCnt > 0 {
		m.ctx.AppendingValues = true
	}
	return matchDetected
}

// MatchEndTag feeds an end tag to every path.
func (m *Matcher) MatchEndTag(name string) bool {
	matchDetected := false
	if len(m.paths) > 0 {
		for _, path := range m.paths {
			if path.MatchEndTag(name) {
				matchDetected = true
			}
		}
		m.rowState.currParseDepth--
	}
	if m.rowState.searchingForEndTagCnt > 0 {
		m.ctx.AppendingValues = true
	}
	return matchDetected
}

// CommitMatch finalizes bound values and re-arms every path for the next
// record.
func (m *Matcher) CommitMatch() {
	for _, path := range m.paths {
		path.RemoveValueIndents()
		path.StartMatch()
	}
}

// MatchType reports whether every required path is matched. Sync paths
// short-circuit the decision; NoData paths without end-match expressions
// are accepted while still inside their element.
func (m *Matcher) MatchType() MatchType {
	allMatched := len(m.paths) > 0
	withNoDataMatches := false
	for _, path := range m.paths {
		if path.flags&PathSync != 0 && path.IsMatched() {
			allMatched = true
			break
		}
		if path.flags&PathNoData != 0 && len(path.ref.EndMatchExprs) == 0 &&
			path.matchState == SearchingForEndTag {
			// relaxed matching: no need to reach the end tag when the
			// path doesn't need data, e.g. attribute lookup
			allMatched = true
		} else if path.IsMatched() {
			allMatched = true
		} else {
			allMatched = false
			withNoDataMatches = false
		}
		if !allMatched {
			break
		}
	}

	switch {
	case !allMatched:
		m.rowState.matchType = NotAllMatched
	case withNoDataMatches:
		m.rowState.matchType = AllMatchedWithNoDataMatches
	default:
		m.rowState.matchType = AllMatched
	}
	return m.rowState.matchType
}

// Rollback hard-clears every path at the current depth.
func (m *Matcher) Rollback() {
	m.rowState.matchType = NotAllMatched
	m.rowState.matchOrder = 0
	for _, path := range m.paths {
		path.Rollback(m.rowState.currParseDepth, -1)
	}
}

// Reset prepares for a new pass and opens the synthetic root.
func (m *Matcher) Reset() {
	m.rowState.Reset()
	for _, path := range m.paths {
		path.Reset(-1, -1)
	}
	m.MatchStartTag(matcherRootTag)
}

// AppendValue forwards character data to every path between tags.
func (m *Matcher) AppendValue(data string) {
	for _, path := range m.paths {
		path.AppendValue(data)
	}
}

// CheckUnreferenced reports the first path that never matched.
func (m *Matcher) CheckUnreferenced() error {
	for _, path := range m.paths {
		if err := path.CheckUnreferenced(); err != nil {
			return err
		}
	}
	return nil
}
