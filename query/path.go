package query

import (
	"fmt"
	"strings"
)

// MatchState tracks where a path is in its start/end tag lifecycle.
type MatchState int

const (
	MatchUninitialized MatchState = iota
	SearchingForStartTag
	CompletingStartTag
	SearchingForEndTag
	FoundEndTag
)

// PathFlags mirror the path-reference flags the matcher needs per pass.
type PathFlags uint

const (
	// PathExistsInInput records that the path matched at least once; a
	// path that never matches is reported as an error after the pass.
	PathExistsInInput PathFlags = 1 << iota
	// PathNoData suppresses character-data accumulation.
	PathNoData
	// PathSync forces a row commit as soon as this path alone matches.
	PathSync
)

// MatchType classifies the state of all paths after a tag event.
type MatchType int

const (
	NotAllMatched MatchType = iota
	AllMatched
	AllMatchedWithNoDataMatches
)

// RowMatchState is shared by all paths of one matcher: the match-order
// counter, the current parse depth, and the number of paths between start
// and end tag.
type RowMatchState struct {
	matchOrder            int
	currParseDepth        int
	searchingForEndTagCnt int
	matchType             MatchType
}

// Reset restores the state for a new pass.
func (r *RowMatchState) Reset() {
	r.matchOrder = 0
	r.currParseDepth = 0
	r.searchingForEndTagCnt = 0
	r.matchType = NotAllMatched
}

// pathTag is one position of a path's tag list. relativeParseDepth counts
// how many currently open tags satisfy this position.
type pathTag struct {
	name               string
	wildcard           bool
	first              bool
	last               bool
	relativeParseDepth int
}

// Path is the state machine matching one dotted wildcard path against
// the tag event stream. It owns the bound value of its PathRef.
type Path struct {
	ctx      *ParserContext
	flags    PathFlags
	ref      *PathRef
	tags     []pathTag
	rowState *RowMatchState

	matchState      MatchState
	matchOrder      int
	localMatchDepth int
	matchDepth      int
	mismatchDepth   int
}

// NewPath compiles a path reference into its tag-list state machine. A
// leading wildcard is synthesized if absent so the path matches anywhere
// in the tree.
func NewPath(ctx *ParserContext, ref *PathRef) *Path {
	p := &Path{
		ctx:             ctx,
		ref:             ref,
		matchOrder:      -1,
		localMatchDepth: -1,
		matchDepth:      -1,
		matchState:      MatchUninitialized,
	}
	tags := splitQuoted(ref.Spec, '.', '{', '}')
	if len(tags) == 0 || tags[0] != "*" {
		tags = append([]string{"*"}, tags...)
	}
	for i, tag := range tags {
		wildcard := tag == "*"
		if len(tag) > 0 && tag[0] == '{' {
			tag = strings.TrimSuffix(strings.TrimPrefix(tag, "{"), "}")
		}
		p.tags = append(p.tags, pathTag{
			name:     tag,
			wildcard: wildcard,
			first:    i == 0,
			last:     i == len(tags)-1,
		})
	}
	if ref.Flags&PathRefNoData != 0 && ref.Flags&PathRefAppendData == 0 {
		p.flags |= PathNoData
	}
	if ref.Flags&PathRefSync != 0 {
		p.flags |= PathSync
	}
	return p
}

// relativeParseDepth sums the advanced depth from tag position i to the
// end of the list.
func (p *Path) relativeParseDepth(i int, includeInitialWildcard bool) int {
	tag := &p.tags[i]
	if tag.last {
		return 1
	}
	initialWildcard := tag.first && tag.wildcard
	depth := tag.relativeParseDepth
	if initialWildcard && !includeInitialWildcard {
		depth = 0
	}
	return depth + p.relativeParseDepth(i+1, false)
}

// tagListMatchStartTag advances the tag list at position i for an
// incoming start tag. completeMatch is set when the last position
// advanced.
func (p *Path) tagListMatchStartTag(i int, name string, currParseDepth int, completeMatch *bool) bool {
	tag := &p.tags[i]
	hasNext := !tag.last

	if tag.relativeParseDepth > 0 {
		if hasNext {
			// Check if the next position gives a match, in which case
			// advance to it.
			if p.tagListMatchStartTag(i+1, name, currParseDepth-tag.relativeParseDepth, completeMatch) {
				return true
			}
			if tag.wildcard && p.tags[i+1].relativeParseDepth == 0 {
				// stay at this wildcard
				if currParseDepth > 0 {
					tag.relativeParseDepth++
				}
				return true
			}
		}
		return false
	}

	// 0+ matches for a wildcard: when the next position matches, advance
	// past the wildcard.
	if tag.wildcard && hasNext {
		if p.ctx.NameEquals(p.tags[i+1].name, name) {
			if currParseDepth > 0 {
				tag.relativeParseDepth++
			}
			return p.tagListMatchStartTag(i+1, name, currParseDepth-tag.relativeParseDepth, completeMatch)
		}
	}
	// 1+ wildcard match, or a literal match at the current position.
	if tag.wildcard || p.ctx.NameEquals(tag.name, name) {
		if currParseDepth > 0 {
			tag.relativeParseDepth++
		}
		if tag.last {
			*completeMatch = true
		}
		return true
	}
	return false
}

// tagListMatchEndTag retreats the deepest advanced position for an
// incoming end tag.
func (p *Path) tagListMatchEndTag(i int, name string) bool {
	tag := &p.tags[i]
	if !tag.last && p.tags[i+1].relativeParseDepth > 0 {
		return p.tagListMatchEndTag(i+1, name)
	}
	if tag.relativeParseDepth > 0 && (tag.wildcard || p.ctx.NameEquals(tag.name, name)) {
		tag.relativeParseDepth--
		return true
	}
	return false
}

// tagReset clears advanced positions down to a rollback depth.
func (p *Path) tagReset(i, rollbackDepth int) {
	tag := &p.tags[i]
	switch {
	case rollbackDepth == -1:
		tag.relativeParseDepth = 0
		if !tag.last {
			p.tagReset(i+1, -1)
		}
	case rollbackDepth < tag.relativeParseDepth:
		tag.relativeParseDepth = rollbackDepth
		if !tag.last {
			p.tagReset(i+1, -1)
		}
	case !tag.last:
		p.tagReset(i+1, rollbackDepth-tag.relativeParseDepth)
	}
}

func (p *Path) tagRollback(setParseDepth int) {
	p.tags[0].relativeParseDepth = setParseDepth
	if len(p.tags) > 1 {
		p.tagReset(1, -1)
	}
}

// MatchStartTag reacts to a start-tag event; it returns true when the
// path's start pattern fully matched.
func (p *Path) MatchStartTag(name string) bool {
	if p.matchState == FoundEndTag || p.matchState == SearchingForEndTag {
		return false
	}

	completeMatch := false
	if p.mismatchDepth > 0 {
		p.mismatchDepth++
		return false
	}
	if !p.tagListMatchStartTag(0, name, p.rowState.currParseDepth, &completeMatch) {
		p.mismatchDepth++
		return false
	}
	if !completeMatch {
		p.matchState = CompletingStartTag
		return false
	}

	// Maintain a match order among the paths; later matches cannot
	// precede earlier ones.
	if p.matchOrder == -1 {
		p.matchOrder = p.rowState.matchOrder
		p.rowState.matchOrder++
	} else if p.matchOrder < p.rowState.matchOrder {
		p.rowState.matchOrder = p.matchOrder + 1
	}

	p.ref.Value.Str = "" // accumulate until the end tag
	p.matchState = SearchingForEndTag
	p.matchDepth = p.rowState.currParseDepth
	p.rowState.searchingForEndTagCnt++
	p.ctx.RelativeDepth = p.relativeParseDepth(0, false)

	evaluator := NewEvaluator(p.ctx, nil)
	for _, expr := range p.ref.StartMatchExprs {
		evaluator.ImmedEvaluate(expr)
	}
	p.flags |= PathExistsInInput
	p.ref.Flags |= PathRefMatched
	return true
}

// MatchEndTag reacts to an end-tag event; it returns true when the
// path's end pattern matched.
func (p *Path) MatchEndTag(name string) bool {
	if p.mismatchDepth > 0 {
		p.mismatchDepth--
		return false
	}
	if !p.tagListMatchEndTag(0, name) {
		return false
	}
	if p.matchState != SearchingForEndTag {
		return false
	}

	p.ref.Value.Str = strings.TrimSpace(p.ref.Value.Str)
	p.rowState.searchingForEndTagCnt--
	p.matchState = FoundEndTag
	p.ctx.RelativeDepth = p.relativeParseDepth(0, false)
	p.localMatchDepth = p.rowState.currParseDepth - p.ctx.RelativeDepth

	evaluator := NewEvaluator(p.ctx, nil)
	for _, expr := range p.ref.EndMatchExprs {
		evaluator.ImmedEvaluate(expr)
	}
	return true
}

// IsMatched reports whether the path is usable for a row commit.
func (p *Path) IsMatched() bool {
	if p.matchState == SearchingForEndTag {
		return false
	}
	if p.ref.Flags&PathRefMatched == 0 && p.ref.Value.Str == "" {
		return false
	}
	return true
}

// Rollback clears this path if its match order is at or past the given
// order, re-anchoring its first tag at the given depth.
func (p *Path) Rollback(setParseDepth, matchOrder int) {
	if p.matchOrder >= matchOrder {
		p.ClearValues(true)
		p.mismatchDepth = 0
		p.StartMatch()
		p.tagRollback(setParseDepth)
	}
}

// Reset clears sequentially later matches to keep sibling ordering.
func (p *Path) Reset(parseDepth, matchOrderStart int) {
	if p.matchOrder >= matchOrderStart {
		p.ClearValues(true)
	}
	p.tagReset(0, parseDepth)
}

// ClearValues clears the bound value and match bookkeeping.
func (p *Path) ClearValues(hardClear bool) {
	p.ref.Flags &^= PathRefMatched
	p.localMatchDepth = -1
	p.matchDepth = -1
	p.ref.Value.Str = ""
	if hardClear {
		p.matchOrder = -1
		p.StartMatch()
	}
}

// StartMatch arms the path for the next record.
func (p *Path) StartMatch() {
	p.matchState = SearchingForStartTag
}

// AppendValue accumulates character data while between start and end tag.
func (p *Path) AppendValue(data string) {
	if p.flags&PathNoData == 0 && p.matchState == SearchingForEndTag && len(data) > 0 {
		p.ref.Value.Str += data
	}
}

// CheckUnreferenced reports paths that never matched in the input.
func (p *Path) CheckUnreferenced() error {
	if p.flags&PathExistsInInput == 0 {
		side := ""
		if p.ref.Flags&PathRefJoined != 0 {
			side = "joined "
		}
		return fmt.Errorf("path not matched in %sinput: %s", side, p.ref.Spec)
	}
	return nil
}

// RemoveValueIndents strips the minimum leading indentation from an
// embedded multi-line tag subtree so captured markup reproduces cleanly.
func (p *Path) RemoveValueIndents() {
	str := p.ref.Value.Str
	if len(str) == 0 || str[0] != '<' {
		return
	}
	nl := strings.IndexByte(str, '\n')
	if nl < 0 {
		return
	}
	indentLength := 0
	for i := nl + 1; i < len(str) && isSpace(str[i]); i++ {
		indentLength++
	}
	indentLength -= 2
	if indentLength <= 0 {
		return
	}
	lines := strings.Split(str, "\n")
	var out strings.Builder
	for i, line := range lines {
		if i == 0 {
			out.WriteString(line)
			out.WriteByte('\n')
			continue
		}
		strip := 0
		for strip < len(line) && strip < indentLength && isSpace(line[strip]) {
			strip++
		}
		out.WriteString(line[strip:])
		out.WriteByte('\n')
	}
	p.ref.Value.Str = strings.TrimSuffix(out.String(), "\n")
}
