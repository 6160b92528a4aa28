package query

import (
	"fmt"
	"strings"
)

// OpFlags describe how an operator participates in planning and
// evaluation.
type OpFlags uint

const (
	// FlagGatherData marks operators that force a preliminary read of the
	// input before the main pass.
	FlagGatherData OpFlags = 1 << iota
	// FlagAggregate marks aggregate operators.
	FlagAggregate
	// FlagStartMatchEval marks operators re-evaluated when their path's
	// start pattern matches.
	FlagStartMatchEval
	// FlagEndMatchEval marks operators re-evaluated when their path's end
	// pattern matches.
	FlagEndMatchEval
	// FlagOnceOnly restricts an operator to a single use across all
	// columns.
	FlagOnceOnly
	// FlagTopLevelOnly restricts an operator to the root of a column
	// expression.
	FlagTopLevelOnly
	// FlagBinaryInfix marks operators written between their operands.
	FlagBinaryInfix
	// FlagDirective marks columns that direct the query rather than
	// produce output. Implies FlagNoData.
	FlagDirective
	// FlagNoData marks operators whose path arguments do not need
	// character data accumulated.
	FlagNoData
	// FlagUnquotedStringFirstArg treats the first argument as a bare
	// string (e.g. a filename).
	FlagUnquotedStringFirstArg
	// FlagUnquotedStringSecondArg treats the second argument as a bare
	// string.
	FlagUnquotedStringSecondArg

	// FlagImmedEvaluate selects either match-time evaluation mode.
	FlagImmedEvaluate = FlagStartMatchEval | FlagEndMatchEval
)

// Opcode identifies an operator. Binary infix opcodes from OpAttr through
// OpAnd appear in decreasing precedence order, so lhs.Opcode <= rhs.Opcode
// expresses "lhs binds at least as tight".
type Opcode int

const (
	OpNull Opcode = iota
	// terminals
	OpColumnRef
	OpPathRef
	OpLiteral
	// unary
	OpNeg
	OpNot
	// binary infix, decreasing precedence
	OpAttr
	OpMul
	OpDiv
	OpMod
	OpAdd
	OpSub
	OpConcat
	OpEQ
	OpNE
	OpLE
	OpGE
	OpLT
	OpGT
	OpOr
	OpXor
	OpAnd
	// arithmetic
	OpMin
	OpMax
	OpSqrt
	OpPow
	OpLog
	OpExp
	OpAbs
	OpRound
	OpFloor
	OpCeil
	// string
	OpLen
	OpContains
	OpFind
	OpLeft
	OpRight
	OpUpper
	OpLower
	// misc
	OpFormatSec
	OpFormatMs
	OpRowNum
	OpIf
	// typing
	OpReal
	OpInt
	OpBool
	OpStr
	OpDateTime
	OpType
	// immediate (evaluated on path match)
	OpPath
	OpPivotPath
	OpDepth
	OpNodeNum
	OpNodeName
	OpNodeStart
	OpNodeEnd
	OpLineNum
	// aggregates
	OpAny
	OpSum
	OpMinAggr
	OpMaxAggr
	OpAvg
	OpStdev
	OpVar
	OpCov
	OpCorr
	OpCount
	// directives
	OpFirst
	OpTop
	OpSort
	OpPivot
	OpDistinct
	OpWhere
	OpSync
	OpRoot
	OpIn
	OpJoin
	OpCase
	OpInputHeader
	OpJoinHeader
	OpOutputHeader
	OpHelp
)

// maxArgsUnbounded marks operators with no upper arity limit.
const maxArgsUnbounded = int(^uint(0) >> 1)

// Operator describes one entry of the catalog: name, opcode, arity
// bounds, nominal result type, and planning flags.
type Operator struct {
	Name    string
	Opcode  Opcode
	MinArgs int
	MaxArgs int
	Type    Type
	Flags   OpFlags
}

func op(name string, opcode Opcode, minArgs, maxArgs int, typ Type, flags OpFlags) *Operator {
	if flags&FlagDirective != 0 {
		flags |= FlagNoData
	}
	return &Operator{Name: name, Opcode: opcode, MinArgs: minArgs, MaxArgs: maxArgs, Type: typ, Flags: flags}
}

// operatorTable is the closed catalog. Synonyms map multiple names onto
// one opcode; lookup by name is case-insensitive.
var operatorTable = []*Operator{
	op("<ColumnRef>", OpColumnRef, 0, 0, TypeUnknown, 0),
	op("<PathRef>", OpPathRef, 0, 0, TypeUnknown, 0),
	op("<Literal>", OpLiteral, 0, 0, TypeUnknown, 0),
	op("case", OpCase, 0, 1, TypeUnknown, FlagTopLevelOnly|FlagDirective|FlagOnceOnly),
	op("help", OpHelp, 0, 0, TypeUnknown, FlagTopLevelOnly|FlagDirective|FlagOnceOnly),
	op("usage", OpHelp, 0, 0, TypeUnknown, FlagTopLevelOnly|FlagDirective|FlagOnceOnly),
	op("-", OpNeg, 1, 1, TypeReal, 0),
	op("in", OpIn, 1, 1, TypeUnknown, FlagTopLevelOnly|FlagDirective|FlagOnceOnly|FlagUnquotedStringFirstArg),
	op("inheader", OpInputHeader, 0, 1, TypeUnknown, FlagTopLevelOnly|FlagDirective|FlagOnceOnly),
	op("outheader", OpOutputHeader, 0, 1, TypeUnknown, FlagTopLevelOnly|FlagDirective|FlagOnceOnly),
	op("header", OpOutputHeader, 0, 1, TypeUnknown, FlagTopLevelOnly|FlagDirective|FlagOnceOnly),
	op("join", OpJoin, 1, 2, TypeUnknown, FlagTopLevelOnly|FlagDirective|FlagOnceOnly|FlagUnquotedStringFirstArg),
	op("joinheader", OpJoinHeader, 0, 1, TypeUnknown, FlagTopLevelOnly|FlagDirective|FlagOnceOnly),
	op("pivot", OpPivot, 2, 3, TypeUnknown, FlagTopLevelOnly|FlagDirective|FlagOnceOnly),
	op("..", OpAttr, 2, 2, TypeString, FlagNoData|FlagStartMatchEval|FlagBinaryInfix),
	op("rownum", OpRowNum, 0, 0, TypeInteger, 0),
	op("linenum", OpLineNum, 1, 1, TypeInteger, FlagNoData|FlagStartMatchEval),
	op("depth", OpDepth, 1, 1, TypeInteger, FlagNoData|FlagStartMatchEval),
	op("sync", OpSync, 1, 1, TypeUnknown, FlagTopLevelOnly|FlagDirective|FlagOnceOnly|FlagEndMatchEval),
	op("root", OpRoot, 1, 1, TypeUnknown, FlagTopLevelOnly|FlagDirective|FlagOnceOnly|FlagUnquotedStringFirstArg),
	op("path", OpPath, 1, 1, TypeString, FlagNoData|FlagStartMatchEval),
	op("pivotpath", OpPivotPath, 1, 1, TypeString, FlagNoData|FlagStartMatchEval|FlagTopLevelOnly|FlagOnceOnly),
	op("nodenum", OpNodeNum, 1, 2, TypeInteger, FlagNoData|FlagStartMatchEval|FlagUnquotedStringSecondArg),
	op("nodename", OpNodeName, 1, 2, TypeString, FlagNoData|FlagStartMatchEval),
	op("nodestart", OpNodeStart, 1, 1, TypeInteger, FlagNoData|FlagStartMatchEval|FlagUnquotedStringSecondArg),
	op("nodeend", OpNodeEnd, 1, 1, TypeInteger, FlagNoData|FlagEndMatchEval|FlagUnquotedStringSecondArg),
	op("where", OpWhere, 1, 1, TypeUnknown, FlagTopLevelOnly|FlagDirective),
	op("first", OpFirst, 1, 1, TypeUnknown, FlagTopLevelOnly|FlagDirective|FlagOnceOnly),
	op("top", OpTop, 1, 1, TypeUnknown, FlagTopLevelOnly|FlagDirective|FlagOnceOnly),
	op("sort", OpSort, 1, maxArgsUnbounded, TypeUnknown, FlagTopLevelOnly|FlagDirective|FlagOnceOnly),
	op("distinct", OpDistinct, 0, 0, TypeUnknown, FlagTopLevelOnly|FlagDirective|FlagOnceOnly),
	op("not", OpNot, 1, 1, TypeBoolean, 0),
	op("!", OpNot, 1, 1, TypeBoolean, 0),
	op("*", OpMul, 2, 2, TypeReal, FlagBinaryInfix),
	op("/", OpDiv, 2, 2, TypeReal, FlagBinaryInfix),
	op("%", OpMod, 2, 2, TypeInteger, FlagBinaryInfix),
	op("+", OpAdd, 1, 2, TypeReal, FlagBinaryInfix),
	op("eq", OpEQ, 2, 2, TypeBoolean, 0),
	op("==", OpEQ, 2, 2, TypeBoolean, FlagBinaryInfix),
	op("ne", OpNE, 2, 2, TypeBoolean, 0),
	op("!=", OpNE, 2, 2, TypeBoolean, FlagBinaryInfix),
	op("le", OpLE, 2, 2, TypeBoolean, 0),
	op("<=", OpLE, 2, 2, TypeBoolean, FlagBinaryInfix),
	op("ge", OpGE, 2, 2, TypeBoolean, 0),
	op(">=", OpGE, 2, 2, TypeBoolean, FlagBinaryInfix),
	op("lt", OpLT, 2, 2, TypeBoolean, 0),
	op("<", OpLT, 2, 2, TypeBoolean, FlagBinaryInfix),
	op("gt", OpGT, 2, 2, TypeBoolean, 0),
	op(">", OpGT, 2, 2, TypeBoolean, FlagBinaryInfix),
	op("and", OpAnd, 2, 2, TypeBoolean, 0),
	op("&&", OpAnd, 2, 2, TypeBoolean, FlagBinaryInfix),
	op("or", OpOr, 2, 2, TypeBoolean, 0),
	op("||", OpOr, 2, 2, TypeBoolean, FlagBinaryInfix),
	op("xor", OpXor, 2, 2, TypeBoolean, 0),
	op("^", OpXor, 2, 2, TypeBoolean, FlagBinaryInfix),
	op("if", OpIf, 3, 3, TypeReal, 0),
	op("abs", OpAbs, 1, 1, TypeReal, 0),
	op("floor", OpFloor, 1, 1, TypeReal, 0),
	op("ceil", OpCeil, 1, 1, TypeReal, 0),
	op("round", OpRound, 1, 2, TypeReal, 0),
	op("min", OpMin, 2, 2, TypeReal, 0), // arity 1 becomes the aggregate
	op("max", OpMax, 2, 2, TypeReal, 0), // arity 1 becomes the aggregate
	op("sqrt", OpSqrt, 1, 1, TypeReal, 0),
	op("pow", OpPow, 2, 2, TypeReal, 0),
	op("log", OpLog, 1, 2, TypeReal, 0), // default base e
	op("exp", OpExp, 1, 1, TypeReal, 0),
	op("&", OpConcat, 2, 2, TypeString, FlagBinaryInfix),
	op("concat", OpConcat, 2, 2, TypeString, 0),
	op("len", OpLen, 1, 1, TypeInteger, 0),
	op("left", OpLeft, 2, 2, TypeString, 0),
	op("right", OpRight, 2, 2, TypeString, 0),
	op("lower", OpLower, 1, 1, TypeString, 0),
	op("upper", OpUpper, 1, 1, TypeString, 0),
	op("contains", OpContains, 2, 2, TypeBoolean, 0),
	op("find", OpFind, 2, 2, TypeInteger, 0),
	op("formatsec", OpFormatSec, 1, 1, TypeString, 0),
	op("formatms", OpFormatMs, 1, 1, TypeString, 0),
	op("type", OpType, 1, 1, TypeString, 0),
	op("real", OpReal, 1, 1, TypeReal, 0),
	op("int", OpInt, 1, 1, TypeInteger, 0),
	op("bool", OpBool, 1, 1, TypeBoolean, 0),
	op("str", OpStr, 1, 2, TypeString, 0),
	op("datetime", OpDateTime, 1, 1, TypeDateTime, 0),
	op("any", OpAny, 1, 1, TypeString, FlagAggregate),
	op("sum", OpSum, 1, 1, TypeReal, FlagAggregate),
	op("avg", OpAvg, 1, 1, TypeReal, FlagAggregate),
	op("min", OpMinAggr, 1, 1, TypeReal, FlagAggregate),
	op("max", OpMaxAggr, 1, 1, TypeReal, FlagAggregate),
	op("var", OpVar, 1, 1, TypeReal, FlagAggregate),
	op("cov", OpCov, 2, 2, TypeReal, FlagAggregate),
	op("corr", OpCorr, 2, 2, TypeReal, FlagAggregate),
	op("stdev", OpStdev, 1, 1, TypeReal, FlagAggregate),
	op("count", OpCount, 1, 1, TypeInteger, FlagNoData|FlagAggregate),
}

// subOperator is the infix subtraction entry; the tokenizer produces "-"
// for both negation and subtraction, and the parser swaps based on
// position.
var subOperator = op("-", OpSub, 2, 2, TypeReal, FlagBinaryInfix)

// LookupOperator resolves an operator by opcode.
func LookupOperator(opcode Opcode) *Operator {
	if opcode == OpSub {
		return subOperator
	}
	for _, tmpl := range operatorTable {
		if tmpl.Opcode == opcode {
			return tmpl
		}
	}
	return nil
}

// LookupOperatorName resolves an operator by name, case-insensitively.
// The first matching table entry wins, so overloaded names (min, max)
// resolve to their non-aggregate forms; the parser switches to the
// aggregate variant when the argument count says so.
func LookupOperatorName(name string) (*Operator, error) {
	for _, tmpl := range operatorTable {
		if strings.EqualFold(tmpl.Name, name) {
			return tmpl, nil
		}
	}
	return nil, fmt.Errorf("unrecognized function: %s", name)
}

// IsAggregate reports whether the operator is an aggregate.
func (o *Operator) IsAggregate() bool {
	return o.Flags&FlagAggregate != 0
}

// AggrKind maps an aggregate opcode to its accumulator kind.
func AggrKind(opcode Opcode) AggrType {
	switch opcode {
	case OpAny:
		return AggrAny
	case OpSum:
		return AggrSum
	case OpAvg:
		return AggrAvg
	case OpMinAggr:
		return AggrMin
	case OpMaxAggr:
		return AggrMax
	case OpVar:
		return AggrVar
	case OpCov:
		return AggrCov
	case OpCorr:
		return AggrCorr
	case OpStdev:
		return AggrStdev
	default:
		return AggrCount
	}
}
