package query

import (
	"math"
	"strings"
)

// Evaluator computes expression values against the shared parser
// context. Aggregate expressions additionally need the current row's
// accumulator vector.
type Evaluator struct {
	ctx      *ParserContext
	rowAggrs RowAggregates
}

// NewEvaluator creates an evaluator. rowAggrs may be nil for expressions
// without aggregates.
func NewEvaluator(ctx *ParserContext, rowAggrs RowAggregates) *Evaluator {
	if ctx == nil {
		ctx = NewParserContext()
	}
	return &Evaluator{ctx: ctx, rowAggrs: rowAggrs}
}

// WasMatched reports whether every path reference in the subtree is
// currently matched.
func (ev *Evaluator) WasMatched(expr *Expr) bool {
	if expr.Op.Opcode == OpPathRef {
		return expr.PathRef().Flags&PathRefMatched != 0
	}
	for _, arg := range expr.Args {
		if !ev.WasMatched(arg) {
			return false
		}
	}
	return true
}

// ImmedEvaluate computes operators flagged for match-time evaluation.
// The matcher calls it at the exact depth of the match; the results are
// cached on the expression node and reused by Evaluate.
func (ev *Evaluator) ImmedEvaluate(expr *Expr) {
	op := expr.Op
	numArgs := expr.NumArgs()

	var arg1 Value
	if numArgs >= 2 {
		arg1 = expr.Arg(1).Value()
	}

	switch op.Opcode {
	case OpPath, OpPivotPath, OpDepth, OpNodeNum, OpNodeName, OpNodeStart, OpNodeEnd:
		// Exclude the tags that made the match itself: path(bar.baz) for
		// <foo><bar><baz> refers to foo.
		currDepth := len(ev.ctx.NodeStack)
		relativeDepth := ev.ctx.RelativeDepth - 1
		if currDepth < relativeDepth {
			if expr.Type() == TypeInteger {
				expr.SetValue(IntValue(0))
			} else {
				expr.SetValue(StringValue(""))
			}
			return
		}
		baseIdx := currDepth - relativeDepth
		if baseIdx > currDepth-1 {
			baseIdx = currDepth - 1
		}

		switch op.Opcode {
		case OpPath, OpPivotPath:
			var sb strings.Builder
			for i := 0; i < baseIdx; i++ {
				if i > 0 {
					sb.WriteByte('.')
				}
				sb.WriteString(ev.ctx.NodeStack[i].Name)
			}
			expr.SetValue(StringValue(sb.String()))

		case OpDepth:
			expr.SetValue(IntValue(int64(baseIdx)))

		case OpNodeNum:
			var idx int
			switch {
			case numArgs == 1:
				idx = baseIdx
			case expr.Arg(1).Type() == TypeInteger:
				idx = baseIdx - int(arg1.Int) // direct ancestor indexing
			default:
				// walk backward comparing ancestor names
				name := arg1.Str
				for idx = baseIdx; idx >= 0; idx-- {
					if ev.ctx.NameEquals(ev.ctx.NodeStack[idx].Name, name) {
						break
					}
				}
			}
			result := 0
			if idx >= 0 && idx <= baseIdx {
				result = ev.ctx.NodeStack[idx].NodeStart
			}
			expr.SetValue(IntValue(int64(result)))

		case OpNodeName:
			idx := baseIdx
			if numArgs > 1 {
				idx = baseIdx - int(arg1.Int)
			}
			if idx >= 0 && idx <= baseIdx {
				expr.SetValue(StringValue(ev.ctx.NodeStack[idx].Name))
			} else {
				expr.SetValue(StringValue(""))
			}

		case OpNodeStart:
			expr.SetValue(IntValue(int64(ev.ctx.NodeStack[baseIdx].NodeStart)))

		case OpNodeEnd:
			expr.SetValue(IntValue(int64(ev.ctx.NumNodes)))
		}

	case OpAttr:
		found := false
		for i := len(ev.ctx.AttrStack) - 1; i >= 0 && !found; i-- { // bottom-up lookup
			attr := ev.ctx.AttrStack[i]
			if ev.ctx.NameEquals(attr.Name, arg1.Str) && attr.Value != "" {
				expr.SetValue(StringValue(attr.Value))
				found = true
			}
		}
		if !found {
			expr.SetValue(StringValue(""))
		}

	case OpLineNum:
		expr.SetValue(IntValue(int64(ev.ctx.NumLines)))
	}
}

// Evaluate computes an expression bottom-up and returns its value.
//
// Numeric fallbacks are total: integer division by zero yields 0 (there
// is no integer NaN), integer modulo by zero yields -1, and real
// division by zero yields NaN.
func (ev *Evaluator) Evaluate(expr *Expr) Value {
	op := expr.Op

	if op.Flags&FlagImmedEvaluate != 0 {
		return expr.Value() // already evaluated at match time
	}

	for _, arg := range expr.Args {
		ev.Evaluate(arg)
	}

	numArgs := expr.NumArgs()
	var arg0, arg1 Value
	if numArgs >= 1 {
		arg0 = expr.Arg(0).Value()
	}
	if numArgs >= 2 {
		arg1 = expr.Arg(1).Value()
	}

	switch op.Opcode {
	case OpType:
		switch arg0.Type {
		case TypeReal:
			expr.SetValue(StringValue("real"))
		case TypeInteger:
			expr.SetValue(StringValue("int"))
		case TypeBoolean:
			expr.SetValue(StringValue("bool"))
		case TypeDateTime:
			expr.SetValue(StringValue("datetime"))
		default:
			expr.SetValue(StringValue("str"))
		}

	case OpColumnRef:
		column := expr.ColumnRef()
		joined := column.Flags&ColumnJoined != 0
		switch {
		case joined && ev.ctx.EmptyOuterJoin:
			expr.SetValue(Value{Type: TypeUnknown})
		case joined && ev.ctx.JoinTable != nil:
			row := ev.ctx.JoinTable[ev.ctx.JoinTableRowIdx]
			expr.SetValue(row[column.Index])
		default:
			if ev.ctx.PassType == StoredValuesPass && column.Expr.Flags&ExprContainsAggregate != 0 {
				// aggregate columns recompute on every stored row
				ev.Evaluate(column.Expr)
			}
			// The same column can be referenced at different types.
			expr.SetValue(Convert(column.Expr.Value(), expr.Type()))
		}

	case OpPathRef:
		expr.SetValue(expr.PathRef().Value)

	case OpReal, OpInt, OpBool, OpDateTime:
		expr.SetValue(arg0)

	case OpStr:
		if numArgs == 1 {
			expr.SetValue(arg0) // conversion happened on the argument
		} else {
			expr.SetValue(StringValue(arg0.Format(0, int(arg1.Int))))
		}

	case OpNot:
		expr.SetValue(BoolValue(!arg0.Bool))

	case OpNeg:
		// Switch on the result type: an untyped operand stays a string
		// unless an enclosing operator constrained the negation to a number.
		switch expr.Type() {
		case TypeUnknown, TypeString:
			// pass-through; marks reverse sort order for strings
			expr.SetValue(StringValue(arg0.Str))
		case TypeInteger:
			expr.SetValue(IntValue(-Convert(arg0, TypeInteger).Int))
		default:
			expr.SetValue(RealValue(-Convert(arg0, TypeReal).Real))
		}

	case OpAbs:
		if arg0.Type == TypeInteger {
			i := arg0.Int
			if i < 0 {
				i = -i
			}
			expr.SetValue(IntValue(i))
		} else {
			expr.SetValue(RealValue(math.Abs(arg0.Real)))
		}

	case OpConcat:
		expr.SetValue(StringValue(arg0.Str + arg1.Str))

	case OpAdd:
		if arg0.Type == TypeInteger {
			expr.SetValue(IntValue(arg0.Int + arg1.Int))
		} else {
			expr.SetValue(RealValue(arg0.Real + arg1.Real))
		}

	case OpSub:
		if arg0.Type == TypeInteger {
			expr.SetValue(IntValue(arg0.Int - arg1.Int))
		} else {
			expr.SetValue(RealValue(arg0.Real - arg1.Real))
		}

	case OpMul:
		if arg0.Type == TypeInteger {
			expr.SetValue(IntValue(arg0.Int * arg1.Int))
		} else {
			expr.SetValue(RealValue(arg0.Real * arg1.Real))
		}

	case OpDiv:
		switch {
		case arg0.Type == TypeInteger:
			if arg1.Int == 0 {
				expr.SetValue(IntValue(0))
			} else {
				expr.SetValue(IntValue(arg0.Int / arg1.Int))
			}
		case arg1.Real == 0.0:
			expr.SetValue(RealValue(math.NaN()))
		default:
			expr.SetValue(RealValue(arg0.Real / arg1.Real))
		}

	case OpMod:
		if arg1.Int == 0 {
			expr.SetValue(IntValue(-1))
		} else {
			expr.SetValue(IntValue(arg0.Int % arg1.Int))
		}

	case OpOr:
		expr.SetValue(BoolValue(arg0.Bool || arg1.Bool))

	case OpXor:
		expr.SetValue(BoolValue(arg0.Bool != arg1.Bool))

	case OpAnd:
		expr.SetValue(BoolValue(arg0.Bool && arg1.Bool))

	case OpMin:
		if Compare(arg0, arg1) <= 0 {
			expr.SetValue(arg0)
		} else {
			expr.SetValue(arg1)
		}

	case OpMax:
		if Compare(arg0, arg1) >= 0 {
			expr.SetValue(arg0)
		} else {
			expr.SetValue(arg1)
		}

	case OpIf:
		if arg0.Bool {
			expr.SetValue(arg1)
		} else {
			expr.SetValue(expr.Arg(2).Value())
		}

	case OpSqrt:
		expr.SetValue(RealValue(math.Sqrt(arg0.Real)))

	case OpLog:
		if numArgs == 1 {
			expr.SetValue(RealValue(math.Log(arg0.Real))) // natural log
		} else {
			expr.SetValue(RealValue(math.Log(arg0.Real) / math.Log(arg1.Real)))
		}

	case OpExp:
		expr.SetValue(RealValue(math.Exp(arg0.Real)))

	case OpPow:
		expr.SetValue(RealValue(math.Pow(arg0.Real, arg1.Real)))

	case OpFloor:
		if arg0.Type == TypeInteger {
			expr.SetValue(IntValue(arg0.Int))
		} else {
			expr.SetValue(IntValue(int64(math.Floor(arg0.Real))))
		}

	case OpCeil:
		if arg0.Type == TypeInteger {
			expr.SetValue(IntValue(arg0.Int))
		} else {
			expr.SetValue(IntValue(int64(math.Ceil(arg0.Real))))
		}

	case OpLen:
		expr.SetValue(IntValue(int64(len(arg0.Str))))

	case OpLeft:
		if arg1.Int <= 0 {
			expr.SetValue(StringValue(""))
		} else {
			take := int(arg1.Int)
			if take > len(arg0.Str) {
				take = len(arg0.Str)
			}
			expr.SetValue(StringValue(arg0.Str[:take]))
		}

	case OpRight:
		if arg1.Int <= 0 {
			expr.SetValue(StringValue(""))
		} else {
			take := int(arg1.Int)
			if take > len(arg0.Str) {
				take = len(arg0.Str)
			}
			expr.SetValue(StringValue(arg0.Str[len(arg0.Str)-take:]))
		}

	case OpLower:
		expr.SetValue(StringValue(strings.ToLower(arg0.Str)))

	case OpUpper:
		expr.SetValue(StringValue(strings.ToUpper(arg0.Str)))

	case OpContains:
		expr.SetValue(BoolValue(arg1.Str != "" && strings.Contains(arg0.Str, arg1.Str)))

	case OpFind:
		if arg1.Str == "" {
			expr.SetValue(IntValue(-1))
		} else {
			expr.SetValue(IntValue(int64(strings.Index(arg0.Str, arg1.Str))))
		}

	case OpFormatSec:
		expr.SetValue(FormatTimestamp(arg0, false))

	case OpFormatMs:
		expr.SetValue(FormatTimestamp(arg0, true))

	case OpRound:
		switch {
		case arg0.Type == TypeInteger:
			expr.SetValue(IntValue(arg0.Int))
		case arg0.Real == 0.0:
			expr.SetValue(RealValue(0))
		case arg1.Int == 0:
			// half away from zero
			if arg0.Real > 0 {
				expr.SetValue(RealValue(math.Floor(arg0.Real + 0.5)))
			} else {
				expr.SetValue(RealValue(math.Ceil(arg0.Real - 0.5)))
			}
		default:
			half := 0.5
			if arg0.Real < 0 {
				half = -0.5
			}
			a := arg0.Real + half*math.Pow(10, -float64(arg1.Int))
			p := math.Pow(10, float64(arg1.Int))
			expr.SetValue(RealValue(float64(int64(a*p)) / p))
		}

	case OpEQ:
		expr.SetValue(BoolValue(Compare(arg0, arg1) == 0))

	case OpNE:
		expr.SetValue(BoolValue(Compare(arg0, arg1) != 0))

	case OpLE:
		expr.SetValue(BoolValue(Compare(arg0, arg1) <= 0))

	case OpGE:
		expr.SetValue(BoolValue(Compare(arg0, arg1) >= 0))

	case OpLT:
		expr.SetValue(BoolValue(Compare(arg0, arg1) < 0))

	case OpGT:
		expr.SetValue(BoolValue(Compare(arg0, arg1) > 0))

	case OpRowNum:
		expr.SetValue(IntValue(int64(ev.ctx.NumRowsOutput + 1)))

	case OpAny, OpSum, OpMinAggr, OpMaxAggr, OpAvg, OpStdev, OpVar, OpCount, OpCov, OpCorr:
		aggr := &ev.rowAggrs[expr.AggrIdx]
		switch ev.ctx.PassType {
		case MainPass:
			switch {
			case op.Opcode == OpAny:
				aggr.UpdateAny(arg0)
			case numArgs == 1:
				if expr.Arg(0).Type() == TypeInteger {
					aggr.Update(float64(arg0.Int))
				} else {
					aggr.Update(arg0.Real)
				}
			default:
				aggr.Update2(arg0.Real, arg1.Real)
			}
			expr.SetValue(RealValue(0))
		case StoredValuesPass:
			expr.SetValue(aggr.Result(AggrKind(op.Opcode)))
		}

	case OpWhere, OpSync:
		// identity
		expr.SetValue(arg0)
	}

	return expr.Value()
}
