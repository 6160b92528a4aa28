package query

import (
	"math"
	"testing"
)

// evalColumn parses a single column argument of literals and evaluates
// its expression.
func evalColumn(t *testing.T, exprText string) Value {
	t.Helper()
	s := NewSpec()
	if err := s.ParseColumns([]string{exprText}, nil); err != nil {
		t.Fatalf("ParseColumns(%q) error: %v", exprText, err)
	}
	evaluator := NewEvaluator(NewParserContext(), nil)
	return evaluator.Evaluate(s.Columns()[0].Expr)
}

func TestEvaluateArithmetic(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want Value
	}{
		{"addition", "1+2", RealValue(3)},
		{"precedence", "1+2*3", RealValue(7)},
		{"left associative fixup", "2*3+1", RealValue(7)},
		{"parentheses", "(1+2)*3", RealValue(9)},
		{"unary minus", "-2+5", RealValue(3)},
		{"integer arithmetic", "int(7)-int(3)", IntValue(4)},
		{"integer division", "int(7)/int(2)", IntValue(3)},
		{"integer division by zero", "int(1)/int(0)", IntValue(0)},
		{"modulo", "7%3", IntValue(1)},
		{"modulo by zero", "7%0", IntValue(-1)},
		{"abs", "abs(-4)", RealValue(4)},
		{"floor", "floor(2.7)", IntValue(2)},
		{"ceil", "ceil(2.1)", IntValue(3)},
		{"sqrt", "sqrt(9)", RealValue(3)},
		{"pow", "pow(2,10)", RealValue(1024)},
		{"min binary", "min(3,2)", RealValue(2)},
		{"max binary", "max(3,2)", RealValue(3)},
		{"round half away", "round(2.5)", RealValue(3)},
		{"round negative half away", "round(0-2.5)", RealValue(-3)},
		{"round to places", "round(2.346,2)", RealValue(2.35)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evalColumn(t, tt.expr)
			if Compare(got, tt.want) != 0 {
				t.Errorf("eval(%q) = %v:%v, want %v:%v",
					tt.expr, got, TypeName(got.Type), tt.want, TypeName(tt.want.Type))
			}
		})
	}
}

func TestEvaluateRealDivisionByZero(t *testing.T) {
	got := evalColumn(t, "1/0")
	if got.Type != TypeReal || !math.IsNaN(got.Real) {
		t.Errorf("1/0 = %v, want NaN", got)
	}
}

func TestEvaluateStrings(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want Value
	}{
		{"concat", `"a"&"b"`, StringValue("ab")},
		{"concat function", `concat("x","y")`, StringValue("xy")},
		{"len", `len("abcd")`, IntValue(4)},
		{"left", `left("abcd",2)`, StringValue("ab")},
		{"left clamps", `left("ab",9)`, StringValue("ab")},
		{"left zero", `left("ab",0)`, StringValue("")},
		{"right", `right("abcd",2)`, StringValue("cd")},
		{"right clamps", `right("ab",9)`, StringValue("ab")},
		{"upper", `upper("ab")`, StringValue("AB")},
		{"lower", `lower("AB")`, StringValue("ab")},
		{"contains", `contains("abcd","bc")`, BoolValue(true)},
		{"contains empty needle", `contains("abcd","")`, BoolValue(false)},
		{"find", `find("abcd","cd")`, IntValue(2)},
		{"find missing", `find("abcd","zz")`, IntValue(-1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evalColumn(t, tt.expr)
			if Compare(got, tt.want) != 0 {
				t.Errorf("eval(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluateLogicAndComparison(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"equality", "1==1", true},
		{"inequality", "1!=1", false},
		{"less", "1<2", true},
		{"word form", "ge(2,1)", true},
		{"and", "true&&false", false},
		{"or", "true||false", true},
		{"xor", "true^true", false},
		{"not", "not(false)", true},
		{"string compare", `"a"<"b"`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evalColumn(t, tt.expr)
			if got.Type != TypeBoolean || got.Bool != tt.want {
				t.Errorf("eval(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluateConditionals(t *testing.T) {
	if got := evalColumn(t, "if(1<2,10,20)"); Compare(got, RealValue(10)) != 0 {
		t.Errorf("if true = %v, want 10", got)
	}
	if got := evalColumn(t, "if(1>2,10,20)"); Compare(got, RealValue(20)) != 0 {
		t.Errorf("if false = %v, want 20", got)
	}
}

func TestEvaluateCastsAndType(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want Value
	}{
		{"int cast", `int("42")`, IntValue(42)},
		{"real cast", `real("2.5")`, RealValue(2.5)},
		{"bool cast", `bool("false")`, BoolValue(false)},
		{"str cast", "str(42)", StringValue("42")},
		{"str with precision", "str(1.23456789,3)", StringValue("1.23")},
		{"type of string", `type("x")`, StringValue("str")},
		{"type of real", "type(1.5)", StringValue("real")},
		{"type of bool", "type(true)", StringValue("bool")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evalColumn(t, tt.expr)
			if Compare(got, tt.want) != 0 {
				t.Errorf("eval(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluateLog(t *testing.T) {
	if got := evalColumn(t, "log(exp(1))"); !almostEqual(got.Real, 1) {
		t.Errorf("log(e) = %v, want 1", got.Real)
	}
	if got := evalColumn(t, "log(8,2)"); !almostEqual(got.Real, 3) {
		t.Errorf("log(8,2) = %v, want 3", got.Real)
	}
}
