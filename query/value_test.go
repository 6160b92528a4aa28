package query

import (
	"math"
	"testing"
)

func TestConvert(t *testing.T) {
	tests := []struct {
		name string
		from Value
		to   Type
		want Value
	}{
		{"string to real", StringValue("3.5"), TypeReal, RealValue(3.5)},
		{"string to real garbage", StringValue("abc"), TypeReal, RealValue(0)},
		{"string to real prefix", StringValue("12abc"), TypeReal, RealValue(12)},
		{"string to integer", StringValue("42"), TypeInteger, IntValue(42)},
		{"string to integer garbage", StringValue("x"), TypeInteger, IntValue(0)},
		{"real to integer truncates", RealValue(3.9), TypeInteger, IntValue(3)},
		{"integer to real", IntValue(7), TypeReal, RealValue(7)},
		{"bool to integer", BoolValue(true), TypeInteger, IntValue(1)},
		{"integer to string", IntValue(42), TypeString, StringValue("42")},
		{"real to string", RealValue(2.5), TypeString, StringValue("2.5")},
		{"string to bool nonempty", StringValue("yes"), TypeBoolean, BoolValue(true)},
		{"string to bool false word", StringValue("false"), TypeBoolean, BoolValue(false)},
		{"string to bool leading zero", StringValue("0.5"), TypeBoolean, BoolValue(false)},
		{"string to bool empty", StringValue(""), TypeBoolean, BoolValue(false)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Convert(tt.from, tt.to)
			if Compare(got, tt.want) != 0 {
				t.Errorf("Convert(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestConvertIdempotent(t *testing.T) {
	values := []Value{
		StringValue("hello"),
		RealValue(1.25),
		IntValue(-9),
		BoolValue(true),
		DateTimeValue(ParseDateTime("2024-01-02 03:04:05")),
	}
	types := []Type{TypeString, TypeReal, TypeInteger, TypeBoolean, TypeDateTime}

	for _, v := range values {
		for _, typ := range types {
			once := Convert(v, typ)
			twice := Convert(once, typ)
			if Compare(once, twice) != 0 {
				t.Errorf("Convert not idempotent: %v -> %v -> %v (type %v)", v, once, twice, TypeName(typ))
			}
		}
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a    Value
		b    Value
		want int
	}{
		{"equal strings", StringValue("a"), StringValue("a"), 0},
		{"string order", StringValue("a"), StringValue("b"), -1},
		{"integer order", IntValue(2), IntValue(1), 1},
		{"real order", RealValue(1.5), RealValue(2.5), -1},
		{"bool order", BoolValue(false), BoolValue(true), -1},
		{"cross type by ladder", StringValue("z"), RealValue(0), -1},
		{"cross type integer vs boolean", IntValue(99), BoolValue(false), -1},
		{"datetime order", DateTimeValue(ParseDateTime("2024-01-01")), DateTimeValue(ParseDateTime("2024-06-01")), -1},
		{"datetime ms precision",
			DateTimeValue(ParseDateTime("2024-01-01 00:00:00.1")),
			DateTimeValue(ParseDateTime("2024-01-01 00:00:00.2")), -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.a, tt.b); got != tt.want {
				t.Errorf("Compare(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestConstrainType(t *testing.T) {
	if got := ConstrainType(TypeInteger, TypeReal); got != TypeReal {
		t.Errorf("ConstrainType(Integer, Real) = %v, want Real", TypeName(got))
	}
	if got := ConstrainType(TypeString, TypeBoolean); got != TypeString {
		t.Errorf("ConstrainType(String, Boolean) = %v, want String", TypeName(got))
	}
	if got := ConstrainType(TypeUnknown, TypeDateTime); got != TypeDateTime {
		t.Errorf("ConstrainType(Unknown, DateTime) = %v, want DateTime", TypeName(got))
	}
}

func TestInferValueType(t *testing.T) {
	tests := []struct {
		input string
		want  Type
	}{
		{"", TypeString},
		{"hello", TypeString},
		{"42", TypeInteger},
		{"3.25", TypeReal},
		{"true", TypeBoolean},
		{"FALSE", TypeBoolean},
		{"2024-01-02", TypeDateTime},
		{"2024-01-02 10:00:00", TypeDateTime},
	}
	for _, tt := range tests {
		if got := InferValueType(tt.input); got != tt.want {
			t.Errorf("InferValueType(%q) = %v, want %v", tt.input, TypeName(got), TypeName(tt.want))
		}
	}
}

func TestFormatReal(t *testing.T) {
	tests := []struct {
		input float64
		want  string
	}{
		{0, "0"},
		{40, "40"},
		{2.5, "2.5"},
		{-1.25, "-1.25"},
	}
	for _, tt := range tests {
		if got := FormatReal(tt.input, DefaultPrecision); got != tt.want {
			t.Errorf("FormatReal(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
	if got := FormatReal(math.Pi, 3); got != "3.14" {
		t.Errorf("FormatReal(pi, 3) = %q, want %q", got, "3.14")
	}
}
