// Package query implements a streaming query engine over semi-structured
// hierarchical records.
//
// The engine consumes a normalized tag event stream (see package reader),
// matches dotted wildcard paths against it, and evaluates a column-argument
// query: projection, scalar expressions, filters, aggregation, sorting,
// limits, distinct rows, pivoting, and equi-joins against a secondary input.
//
// Example usage:
//
//	engine := query.NewParser()
//	engine.AddColumn("id")
//	engine.AddColumn("c")
//	engine.AddColumn("where[id>1]")
//	if err := engine.FinishColumns(); err != nil {
//	    log.Fatal(err)
//	}
package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Type identifies the kind of a scalar Value.
//
// The types form a ladder: comparing values of different types orders them
// by ladder position, and unifying operand types picks the lesser of the
// two (see ConstrainType).
type Type int

const (
	TypeString Type = iota
	TypeReal
	TypeInteger
	TypeDateTime
	TypeBoolean
	TypeUnknown
)

// TypeName returns the display name of a type.
func TypeName(t Type) string {
	switch t {
	case TypeInteger:
		return "Integer"
	case TypeReal:
		return "Real"
	case TypeBoolean:
		return "Boolean"
	case TypeString:
		return "String"
	case TypeDateTime:
		return "DateTime"
	default:
		return "Unknown"
	}
}

// ConstrainType unifies two types by picking the lower rung of the ladder.
func ConstrainType(t1, t2 Type) Type {
	if t2 < t1 {
		return t2
	}
	return t1
}

// DefaultPrecision is the number of significant digits used when rendering
// reals as text.
const DefaultPrecision = 10

// Value is a tagged scalar. Exactly one of the payload fields is
// meaningful, selected by Type.
type Value struct {
	Type Type
	Str  string
	Real float64
	Int  int64
	Bool bool
	Time DateTime
}

// StringValue returns a String-typed value.
func StringValue(s string) Value {
	return Value{Type: TypeString, Str: s}
}

// RealValue returns a Real-typed value.
func RealValue(r float64) Value {
	return Value{Type: TypeReal, Real: r}
}

// IntValue returns an Integer-typed value.
func IntValue(i int64) Value {
	return Value{Type: TypeInteger, Int: i}
}

// BoolValue returns a Boolean-typed value.
func BoolValue(b bool) Value {
	return Value{Type: TypeBoolean, Bool: b}
}

// DateTimeValue returns a DateTime-typed value.
func DateTimeValue(dt DateTime) Value {
	return Value{Type: TypeDateTime, Time: dt}
}

// Compare orders two values. Values of different types order by ladder
// position; values of the same type order naturally (strings
// lexicographically, datetimes to millisecond precision). The result is
// -1, 0, or 1.
func Compare(v1, v2 Value) int {
	if v1.Type != v2.Type {
		if v1.Type < v2.Type {
			return -1
		}
		return 1
	}
	switch v1.Type {
	case TypeReal:
		return cmpFloat(v1.Real, v2.Real)
	case TypeInteger:
		switch {
		case v1.Int < v2.Int:
			return -1
		case v1.Int > v2.Int:
			return 1
		}
		return 0
	case TypeBoolean:
		switch {
		case !v1.Bool && v2.Bool:
			return -1
		case v1.Bool && !v2.Bool:
			return 1
		}
		return 0
	case TypeDateTime:
		return compareDateTime(v1.Time, v2.Time)
	case TypeString:
		return strings.Compare(v1.Str, v2.Str)
	default:
		return 0
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ValueFlags control text rendering of a Value.
type ValueFlags uint

const (
	QuoteStrings ValueFlags = 1 << iota
	SubsecondTimes
)

// Format renders the value as text. Reals use the given number of
// significant digits.
func (v Value) Format(flags ValueFlags, precision int) string {
	switch v.Type {
	case TypeString:
		if flags&QuoteStrings != 0 {
			return "\"" + v.Str + "\""
		}
		return v.Str
	case TypeInteger:
		return strconv.FormatInt(v.Int, 10)
	case TypeReal:
		return FormatReal(v.Real, precision)
	case TypeBoolean:
		return strconv.FormatBool(v.Bool)
	case TypeDateTime:
		return v.Time.Format(flags&SubsecondTimes != 0)
	default:
		return ""
	}
}

// String renders the value with default precision and no quoting.
func (v Value) String() string {
	return v.Format(0, DefaultPrecision)
}

// FormatReal renders a real with the given number of significant digits,
// avoiding exponent notation for the magnitudes this tool deals in.
func FormatReal(r float64, precision int) string {
	s := strconv.FormatFloat(r, 'g', precision, 64)
	if strings.ContainsAny(s, "eE") {
		return strconv.FormatFloat(r, 'f', -1, 64)
	}
	return s
}

// ParseReal parses a leading real from s, returning 0 on failure. The
// second result reports whether the entire string was a real.
func ParseReal(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if r, err := strconv.ParseFloat(s, 64); err == nil {
		return r, true
	}
	// Fall back to the longest numeric prefix.
	end := 0
	seenDigit := false
	for i, ch := range s {
		if ch == '-' && i == 0 {
			end = i + 1
			continue
		}
		if ch == '.' || (ch >= '0' && ch <= '9') {
			if ch != '.' {
				seenDigit = true
			}
			end = i + 1
			continue
		}
		break
	}
	if !seenDigit {
		return 0, false
	}
	r, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, false
	}
	return r, false
}

// ParseInteger parses a leading integer from s, returning 0 on failure.
// The second result reports whether the entire string was an integer.
func ParseInteger(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, true
	}
	end := 0
	seenDigit := false
	for i, ch := range s {
		if ch == '-' && i == 0 {
			end = i + 1
			continue
		}
		if ch >= '0' && ch <= '9' {
			seenDigit = true
			end = i + 1
			continue
		}
		break
	}
	if !seenDigit {
		return 0, false
	}
	i, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return i, false
}

// ParseBoolean converts a string to a boolean. Any nonempty string other
// than "false" or one starting with '0' is true. The second result
// reports whether the string was exactly "true" or "false" (any case).
func ParseBoolean(s string) (bool, bool) {
	lower := strings.ToLower(strings.TrimSpace(s))
	if lower == "true" {
		return true, true
	}
	if lower == "false" {
		return false, true
	}
	b := len(lower) > 0 && lower[0] != '0'
	return b, false
}

// InferValueType examines a string and reports the most restrictive type
// it parses as, falling back to String.
func InferValueType(s string) Type {
	s = strings.TrimSpace(s)
	if s == "" {
		return TypeString
	}
	if dt := ParseDateTime(s); !dt.Err {
		return TypeDateTime
	}
	if _, exact := ParseBoolean(s); exact {
		return TypeBoolean
	}
	if _, exact := ParseInteger(s); exact {
		return TypeInteger
	}
	if _, exact := ParseReal(s); exact {
		return TypeReal
	}
	return TypeString
}

// InferLiteral builds a value from a raw string, assigning the most
// restrictive type the text parses as.
func InferLiteral(s string) Value {
	switch InferValueType(s) {
	case TypeDateTime:
		return DateTimeValue(ParseDateTime(s))
	case TypeBoolean:
		b, _ := ParseBoolean(s)
		return BoolValue(b)
	case TypeInteger:
		i, _ := ParseInteger(s)
		return IntValue(i)
	case TypeReal:
		r, _ := ParseReal(s)
		return RealValue(r)
	default:
		return StringValue(s)
	}
}

// Convert produces a value of the target type. Conversions are total:
// numeric parses default to zero, string-to-boolean follows ParseBoolean,
// and datetime conversions to and from numerics are lossy (seconds since
// epoch plus a 1/10000-second fraction).
func Convert(from Value, to Type) Value {
	switch to {
	case TypeReal:
		switch from.Type {
		case TypeReal:
			return from
		case TypeInteger:
			return RealValue(float64(from.Int))
		case TypeBoolean:
			if from.Bool {
				return RealValue(1)
			}
			return RealValue(0)
		case TypeString:
			r, _ := ParseReal(from.Str)
			return RealValue(r)
		case TypeDateTime:
			return RealValue(from.Time.ToReal())
		default:
			return RealValue(0)
		}

	case TypeInteger:
		switch from.Type {
		case TypeReal:
			return IntValue(int64(from.Real))
		case TypeInteger:
			return from
		case TypeBoolean:
			if from.Bool {
				return IntValue(1)
			}
			return IntValue(0)
		case TypeString:
			i, _ := ParseInteger(from.Str)
			return IntValue(i)
		case TypeDateTime:
			return IntValue(from.Time.ToInteger())
		default:
			return IntValue(0)
		}

	case TypeBoolean:
		switch from.Type {
		case TypeReal:
			return BoolValue(from.Real != 0)
		case TypeInteger:
			return BoolValue(from.Int != 0)
		case TypeBoolean:
			return from
		case TypeString:
			b, _ := ParseBoolean(from.Str)
			return BoolValue(b)
		default:
			return BoolValue(false)
		}

	case TypeString, TypeUnknown:
		if to == TypeUnknown {
			// Converting to Unknown erases the value.
			if from.Type == TypeUnknown {
				return from
			}
		}
		switch from.Type {
		case TypeString:
			return from
		case TypeUnknown:
			return StringValue("")
		default:
			return StringValue(from.String())
		}

	case TypeDateTime:
		switch from.Type {
		case TypeReal:
			return DateTimeValue(DateTimeFromReal(from.Real))
		case TypeInteger:
			return DateTimeValue(DateTimeFromInteger(from.Int))
		case TypeString:
			return DateTimeValue(ParseDateTime(from.Str))
		case TypeDateTime:
			return from
		default:
			return DateTimeValue(DateTime{})
		}
	}
	return Value{Type: TypeUnknown}
}

// FormatTimestamp renders a numeric timestamp as a local date-time string.
// When inMilliseconds is false, the input is (possibly fractional) seconds
// since the epoch; otherwise it is milliseconds with an optional fraction.
func FormatTimestamp(ts Value, inMilliseconds bool) Value {
	input := ts.String()

	var sec int64
	var ms int
	fractionalms := ""
	decPos := strings.IndexByte(input, '.')
	if inMilliseconds {
		if decPos >= 0 {
			fractionalms = input[decPos+1:]
		}
		val, _ := ParseInteger(input)
		sec = val / 1000
		ms = int(val % 1000)
	} else {
		if decPos >= 0 {
			parsed, _ := ParseInteger(input[decPos+1:])
			ms = int(parsed)
		}
		sec, _ = ParseInteger(input)
	}

	t := time.Unix(sec, 0).Local()
	s := fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d.%03d%s",
		t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second(), ms, fractionalms)
	return StringValue(s)
}
