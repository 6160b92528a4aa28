package query

import (
	"fmt"
	"strings"
	"time"
)

// DateTime is a packed calendar timestamp. MS holds ten-thousandths of a
// second (0-9999). Err marks a value that failed to parse; DateOnly marks
// a value with no time component.
type DateTime struct {
	Err      bool
	DateOnly bool
	Year     int
	Month    int // 1-12
	Day      int // 1-31
	Hour     int
	Minute   int
	Second   int
	MS       int // 0-9999, units of 1/10000s
}

func compareDateTime(a, b DateTime) int {
	if a.Err || b.Err {
		return 0
	}
	if c := cmpInt(a.Year, b.Year); c != 0 {
		return c
	}
	if c := cmpInt(a.Month, b.Month); c != 0 {
		return c
	}
	if c := cmpInt(a.Day, b.Day); c != 0 {
		return c
	}
	// A date-only value sorts before any timed value on the same day.
	if a.DateOnly != b.DateOnly {
		if a.DateOnly {
			return -1
		}
		return 1
	}
	if a.DateOnly {
		return 0
	}
	if c := cmpInt(a.Hour, b.Hour); c != 0 {
		return c
	}
	if c := cmpInt(a.Minute, b.Minute); c != 0 {
		return c
	}
	if c := cmpInt(a.Second, b.Second); c != 0 {
		return c
	}
	return cmpInt(a.MS, b.MS)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ToStdTime converts to a local time.Time, dropping the subsecond part.
func (dt DateTime) ToStdTime() time.Time {
	return time.Date(dt.Year, time.Month(dt.Month), dt.Day, dt.Hour, dt.Minute, dt.Second, 0, time.Local)
}

// FromStdTime builds a DateTime from a time.Time, dropping the subsecond
// part.
func FromStdTime(t time.Time) DateTime {
	t = t.Local()
	return DateTime{
		Year:   t.Year(),
		Month:  int(t.Month()),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
	}
}

// ToReal converts to seconds since the epoch plus a 1/10000-second
// fraction. The conversion is lossy.
func (dt DateTime) ToReal() float64 {
	return float64(dt.ToStdTime().Unix()) + float64(dt.MS)/10000.0
}

// ToInteger converts to whole seconds since the epoch.
func (dt DateTime) ToInteger() int64 {
	return dt.ToStdTime().Unix()
}

// DateTimeFromReal builds a DateTime from fractional epoch seconds. The
// conversion is lossy.
func DateTimeFromReal(d float64) DateTime {
	i := int64(d)
	dt := DateTimeFromInteger(i)
	dt.MS = int((d - float64(i)) * 10000.0)
	return dt
}

// DateTimeFromInteger builds a DateTime from whole epoch seconds.
func DateTimeFromInteger(i int64) DateTime {
	return FromStdTime(time.Unix(i, 0))
}

// ParseDateTime parses "YYYY[-MM-DD][ HH:MM:SS[.fff[fff]][am|pm]]"
// leniently. Date and time may arrive in one string separated by a space
// or via ParseDateTimeParts. Parsing validates only the general shape;
// field values are taken in good faith, with overflowing time units
// carried upward. A structural failure sets Err.
func ParseDateTime(s string) DateTime {
	return ParseDateTimeParts(s, "")
}

// ParseDateTimeParts parses a date and time given either together in the
// first argument or split across the two.
func ParseDateTimeParts(dOrDt, t string) DateTime {
	dt := DateTime{Err: true}

	parts := strings.Fields(dOrDt)
	if len(parts) == 1 && t != "" {
		parts = append(parts, t)
	}
	if len(parts) == 0 || len(parts) > 2 {
		return dt
	}

	var datePart, timePart string
	if len(parts) == 1 {
		if strings.Contains(parts[0], "-") {
			datePart = parts[0]
		} else {
			timePart = parts[0]
		}
	} else {
		datePart = parts[0]
		timePart = parts[1]
	}

	dateFields := strings.Split(datePart, "-")
	if len(dateFields) < 3 {
		return dt
	}
	year := absInt(atoi(dateFields[0]))
	month := absInt(atoi(dateFields[1]))
	day := absInt(atoi(dateFields[2]))
	switch {
	case year <= 49:
		year += 2000
	case year <= 99:
		year += 1900
	case year > 2049:
		return dt
	}
	if month == 0 || month > 12 {
		return dt
	}
	if day == 0 || day > 31 {
		return dt
	}

	var hr, min, sec, ms int
	if timePart == "" {
		dt.DateOnly = true
	} else {
		timeFields := strings.Split(timePart, ":")
		if len(timeFields) < 3 {
			return dt
		}
		hr = absInt(atoi(timeFields[0]))
		min = absInt(atoi(timeFields[1]))
		var msPart string
		if len(timeFields) >= 4 {
			// seconds and subseconds separated by ':'
			sec = absInt(atoi(timeFields[2]))
			msPart = timeFields[3]
		} else {
			secMS := strings.SplitN(timeFields[2], ".", 2)
			sec = absInt(atoi(secMS[0]))
			if len(secMS) == 2 {
				msPart = secMS[1]
			}
		}

		if msPart != "" {
			// Keep four subsecond digits with rounding: .1 reads as
			// 1000/10000s, .12345678 rounds to 1235.
			msPart += "0000"
			if msPart[4] >= '5' {
				ms++
			}
			ms += absInt(atoi(msPart[:4]))
		}

		// carry overflowing units upward
		for ms >= 10000 {
			ms -= 10000
			sec++
		}
		for sec >= 60 {
			sec -= 60
			min++
		}
		for min >= 60 {
			min -= 60
			hr++
		}
		for hr >= 24 {
			hr -= 24
			if day > 31 {
				return dt
			}
			day++
		}
		lowerTime := strings.ToLower(timeFields[len(timeFields)-1])
		if strings.Contains(lowerTime, "pm") && hr < 12 {
			hr += 12
		}
	}

	dt.Year = year
	dt.Month = month
	dt.Day = day
	if !dt.DateOnly {
		dt.Hour = hr
		dt.Minute = min
		dt.Second = sec
		dt.MS = ms
	}
	dt.Err = false
	return dt
}

// Format renders "YYYY-MM-DD[ HH:MM:SS[.ffff]]", trimming trailing zeros
// from the fractional part. An Err value renders empty.
func (dt DateTime) Format(subseconds bool) string {
	if dt.Err {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%04d-%02d-%02d", dt.Year, dt.Month, dt.Day)
	if !dt.DateOnly {
		fmt.Fprintf(&sb, " %02d:%02d:%02d", dt.Hour, dt.Minute, dt.Second)
		if dt.MS > 0 && subseconds {
			p := dt.MS
			for p > 0 && p%10 == 0 {
				p /= 10
			}
			switch {
			case dt.MS < 10:
				fmt.Fprintf(&sb, ".000%d", p)
			case dt.MS < 100:
				fmt.Fprintf(&sb, ".00%d", p)
			case dt.MS < 1000:
				fmt.Fprintf(&sb, ".0%d", p)
			default:
				fmt.Fprintf(&sb, ".%d", p)
			}
		}
	}
	return sb.String()
}

func atoi(s string) int {
	i, _ := ParseInteger(s)
	return int(i)
}

func absInt(i int) int {
	if i < 0 {
		return -i
	}
	return i
}
