package util

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

var (
	reColumnSeparators = regexp.MustCompile(`[\s\-_]+`)
	reSpaces           = regexp.MustCompile(`\s+`)
	folder             = cases.Fold()
)

// NormalizeColumn maps a spreadsheet header to its canonical column name:
// "Expiration Date", "expiration-date" and "EXPIRATION_DATE" all become
// "expiration_date".
func NormalizeColumn(input string) string {
	s := folder.String(strings.TrimSpace(input))
	s = reColumnSeparators.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// LowerName prepares free text for keyword matching.
func LowerName(input string) string {
	s := strings.ToLower(input)
	s = strings.ReplaceAll(s, "\u00A0", " ")
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func NormalizeSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(input, " "))
}

// CellString renders a cell value the way it is compared when grouping.
func CellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case *string:
		if t == nil {
			return ""
		}
		return strings.TrimSpace(*t)
	case float64:
		return formatFloat(t)
	case float32:
		return formatFloat(float64(t))
	case *float64:
		if t == nil {
			return ""
		}
		return formatFloat(*t)
	case int:
		return strconv.Itoa(t)
	case int8:
		return strconv.FormatInt(int64(t), 10)
	case int16:
		return strconv.FormatInt(int64(t), 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint8:
		return strconv.FormatUint(uint64(t), 10)
	case uint16:
		return strconv.FormatUint(uint64(t), 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		if t.IsZero() {
			return ""
		}
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format("2006-01-02")
		}
		return t.Format("2006-01-02 15:04:05")
	case interface{ String() string }:
		return strings.TrimSpace(t.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func formatFloat(v float64) string {
	if v < 1e15 && v > -1e15 && v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FirstNonEmpty returns the first value that is not blank.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func StringPtr(v string) *string { return &v }

func IntPtr(v int) *int { return &v }

func DerefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
