package util

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var reSpaces = regexp.MustCompile(`\s+`)

// nullLike holds cell renderings that mean "no value" in exported spreadsheets.
var nullLike = map[string]struct{}{
	"none": {},
	"null": {},
	"nan":  {},
}

// CellString renders a scalar cell as text. Absent cells render as "".
func CellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case *string:
		if t == nil {
			return ""
		}
		return *t
	case float64:
		return formatFloat(t)
	case float32:
		return formatFloat(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ""
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// CleanCell stringifies, NFC-normalizes and trims a cell. Null-like values become "".
func CleanCell(v any) string {
	s := CellString(v)
	s = strings.ReplaceAll(s, "\u00A0", " ")
	s = strings.TrimSpace(norm.NFC.String(s))
	if IsNullLike(s) {
		return ""
	}
	return s
}

func IsNullLike(s string) bool {
	_, ok := nullLike[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

func NormalizeSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(input, " "))
}

func RuneLen(s string) int {
	return len([]rune(s))
}
