package rules

import (
	"strconv"
	"strings"
)

// Match reports whether value satisfies a rule's threshold expressions.
//
// An operator prefix is honoured only on its own side: ">=" or ">" on
// minExpr, "<=" or "<" on maxExpr, checked in that order, and the first
// operator found decides alone. Without operators the expressions are plain
// numbers forming an inclusive range, or a one-sided bound when only one
// parses. No bound at all never matches.
func Match(value float64, minExpr, maxExpr *string) bool {
	lo, hi := trimmed(minExpr), trimmed(maxExpr)

	switch {
	case strings.HasPrefix(lo, ">="):
		t, ok := parseNumber(lo[2:])
		return ok && value >= t
	case strings.HasPrefix(lo, ">"):
		t, ok := parseNumber(lo[1:])
		return ok && value > t
	case strings.HasPrefix(hi, "<="):
		t, ok := parseNumber(hi[2:])
		return ok && value <= t
	case strings.HasPrefix(hi, "<"):
		t, ok := parseNumber(hi[1:])
		return ok && value < t
	}

	minVal, hasMin := parseNumber(lo)
	maxVal, hasMax := parseNumber(hi)
	switch {
	case hasMin && hasMax:
		return minVal <= value && value <= maxVal
	case hasMin:
		return value >= minVal
	case hasMax:
		return value <= maxVal
	}
	return false
}

// ParseValue converts a recorded fact value to a number. Non-numeric values
// are excluded from threshold evaluation.
func ParseValue(v *string) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return parseNumber(*v)
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
