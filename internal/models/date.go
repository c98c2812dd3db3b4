// Package models provides data model definitions for the check-in backend.
package models

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the display date format used throughout the app (dd/mm/yyyy).
const DateLayout = "02/01/2006"

// isoLayout is the interchange format used by date inputs (yyyy-mm-dd).
const isoLayout = "2006-01-02"

// FormatDate renders a time as a display date.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Today returns the current date in display format.
func Today() string {
	return FormatDate(time.Now())
}

// ParseDate parses a display-format date back into a comparable time.
// The date column is a label, not a sortable primitive, so ordering and
// equality checks go through this.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// NormalizeDate converts an ISO date (yyyy-mm-dd) to display format.
// Dates already in display format pass through unchanged; anything else
// comes back empty.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "/") {
		if _, err := ParseDate(s); err != nil {
			return ""
		}
		return s
	}
	t, err := time.Parse(isoLayout, s)
	if err != nil {
		return ""
	}
	return FormatDate(t)
}
