package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParsePeriod converts a period label to the first instant of the period.
// Accepted forms are "2006", "2006-Q1", "2006-S1", "2006-01" and
// "2006-01-02".
func ParsePeriod(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	if len(s) == 7 && (s[5] == 'Q' || s[5] == 'S') && s[4] == '-' {
		year, err := strconv.Atoi(s[:4])
		if err != nil {
			return time.Time{}, fmt.Errorf("parse period %q: %w", s, err)
		}
		n, err := strconv.Atoi(s[6:])
		if err != nil {
			return time.Time{}, fmt.Errorf("parse period %q: %w", s, err)
		}
		months := 3
		limit := 4
		if s[5] == 'S' {
			months, limit = 6, 2
		}
		if n < 1 || n > limit {
			return time.Time{}, fmt.Errorf("parse period %q: out of range", s)
		}
		return time.Date(year, time.Month((n-1)*months+1), 1, 0, 0, 0, 0, time.UTC), nil
	}

	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if len(s) != len(layout) {
			continue
		}
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse period %q: unknown format", s)
}
