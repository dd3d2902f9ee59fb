package event

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hostkit-platform/hostkit/internal/domain"
)

var (
	isoPattern      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	relativePattern = regexp.MustCompile(`^(\d+)\s*(h|hour|hours|m|min|mins|minute|minutes|d|day|days|w|week|weeks)$`)
	agoPattern      = regexp.MustCompile(`^(\d+)\s*(hour|hours|day|days|minute|minutes|week|weeks)\s+ago$`)
)

// ParseTime converts a user-supplied time filter into an absolute time.
// Accepted forms: ISO dates and timestamps ("2026-07-01",
// "2026-07-01T10:00:00"), relative durations ("1h", "30m", "7d", "2w"), and
// human phrasing ("2 days ago"). now anchors the relative forms.
func ParseTime(s string, now time.Time) (time.Time, error) {
	raw := strings.TrimSpace(s)
	s = strings.ToLower(raw)
	if s == "" {
		return time.Time{}, domain.E(domain.CodeInvalidDuration, "empty time filter")
	}

	if isoPattern.MatchString(raw) {
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, nil
			}
		}
		return time.Time{}, domain.Ef(domain.CodeInvalidDuration, "unparseable timestamp %q", raw)
	}

	var value int
	var unit string
	if m := relativePattern.FindStringSubmatch(s); m != nil {
		value, _ = strconv.Atoi(m[1])
		unit = m[2]
	} else if m := agoPattern.FindStringSubmatch(s); m != nil {
		value, _ = strconv.Atoi(m[1])
		unit = m[2]
	} else {
		return time.Time{}, domain.Ef(domain.CodeInvalidDuration, "unparseable time filter %q", s).
			WithSuggestion(`use forms like "1h", "7d", "2 days ago", or an ISO date`)
	}

	var d time.Duration
	switch unit[0] {
	case 'h':
		d = time.Duration(value) * time.Hour
	case 'm':
		d = time.Duration(value) * time.Minute
	case 'd':
		d = time.Duration(value) * 24 * time.Hour
	case 'w':
		d = time.Duration(value) * 7 * 24 * time.Hour
	}
	return now.Add(-d), nil
}
