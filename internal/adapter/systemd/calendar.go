package systemd

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hostkit-platform/hostkit/internal/domain"
)

// cronShortcuts maps cron aliases to systemd OnCalendar expressions.
var cronShortcuts = map[string]string{
	"@yearly":   "*-01-01 00:00:00",
	"@annually": "*-01-01 00:00:00",
	"@monthly":  "*-*-01 00:00:00",
	"@weekly":   "Sun *-*-* 00:00:00",
	"@daily":    "*-*-* 00:00:00",
	"@midnight": "*-*-* 00:00:00",
	"@hourly":   "*-*-* *:00:00",
}

// dowNames maps cron day-of-week numbers to systemd day names. Both 0 and 7
// mean Sunday.
var dowNames = map[string]string{
	"0": "Sun", "7": "Sun",
	"1": "Mon", "2": "Tue", "3": "Wed",
	"4": "Thu", "5": "Fri", "6": "Sat",
}

var (
	onCalendarPattern = regexp.MustCompile(`^\*?-|^\d{4}-`)
	dayNamePattern    = regexp.MustCompile(`(?i)^(mon|tue|wed|thu|fri|sat|sun)\b`)
)

// CronToOnCalendar converts a schedule string into systemd OnCalendar form.
// Accepted inputs: shortcut aliases (@daily, @hourly, ...), standard
// five-field cron expressions, and strings already in OnCalendar form
// (passed through).
//
// Examples:
//
//	"0 3 * * *"   -> "*-*-* 03:00:00"
//	"30 4 * * 0"  -> "Sun *-*-* 04:30:00"
//	"*/2 * * * *" -> "*-*-* *:00/2:00"
//	"@daily"      -> "*-*-* 00:00:00"
func CronToOnCalendar(expr string) (string, error) {
	expr = strings.TrimSpace(expr)

	if oncal, ok := cronShortcuts[strings.ToLower(expr)]; ok {
		return oncal, nil
	}

	// Already OnCalendar: a date-like pattern or a named-day prefix.
	if onCalendarPattern.MatchString(expr) || dayNamePattern.MatchString(expr) {
		return expr, nil
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return "", domain.Ef(domain.CodeInvalidCronExpression, "invalid cron expression %q", expr).
			WithSuggestion("expected 5 fields (minute hour day-of-month month day-of-week) or a shortcut like @daily")
	}

	// robfig/cron validates field contents before translation. Day-of-week 7
	// is normalized to 0 first; both mean Sunday in cron.
	validated := strings.Join([]string{fields[0], fields[1], fields[2], fields[3],
		strings.ReplaceAll(fields[4], "7", "0")}, " ")
	if _, err := cron.ParseStandard(validated); err != nil {
		return "", domain.WrapErr(domain.CodeInvalidCronExpression,
			fmt.Sprintf("invalid cron expression %q", expr), err).
			WithSuggestion("check field ranges: minute 0-59, hour 0-23, day 1-31, month 1-12, weekday 0-7")
	}

	minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4]

	dowPrefix := ""
	if dow != "*" {
		parts := strings.Split(dow, ",")
		names := make([]string, 0, len(parts))
		for _, d := range parts {
			// Ranges keep their semantics via systemd's a..b form.
			if lo, hi, isRange := strings.Cut(d, "-"); isRange {
				names = append(names, dowName(lo)+".."+dowName(hi))
			} else {
				names = append(names, dowName(d))
			}
		}
		dowPrefix = strings.Join(names, ",") + " "
	}

	return fmt.Sprintf("%s*-%s-%s %s:%s:00",
		dowPrefix,
		convertCronField(month),
		convertCronField(dom),
		convertCronField(hour),
		convertCronField(minute),
	), nil
}

// dowName maps a cron day-of-week number to its systemd name, passing
// already-named days through.
func dowName(d string) string {
	if name, ok := dowNames[d]; ok {
		return name
	}
	return d
}

// convertCronField maps one cron field to its OnCalendar equivalent:
// wildcards pass through, */n becomes 00/n, ranges and lists pass through,
// plain values are zero-padded.
func convertCronField(val string) string {
	if val == "*" {
		return "*"
	}
	if rest, ok := strings.CutPrefix(val, "*/"); ok {
		return "00/" + rest
	}
	if strings.ContainsAny(val, "-,") {
		return val
	}
	if n, err := strconv.Atoi(val); err == nil {
		return fmt.Sprintf("%02d", n)
	}
	return val
}

// NextCronRun computes the next fire time of a cron expression after t.
// Shortcuts and five-field expressions are supported; OnCalendar passthrough
// strings are not (the supervisor answers those from the live timer).
func NextCronRun(expr string, t time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(strings.TrimSpace(expr))
	if err != nil {
		return time.Time{}, domain.WrapErr(domain.CodeInvalidCronExpression,
			fmt.Sprintf("invalid cron expression %q", expr), err)
	}
	return sched.Next(t), nil
}
