package systemd

import (
	"testing"
	"time"

	"github.com/hostkit-platform/hostkit/internal/domain"
)

func TestCronToOnCalendar(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"0 3 * * *", "*-*-* 03:00:00"},
		{"@daily", "*-*-* 00:00:00"},
		{"@midnight", "*-*-* 00:00:00"},
		{"@hourly", "*-*-* *:00:00"},
		{"@weekly", "Sun *-*-* 00:00:00"},
		{"@monthly", "*-*-01 00:00:00"},
		{"@yearly", "*-01-01 00:00:00"},
		{"*/2 * * * *", "*-*-* *:00/2:00"},
		{"30 4 * * 0", "Sun *-*-* 04:30:00"},
		{"30 4 * * 7", "Sun *-*-* 04:30:00"},
		{"0 */2 * * *", "*-*-* 00/2:00:00"},
		{"15 14 1 * *", "*-*-01 14:15:00"},
		{"0 0 * * 1-5", "Mon..Fri *-*-* 00:00:00"},
		{"0 0 * * 1,3,5", "Mon,Wed,Fri *-*-* 00:00:00"},
		{"5 0 * 8 *", "*-08-* 00:05:00"},
		// Already OnCalendar: passed through.
		{"*-*-* 06:30:00", "*-*-* 06:30:00"},
		{"Sun *-*-* 04:00:00", "Sun *-*-* 04:00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := CronToOnCalendar(tt.expr)
			if err != nil {
				t.Fatalf("CronToOnCalendar(%q): %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("CronToOnCalendar(%q) = %q, want %q", tt.expr, got, tt.want)
			}
		})
	}
}

func TestCronToOnCalendarInvalid(t *testing.T) {
	for _, expr := range []string{
		"0 3 * *",        // four fields
		"0 3 * * * *",    // six fields
		"99 3 * * *",     // minute out of range
		"0 25 * * *",     // hour out of range
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := CronToOnCalendar(expr)
			if domain.CodeOf(err) != domain.CodeInvalidCronExpression {
				t.Errorf("CronToOnCalendar(%q) code = %s, want INVALID_CRON_EXPRESSION",
					expr, domain.CodeOf(err))
			}
		})
	}
}

func TestNextCronRun(t *testing.T) {
	at := time.Date(2026, 7, 15, 2, 0, 0, 0, time.UTC)
	next, err := NextCronRun("0 3 * * *", at)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 7, 15, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	if _, err := NextCronRun("not a cron", at); err == nil {
		t.Error("invalid expression accepted")
	}
}
