package scheduler

import (
	"testing"
	"time"

	"github.com/lifelogd/lifelog-backend/internal/types"
)

func at(t *testing.T, tz string, value string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation(tz)
	if err != nil {
		t.Fatalf("timezone: %v", err)
	}
	ts, err := time.ParseInLocation("2006-01-02 15:04", value, loc)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return ts
}

func TestNextRunDaily(t *testing.T) {
	// 2026-03-02 is a Monday.
	after := at(t, "Asia/Jerusalem", "2026-03-02 08:00")

	next, err := NextRun(types.ScheduleDaily, "09:30", "Asia/Jerusalem", after)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if want := at(t, "Asia/Jerusalem", "2026-03-02 09:30"); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	next, err = NextRun(types.ScheduleDaily, "07:00", "Asia/Jerusalem", after)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if want := at(t, "Asia/Jerusalem", "2026-03-03 07:00"); !next.Equal(want) {
		t.Errorf("past clock time must roll to tomorrow, next = %v, want %v", next, want)
	}
}

func TestNextRunDailyAtExactBoundaryAdvances(t *testing.T) {
	after := at(t, "UTC", "2026-03-02 09:30")
	next, err := NextRun(types.ScheduleDaily, "09:30", "UTC", after)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !next.After(after) {
		t.Errorf("next = %v must be strictly after %v", next, after)
	}
}

func TestNextRunWeekly(t *testing.T) {
	// Monday morning, schedule says Wednesday and Friday.
	after := at(t, "UTC", "2026-03-02 08:00")

	next, err := NextRun(types.ScheduleWeekly, "wednesday,FRI 18:00", "UTC", after)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if want := at(t, "UTC", "2026-03-04 18:00"); !next.Equal(want) {
		t.Errorf("next = %v, want Wednesday %v", next, want)
	}

	// Wednesday evening already past: Friday comes next.
	next, err = NextRun(types.ScheduleWeekly, "wednesday,FRI 18:00", "UTC", at(t, "UTC", "2026-03-04 19:00"))
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if want := at(t, "UTC", "2026-03-06 18:00"); !next.Equal(want) {
		t.Errorf("next = %v, want Friday %v", next, want)
	}
}

func TestNextRunWeeklyRejectsUnknownDay(t *testing.T) {
	if _, err := NextRun(types.ScheduleWeekly, "someday 10:00", "UTC", time.Now()); err == nil {
		t.Fatal("unknown weekday must be rejected")
	}
}

func TestNextRunMonthlyClampsToLastDay(t *testing.T) {
	after := at(t, "UTC", "2026-02-01 00:00")
	next, err := NextRun(types.ScheduleMonthly, "31 09:00", "UTC", after)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if want := at(t, "UTC", "2026-02-28 09:00"); !next.Equal(want) {
		t.Errorf("next = %v, want Feb 28 clamp %v", next, want)
	}
}

func TestNextRunMonthlyRollsToNextMonth(t *testing.T) {
	after := at(t, "UTC", "2026-03-20 10:00")
	next, err := NextRun(types.ScheduleMonthly, "15 09:00", "UTC", after)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if want := at(t, "UTC", "2026-04-15 09:00"); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextRunInterval(t *testing.T) {
	after := at(t, "UTC", "2026-03-02 08:00")
	cases := []struct {
		value string
		want  time.Time
	}{
		{"45m", after.Add(45 * time.Minute)},
		{"6h", after.Add(6 * time.Hour)},
		{"2d", after.AddDate(0, 0, 2)},
	}
	for _, tc := range cases {
		next, err := NextRun(types.ScheduleInterval, tc.value, "UTC", after)
		if err != nil {
			t.Fatalf("next(%q): %v", tc.value, err)
		}
		if !next.Equal(tc.want) {
			t.Errorf("next(%q) = %v, want %v", tc.value, next, tc.want)
		}
	}
	if _, err := NextRun(types.ScheduleInterval, "10x", "UTC", after); err == nil {
		t.Error("unknown interval unit must be rejected")
	}
}

func TestNextRunCronEveryFifteenMinutes(t *testing.T) {
	after := at(t, "UTC", "2026-03-02 10:07")
	next, err := NextRun(types.ScheduleCron, "*/15 * * * *", "UTC", after)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if want := at(t, "UTC", "2026-03-02 10:15"); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextRunCronWeekdaysSkipWeekend(t *testing.T) {
	// 2026-03-07 is a Saturday.
	after := at(t, "UTC", "2026-03-07 12:00")
	next, err := NextRun(types.ScheduleCron, "0 9 * * 1-5", "UTC", after)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if want := at(t, "UTC", "2026-03-09 09:00"); !next.Equal(want) {
		t.Errorf("next = %v, want Monday %v", next, want)
	}
}

func TestNextRunCronSundayIsZero(t *testing.T) {
	// Friday; "0 8 * * 0" must land on Sunday.
	after := at(t, "UTC", "2026-03-06 12:00")
	next, err := NextRun(types.ScheduleCron, "0 8 * * 0", "UTC", after)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next.Weekday() != time.Sunday {
		t.Errorf("next weekday = %v, want Sunday", next.Weekday())
	}
}

func TestNextRunUsesTaskTimezone(t *testing.T) {
	// 06:00 UTC is 08:00 in Jerusalem (winter time); a 07:00 Jerusalem
	// schedule therefore rolls to the next day.
	after := at(t, "UTC", "2026-01-15 06:00")
	next, err := NextRun(types.ScheduleDaily, "07:00", "Asia/Jerusalem", after)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if want := at(t, "Asia/Jerusalem", "2026-01-16 07:00"); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextRunRejectsBadInput(t *testing.T) {
	cases := []struct {
		typ   types.ScheduleType
		value string
		tz    string
	}{
		{types.ScheduleDaily, "25:00", "UTC"},
		{types.ScheduleDaily, "09:30", "Not/AZone"},
		{types.ScheduleMonthly, "0 09:00", "UTC"},
		{types.ScheduleCron, "not a cron", "UTC"},
		{types.ScheduleType("hourly"), "1", "UTC"},
	}
	for _, tc := range cases {
		if _, err := NextRun(tc.typ, tc.value, tc.tz, time.Now()); err == nil {
			t.Errorf("NextRun(%s, %q, %q) must fail", tc.typ, tc.value, tc.tz)
		}
	}
}
