package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lifelogd/lifelog-backend/internal/types"
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// NextRun computes the first fire time strictly after the given instant,
// evaluated in the task's IANA timezone.
func NextRun(typ types.ScheduleType, value, timezone string, after time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("timezone %q: %w", timezone, err)
	}
	local := after.In(loc)

	switch typ {
	case types.ScheduleDaily:
		return nextDaily(value, local)
	case types.ScheduleWeekly:
		return nextWeekly(value, local)
	case types.ScheduleMonthly:
		return nextMonthly(value, local)
	case types.ScheduleInterval:
		return nextInterval(value, local)
	case types.ScheduleCron:
		return nextCron(value, local)
	default:
		return time.Time{}, fmt.Errorf("unknown schedule type %q", typ)
	}
}

// Validate checks a schedule without needing a reference instant.
func Validate(typ types.ScheduleType, value, timezone string) error {
	_, err := NextRun(typ, value, timezone, time.Now())
	return err
}

func nextDaily(value string, after time.Time) (time.Time, error) {
	hour, minute, err := parseClock(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("daily schedule %q: %w", value, err)
	}
	next := time.Date(after.Year(), after.Month(), after.Day(), hour, minute, 0, 0, after.Location())
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next, nil
}

func nextWeekly(value string, after time.Time) (time.Time, error) {
	fields := strings.Fields(strings.TrimSpace(value))
	if len(fields) != 2 {
		return time.Time{}, fmt.Errorf("weekly schedule %q: want \"<day[,day...]> HH:MM\"", value)
	}
	hour, minute, err := parseClock(fields[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("weekly schedule %q: %w", value, err)
	}

	wanted := map[time.Weekday]bool{}
	for _, name := range strings.Split(fields[0], ",") {
		day, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return time.Time{}, fmt.Errorf("weekly schedule %q: unknown day %q", value, name)
		}
		wanted[day] = true
	}

	for offset := 0; offset < 8; offset++ {
		day := after.AddDate(0, 0, offset)
		if !wanted[day.Weekday()] {
			continue
		}
		next := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, after.Location())
		if next.After(after) {
			return next, nil
		}
	}
	return time.Time{}, fmt.Errorf("weekly schedule %q: no next occurrence", value)
}

func nextMonthly(value string, after time.Time) (time.Time, error) {
	fields := strings.Fields(strings.TrimSpace(value))
	if len(fields) != 2 {
		return time.Time{}, fmt.Errorf("monthly schedule %q: want \"DD HH:MM\"", value)
	}
	day, err := strconv.Atoi(fields[0])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("monthly schedule %q: bad day of month", value)
	}
	hour, minute, err := parseClock(fields[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("monthly schedule %q: %w", value, err)
	}

	next := monthlyOccurrence(after.Year(), after.Month(), day, hour, minute, after.Location())
	if !next.After(after) {
		year, month := after.Year(), after.Month()+1
		if month > time.December {
			year, month = year+1, time.January
		}
		next = monthlyOccurrence(year, month, day, hour, minute, after.Location())
	}
	return next, nil
}

// monthlyOccurrence clamps the requested day to the month's last day, so a
// "31 09:00" schedule fires on Feb 28/29.
func monthlyOccurrence(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
	if day > last {
		day = last
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

func nextInterval(value string, after time.Time) (time.Time, error) {
	v := strings.TrimSpace(strings.ToLower(value))
	if len(v) < 2 {
		return time.Time{}, fmt.Errorf("interval schedule %q: want Nm, Nh or Nd", value)
	}
	n, err := strconv.Atoi(v[:len(v)-1])
	if err != nil || n <= 0 {
		return time.Time{}, fmt.Errorf("interval schedule %q: bad count", value)
	}
	switch v[len(v)-1] {
	case 'm':
		return after.Add(time.Duration(n) * time.Minute), nil
	case 'h':
		return after.Add(time.Duration(n) * time.Hour), nil
	case 'd':
		return after.AddDate(0, 0, n), nil
	default:
		return time.Time{}, fmt.Errorf("interval schedule %q: unknown unit %q", value, v[len(v)-1])
	}
}

func nextCron(value string, after time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("cron schedule %q: %w", value, err)
	}
	next := sched.Next(after)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron schedule %q: no next occurrence", value)
	}
	return next, nil
}

func parseClock(value string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("bad clock time %q", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bad hour in %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("bad minute in %q", value)
	}
	return hour, minute, nil
}
