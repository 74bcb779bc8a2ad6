// Package recurrence turns recurrence rules into concrete task instances.
//
// The calculator is pure. The generator and the update coordinator run under a
// per-template lock and inside one transaction each, so a template's
// last_generated_date only ever moves forward.
package recurrence

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/cadence/internal/domain"
)

// LoadLocation resolves an IANA zone name. Unknown or empty names fall back to
// UTC; the fallback is logged and never surfaced to the caller.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Warn().Err(err).Str("timezone", name).Msg("recurrence: unknown timezone, falling back to UTC")
		return time.UTC
	}
	return loc
}

// Next returns the first occurrence of rule strictly after from. The calendar
// arithmetic happens in loc and keeps from's wall-clock time; the result is in
// UTC. ok is false when that occurrence falls on a day after the rule's end date.
func Next(rule domain.RecurrenceRule, from time.Time, loc *time.Location) (next time.Time, ok bool, err error) {
	if loc == nil {
		loc = time.UTC
	}
	if !rule.Active() {
		return time.Time{}, false, fmt.Errorf("recurrence.Next: rule type %q does not repeat: %w", rule.Type, domain.ErrInvalidRule)
	}

	local := from.In(loc)
	n := rule.Every()

	switch rule.Type {
	case domain.RecurrenceDaily:
		next = local.AddDate(0, 0, n)

	case domain.RecurrenceWeekly:
		target := local.Weekday()
		if rule.Weekday != nil {
			target = *rule.Weekday
		}
		next = local.AddDate(0, 0, daysUntil(local.Weekday(), target)+(n-1)*7)

	case domain.RecurrenceMonthly:
		day := rule.MonthDay
		if day == 0 {
			day = local.Day()
		}
		y, m := addMonths(local.Year(), local.Month(), n)
		next = atDay(local, y, m, min(day, daysIn(y, m, loc)))

	case domain.RecurrenceMonthlyWeekday:
		if rule.Weekday == nil || rule.WeekOfMonth < 1 {
			return time.Time{}, false, fmt.Errorf("recurrence.Next: monthly_weekday without weekday/week: %w", domain.ErrInvalidRule)
		}
		y, m := addMonths(local.Year(), local.Month(), n)
		next = atDay(local, y, m, nthWeekday(y, m, *rule.Weekday, rule.WeekOfMonth, loc))

	case domain.RecurrenceMonthlyLastDay:
		y, m := addMonths(local.Year(), local.Month(), n)
		next = atDay(local, y, m, daysIn(y, m, loc))

	case domain.RecurrenceYearly:
		day := rule.MonthDay
		if day == 0 {
			day = local.Day()
		}
		y := local.Year() + n
		next = atDay(local, y, local.Month(), min(day, daysIn(y, local.Month(), loc)))

	default:
		return time.Time{}, false, fmt.Errorf("recurrence.Next: unsupported rule type %q: %w", rule.Type, domain.ErrInvalidRule)
	}

	if rule.EndDate != nil && dayAfter(next, *rule.EndDate, loc) {
		return time.Time{}, false, nil
	}

	return next.UTC(), true, nil
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// daysUntil counts days to the next target weekday, never 0.
func daysUntil(from, target time.Weekday) int {
	d := (int(target) - int(from) + 7) % 7
	if d == 0 {
		d = 7
	}
	return d
}

func addMonths(y int, m time.Month, n int) (int, time.Month) {
	total := int(m) - 1 + n
	return y + total/12, time.Month(total%12 + 1)
}

func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 12, 0, 0, 0, loc).Day()
}

// nthWeekday returns the day of month of the nth wd in (y, m). When the month
// has fewer than n such weekdays the last one is used.
func nthWeekday(y int, m time.Month, wd time.Weekday, n int, loc *time.Location) int {
	first := time.Date(y, m, 1, 12, 0, 0, 0, loc).Weekday()
	day := 1 + (int(wd)-int(first)+7)%7 + (n-1)*7
	for day > daysIn(y, m, loc) {
		day -= 7
	}
	return day
}

func atDay(wall time.Time, y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, wall.Hour(), wall.Minute(), wall.Second(), wall.Nanosecond(), wall.Location())
}

// dayAfter reports whether a's calendar day in loc is strictly after b's.
func dayAfter(a, b time.Time, loc *time.Location) bool {
	return StartOfDay(a, loc).After(StartOfDay(b, loc))
}
