package recurrence_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/cadence/internal/domain"
	"github.com/gosuda/cadence/internal/recurrence"
)

func weekday(d time.Weekday) *time.Weekday { return &d }

func date(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func TestNext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rule domain.RecurrenceRule
		from time.Time
		want time.Time
	}{
		{
			name: "daily",
			rule: domain.RecurrenceRule{Type: domain.RecurrenceDaily, Interval: 1},
			from: date(2024, 3, 10, 9),
			want: date(2024, 3, 11, 9),
		},
		{
			name: "daily interval unset defaults to one",
			rule: domain.RecurrenceRule{Type: domain.RecurrenceDaily},
			from: date(2024, 12, 31, 9),
			want: date(2025, 1, 1, 9),
		},
		{
			name: "every third day",
			rule: domain.RecurrenceRule{Type: domain.RecurrenceDaily, Interval: 3},
			from: date(2024, 3, 10, 9),
			want: date(2024, 3, 13, 9),
		},
		{
			name: "weekly from the matching weekday is strictly after",
			rule: domain.RecurrenceRule{Type: domain.RecurrenceWeekly, Interval: 1, Weekday: weekday(time.Monday)},
			from: date(2024, 3, 11, 9), // Monday
			want: date(2024, 3, 18, 9),
		},
		{
			name: "weekly from midweek",
			rule: domain.RecurrenceRule{Type: domain.RecurrenceWeekly, Interval: 1, Weekday: weekday(time.Monday)},
			from: date(2024, 3, 13, 9), // Wednesday
			want: date(2024, 3, 18, 9),
		},
		{
			name: "biweekly friday",
			rule: domain.RecurrenceRule{Type: domain.RecurrenceWeekly, Interval: 2, Weekday: weekday(time.Friday)},
			from: date(2024, 3, 11, 9),
			want: date(2024, 3, 22, 9),
		},
		{
			name: "weekly without weekday keeps the anchor weekday",
			rule: domain.RecurrenceRule{Type: domain.RecurrenceWeekly, Interval: 1},
			from: date(2024, 3, 12, 9),
			want: date(2024, 3, 19, 9),
		},
		{
			name: "monthly clamps to leap february",
			rule: domain.RecurrenceRule{Type: domain.RecurrenceMonthly, Interval: 1, MonthDay: 31},
			from: date(2024, 1, 31, 9),
			want: date(2024, 2, 29, 9),
		},
		{
			name: "monthly clamps to february",
			rule: domain.RecurrenceRule{Type: domain.RecurrenceMonthly, Interval: 1, MonthDay: 31},
			from: date(2023, 1, 31, 9),
			want: date(2023, 2, 28, 9),
		},
		{
			name: "monthly day restored after a short month",
			rule: domain.RecurrenceRule{Type: domain.RecurrenceMonthly, Interval: 1, MonthDay: 31},
			from: date(2023, 2, 28, 9),
			want: date(2023, 3, 31, 9),
		},
		{
			name: "monthly takes the anchor day when unset",
			rule: domain.RecurrenceRule{Type: domain.RecurrenceMonthly, Interval: 2},
			from: date(2024, 3, 15, 9),
			want: date(2024, 5, 15, 9),
		},
		{
			name: "monthly across the year boundary",
			rule: domain.RecurrenceRule{Type: domain.RecurrenceMonthly, Interval: 3},
			from: date(2024, 11, 30, 9),
			want: date(2025, 2, 28, 9),
		},
		{
			name: "second tuesday",
			rule: domain.RecurrenceRule{Type: domain.RecurrenceMonthlyWeekday, Interval: 1, Weekday: weekday(time.Tuesday), WeekOfMonth: 2},
			from: date(2024, 3, 12, 9),
			want: date(2024, 4, 9, 9),
		},
		{
			name: "fifth friday falls back to the last one",
			rule: domain.RecurrenceRule{Type: domain.RecurrenceMonthlyWeekday, Interval: 1, Weekday: weekday(time.Friday), WeekOfMonth: 5},
			from: date(2024, 1, 26, 9),
			want: date(2024, 2, 23, 9),
		},
		{
			name: "fifth friday exists",
			rule: domain.RecurrenceRule{Type: domain.RecurrenceMonthlyWeekday, Interval: 1, Weekday: weekday(time.Friday), WeekOfMonth: 5},
			from: date(2024, 2, 23, 9),
			want: date(2024, 3, 29, 9),
		},
		{
			name: "last day of next month",
			rule: domain.RecurrenceRule{Type: domain.RecurrenceMonthlyLastDay, Interval: 1},
			from: date(2024, 1, 15, 9),
			want: date(2024, 2, 29, 9),
		},
		{
			name: "last day every other month",
			rule: domain.RecurrenceRule{Type: domain.RecurrenceMonthlyLastDay, Interval: 2},
			from: date(2024, 12, 10, 9),
			want: date(2025, 2, 28, 9),
		},
		{
			name: "yearly clamps feb 29",
			rule: domain.RecurrenceRule{Type: domain.RecurrenceYearly, Interval: 1},
			from: date(2024, 2, 29, 9),
			want: date(2025, 2, 28, 9),
		},
		{
			name: "yearly keeps feb 29 on leap target",
			rule: domain.RecurrenceRule{Type: domain.RecurrenceYearly, Interval: 4},
			from: date(2024, 2, 29, 9),
			want: date(2028, 2, 29, 9),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok, err := recurrence.Next(tt.rule, tt.from, time.UTC)

			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.After(tt.from))
		})
	}
}

func TestNext_EndDate(t *testing.T) {
	t.Parallel()

	t.Run("occurrence after end date", func(t *testing.T) {
		t.Parallel()

		end := date(2024, 3, 10, 0)
		rule := domain.RecurrenceRule{Type: domain.RecurrenceDaily, Interval: 1, EndDate: &end}

		_, ok, err := recurrence.Next(rule, date(2024, 3, 10, 9), time.UTC)

		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("occurrence on the end date is included", func(t *testing.T) {
		t.Parallel()

		end := date(2024, 3, 11, 0)
		rule := domain.RecurrenceRule{Type: domain.RecurrenceDaily, Interval: 1, EndDate: &end}

		got, ok, err := recurrence.Next(rule, date(2024, 3, 10, 9), time.UTC)

		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, date(2024, 3, 11, 9), got)
	})
}

func TestNext_InvalidRule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rule domain.RecurrenceRule
	}{
		{"none", domain.RecurrenceRule{Type: domain.RecurrenceNone}},
		{"zero value", domain.RecurrenceRule{}},
		{"monthly weekday without weekday", domain.RecurrenceRule{Type: domain.RecurrenceMonthlyWeekday, WeekOfMonth: 2}},
		{"unknown type", domain.RecurrenceRule{Type: "fortnightly"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, ok, err := recurrence.Next(tt.rule, date(2024, 3, 10, 9), time.UTC)

			require.Error(t, err)
			assert.False(t, ok)
			assert.ErrorIs(t, err, domain.ErrInvalidRule)
		})
	}
}

func TestNext_OwnerTimezone(t *testing.T) {
	t.Parallel()

	tokyo := time.FixedZone("UTC+9", 9*60*60)
	// 2024-04-01 05:00 in UTC+9.
	from := date(2024, 3, 31, 20)
	rule := domain.RecurrenceRule{Type: domain.RecurrenceMonthlyLastDay, Interval: 1}

	inZone, ok, err := recurrence.Next(rule, from, tokyo)
	require.NoError(t, err)
	require.True(t, ok)

	inUTC, ok, err := recurrence.Next(rule, from, time.UTC)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, date(2024, 5, 30, 20), inZone)
	assert.Equal(t, time.UTC, inZone.Location())
	assert.Equal(t, date(2024, 4, 30, 20), inUTC)
}

func TestLoadLocation(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.UTC, recurrence.LoadLocation(""))
	assert.Equal(t, time.UTC, recurrence.LoadLocation("Mars/Olympus_Mons"))
	assert.Equal(t, "UTC", recurrence.LoadLocation("UTC").String())
}

func TestStartOfDay(t *testing.T) {
	t.Parallel()

	zone := time.FixedZone("UTC-5", -5*60*60)
	got := recurrence.StartOfDay(date(2024, 3, 10, 3), zone)

	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, zone), got)
}

func TestEffectiveRule_NoDriftAfterClamp(t *testing.T) {
	t.Parallel()

	chain := func(tpl *domain.Task, steps int) []time.Time {
		rule := recurrence.EffectiveRule(tpl, time.UTC)
		cursor := *tpl.DueDate
		out := make([]time.Time, 0, steps)
		for range steps {
			next, ok, err := recurrence.Next(rule, cursor, time.UTC)
			require.NoError(t, err)
			require.True(t, ok)
			out = append(out, next)
			cursor = next
		}
		return out
	}

	t.Run("monthly from the 31st", func(t *testing.T) {
		t.Parallel()

		due := date(2025, 1, 31, 9)
		tpl := &domain.Task{DueDate: &due, Recurrence: domain.RecurrenceRule{Type: domain.RecurrenceMonthly}}

		assert.Equal(t, []time.Time{
			date(2025, 2, 28, 9),
			date(2025, 3, 31, 9),
			date(2025, 4, 30, 9),
		}, chain(tpl, 3))
	})

	t.Run("yearly from feb 29", func(t *testing.T) {
		t.Parallel()

		due := date(2024, 2, 29, 9)
		tpl := &domain.Task{DueDate: &due, Recurrence: domain.RecurrenceRule{Type: domain.RecurrenceYearly}}

		got := chain(tpl, 4)
		assert.Equal(t, date(2025, 2, 28, 9), got[0])
		assert.Equal(t, date(2028, 2, 29, 9), got[3])
	})

	t.Run("weekly without weekday pins the due weekday", func(t *testing.T) {
		t.Parallel()

		due := date(2025, 3, 5, 9) // Wednesday
		tpl := &domain.Task{DueDate: &due, Recurrence: domain.RecurrenceRule{Type: domain.RecurrenceWeekly}}

		rule := recurrence.EffectiveRule(tpl, time.UTC)
		require.NotNil(t, rule.Weekday)
		assert.Equal(t, time.Wednesday, *rule.Weekday)
		assert.Nil(t, tpl.Recurrence.Weekday)
	})
}
