package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type RecurrenceType string

const (
	RecurrenceNone           RecurrenceType = "none"
	RecurrenceDaily          RecurrenceType = "daily"
	RecurrenceWeekly         RecurrenceType = "weekly"
	RecurrenceMonthly        RecurrenceType = "monthly"
	RecurrenceMonthlyWeekday RecurrenceType = "monthly_weekday"
	RecurrenceMonthlyLastDay RecurrenceType = "monthly_last_day"
	RecurrenceYearly         RecurrenceType = "yearly"
)

// RecurrenceRule is the declarative shape of a repeating schedule.
// The zero value (and any rule with Type none) means "does not repeat".
type RecurrenceRule struct {
	Type            RecurrenceType `json:"type" validate:"omitempty,oneof=none daily weekly monthly monthly_weekday monthly_last_day yearly"`
	Interval        int            `json:"interval,omitempty" validate:"min=0,max=999"`
	Weekday         *time.Weekday  `json:"weekday,omitempty" validate:"omitempty,min=0,max=6"`
	MonthDay        int            `json:"month_day,omitempty" validate:"min=0,max=31"`
	WeekOfMonth     int            `json:"week_of_month,omitempty" validate:"min=0,max=5"`
	EndDate         *time.Time     `json:"end_date,omitempty"`
	CompletionBased bool           `json:"completion_based,omitempty"`
}

var ruleValidator = validator.New() //nolint:gochecknoglobals // validator caches struct metadata

// Active reports whether the rule describes a live schedule.
func (r RecurrenceRule) Active() bool {
	return r.Type != "" && r.Type != RecurrenceNone
}

// Every returns the interval, treating unset as 1.
func (r RecurrenceRule) Every() int {
	if r.Interval < 1 {
		return 1
	}
	return r.Interval
}

// Validate rejects structurally invalid rules. Errors wrap ErrInvalidRule.
func (r RecurrenceRule) Validate() error {
	if err := ruleValidator.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", strings.ToLower(e.Field()), e.Tag(), e.Value()))
			}
			return fmt.Errorf("%s: %w", strings.Join(msgs, "; "), ErrInvalidRule)
		}
		return fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}

	if !r.Active() {
		return nil
	}

	switch r.Type {
	case RecurrenceMonthlyWeekday:
		if r.Weekday == nil {
			return fmt.Errorf("monthly_weekday requires a weekday: %w", ErrInvalidRule)
		}
		if r.WeekOfMonth < 1 {
			return fmt.Errorf("monthly_weekday requires week_of_month 1-5: %w", ErrInvalidRule)
		}
	case RecurrenceMonthly:
		if r.Weekday != nil {
			return fmt.Errorf("monthly does not take a weekday, use monthly_weekday: %w", ErrInvalidRule)
		}
	case RecurrenceDaily, RecurrenceMonthlyLastDay, RecurrenceYearly:
		if r.Weekday != nil || r.MonthDay != 0 || r.WeekOfMonth != 0 {
			return fmt.Errorf("%s takes only an interval and an end date: %w", r.Type, ErrInvalidRule)
		}
	case RecurrenceWeekly:
		if r.MonthDay != 0 || r.WeekOfMonth != 0 {
			return fmt.Errorf("weekly takes an optional weekday only: %w", ErrInvalidRule)
		}
	}

	return nil
}

// Label returns the generic display label shown for templates in list views.
func (r RecurrenceRule) Label() string {
	switch r.Type {
	case RecurrenceDaily:
		return "Daily"
	case RecurrenceWeekly:
		return "Weekly"
	case RecurrenceMonthly, RecurrenceMonthlyWeekday, RecurrenceMonthlyLastDay:
		return "Monthly"
	case RecurrenceYearly:
		return "Yearly"
	default:
		return ""
	}
}

// Normalized maps the zero type to none so stored and compared rules agree.
func (r RecurrenceRule) Normalized() RecurrenceRule {
	if r.Type == "" {
		r.Type = RecurrenceNone
	}
	return r
}

// TypeChanged reports whether other repeats on a different kind of schedule.
func (r RecurrenceRule) TypeChanged(other RecurrenceRule) bool {
	return r.Normalized().Type != other.Normalized().Type
}

// Equal compares every recurrence field.
func (r RecurrenceRule) Equal(other RecurrenceRule) bool {
	a, b := r.Normalized(), other.Normalized()
	if a.Type != b.Type || a.Every() != b.Every() || a.MonthDay != b.MonthDay ||
		a.WeekOfMonth != b.WeekOfMonth || a.CompletionBased != b.CompletionBased {
		return false
	}
	if (a.Weekday == nil) != (b.Weekday == nil) || (a.Weekday != nil && *a.Weekday != *b.Weekday) {
		return false
	}
	if (a.EndDate == nil) != (b.EndDate == nil) || (a.EndDate != nil && !a.EndDate.Equal(*b.EndDate)) {
		return false
	}
	return true
}

func (r RecurrenceRule) Clone() RecurrenceRule {
	c := r
	if r.Weekday != nil {
		wd := *r.Weekday
		c.Weekday = &wd
	}
	c.EndDate = cloneTime(r.EndDate)
	return c
}
