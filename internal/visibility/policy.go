// Package visibility decides which tasks a list view shows and under which
// name. It is a read-time projection; nothing here is persisted.
package visibility

import (
	"fmt"
	"slices"
	"time"

	"github.com/gosuda/cadence/internal/domain"
	"github.com/gosuda/cadence/internal/recurrence"
)

type View string

const (
	ViewAll      View = "all"
	ViewSomeday  View = "someday"
	ViewInbox    View = "inbox"
	ViewToday    View = "today"
	ViewUpcoming View = "upcoming"
)

// ParseView maps a query parameter to a view; empty means ViewAll.
func ParseView(s string) (View, error) {
	switch v := View(s); v {
	case "":
		return ViewAll, nil
	case ViewAll, ViewSomeday, ViewInbox, ViewToday, ViewUpcoming:
		return v, nil
	default:
		return "", fmt.Errorf("unknown view %q", s)
	}
}

// instanceView reports whether v lists concrete occurrences instead of templates.
func (v View) instanceView() bool {
	return v == ViewToday || v == ViewUpcoming
}

// Item is a task as a list view presents it.
type Item struct {
	Task         *domain.Task
	DisplayName  string
	OriginalName string
}

// DisplayName is the generic recurrence label for templates and the stored
// name for everything else. Cancelled and archived templates keep the label.
func DisplayName(t *domain.Task) string {
	if t.IsTemplate() {
		return t.Recurrence.Label()
	}
	return t.Name
}

// Policy evaluates views relative to one calendar day in the owner's zone.
type Policy struct {
	today    time.Time
	tomorrow time.Time
}

func NewPolicy(now time.Time, loc *time.Location) Policy {
	if loc == nil {
		loc = time.UTC
	}
	today := recurrence.StartOfDay(now, loc)
	return Policy{today: today, tomorrow: today.AddDate(0, 0, 1)}
}

// Filter returns the top-level tasks view shows, in input order except for
// ViewUpcoming, which is ordered by due date.
func (p Policy) Filter(view View, tasks []*domain.Task) []Item {
	items := make([]Item, 0, len(tasks))
	for _, t := range tasks {
		if t.IsSubtask() || !p.visible(view, t) {
			continue
		}
		items = append(items, Item{Task: t, DisplayName: DisplayName(t), OriginalName: t.Name})
	}

	if view == ViewUpcoming {
		slices.SortStableFunc(items, func(a, b Item) int {
			return a.Task.DueDate.Compare(*b.Task.DueDate)
		})
	}

	return items
}

func (p Policy) visible(view View, t *domain.Task) bool {
	if view.instanceView() {
		return p.visibleOccurrence(view, t)
	}

	if t.IsInstance() {
		return false
	}
	if t.IsTemplate() && t.DueDate != nil && t.DueDate.Before(p.today) {
		return false
	}

	switch view {
	case ViewSomeday:
		return t.DueDate == nil && t.Status.IsActive()
	case ViewInbox:
		return t.DueDate == nil && t.Priority == 0 && t.Status == domain.TaskStatusNotStarted
	default:
		return true
	}
}

func (p Policy) visibleOccurrence(view View, t *domain.Task) bool {
	if t.DueDate == nil || t.Status == domain.TaskStatusCancelled || t.Status == domain.TaskStatusArchived {
		return false
	}

	switch view {
	case ViewToday:
		if t.IsTemplate() {
			return false
		}
		return !t.DueDate.Before(p.today) && t.DueDate.Before(p.tomorrow)
	case ViewUpcoming:
		return !t.DueDate.Before(p.tomorrow)
	default:
		return false
	}
}

// Counters are aggregate numbers over the default view, so totals match what
// that view renders.
type Counters struct {
	Total    int
	Active   int
	Done     int
	Overdue  int
	ByStatus map[domain.TaskStatus]int
}

func (p Policy) Count(tasks []*domain.Task) Counters {
	c := Counters{ByStatus: make(map[domain.TaskStatus]int)}
	for _, item := range p.Filter(ViewAll, tasks) {
		t := item.Task
		c.Total++
		c.ByStatus[t.Status]++
		switch {
		case t.Status.IsActive():
			c.Active++
			if t.DueDate != nil && t.DueDate.Before(p.today) {
				c.Overdue++
			}
		case t.Status == domain.TaskStatusDone:
			c.Done++
		}
	}
	return c
}
