// Package translate maps between the internal task representation and the
// Google Calendar event representation. Everything here is pure: no clocks,
// no I/O, no stored state.
package translate

import (
	"fmt"
	"strings"
	"time"

	"calsync/internal/models"

	"google.golang.org/api/calendar/v3"
)

// Private extended property keys used for reverse lookup of events.
const (
	PropTaskID       = "calsync_task_id"
	PropUserID       = "calsync_user_id"
	PropParentTaskID = "calsync_parent_task_id"
)

const (
	dateLayout     = "2006-01-02"
	rruleTimestamp = "20060102T150405Z"
)

// TaskToEvent builds the calendar event payload for a task. Date-only due
// dates become all-day events spanning [date, date+1); timed due dates
// become a fixed 30-minute event.
func TaskToEvent(task *models.Task) (*calendar.Event, error) {
	if task.DueAt == nil {
		return nil, fmt.Errorf("task %s has no due date", task.ID)
	}

	event := &calendar.Event{
		Summary:     task.Title,
		Description: task.Details,
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{
				PropTaskID: task.ID,
				PropUserID: task.UserID,
			},
		},
	}
	if task.ParentTaskID != nil {
		event.ExtendedProperties.Private[PropParentTaskID] = *task.ParentTaskID
	}

	due := task.DueAt.UTC()
	if task.IsDateOnly() {
		day := time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
		event.Start = &calendar.EventDateTime{Date: day.Format(dateLayout)}
		event.End = &calendar.EventDateTime{Date: day.AddDate(0, 0, 1).Format(dateLayout)}
	} else {
		event.Start = &calendar.EventDateTime{DateTime: due.Format(time.RFC3339)}
		event.End = &calendar.EventDateTime{DateTime: due.Add(models.TimedEventDuration).Format(time.RFC3339)}
	}

	if rule := Recurrence(task); rule != "" {
		event.Recurrence = []string{rule}
	}

	return event, nil
}

// Recurrence renders the task's recurrence as a single RRULE string, or ""
// for non-repeating tasks.
func Recurrence(task *models.Task) string {
	var rule string
	switch task.Recurrence {
	case models.RecurrenceDaily:
		rule = "RRULE:FREQ=DAILY"
	case models.RecurrenceWeekly:
		rule = "RRULE:FREQ=WEEKLY"
	case models.RecurrenceBiweekly:
		rule = "RRULE:FREQ=WEEKLY;INTERVAL=2"
	case models.RecurrenceCustom:
		unit := strings.ToUpper(strings.TrimSpace(task.RecurrenceUnit))
		if unit == "" {
			return ""
		}
		interval := task.RecurrenceInterval
		if interval < 1 {
			interval = 1
		}
		rule = fmt.Sprintf("RRULE:FREQ=%s;INTERVAL=%d", unit, interval)
	default:
		return ""
	}

	if task.RecurrenceUntil != nil {
		rule += ";UNTIL=" + task.RecurrenceUntil.UTC().Format(rruleTimestamp)
	}
	return rule
}

// EventDueAt is the inverse of TaskToEvent for the date fields. All-day
// events map back to midnight carrying the date-only marker; timed events
// map back exactly.
func EventDueAt(event *calendar.Event) (*time.Time, error) {
	if event.Start == nil {
		return nil, nil
	}

	if event.Start.Date != "" {
		day, err := time.Parse(dateLayout, event.Start.Date)
		if err != nil {
			return nil, fmt.Errorf("parse all-day start %q: %w", event.Start.Date, err)
		}
		due := day.Add(models.DateOnlyMarkerMillis * time.Millisecond)
		return &due, nil
	}

	if event.Start.DateTime != "" {
		due, err := time.Parse(time.RFC3339, event.Start.DateTime)
		if err != nil {
			return nil, fmt.Errorf("parse start %q: %w", event.Start.DateTime, err)
		}
		due = due.UTC()
		return &due, nil
	}

	return nil, nil
}

// TaskIDFromEvent extracts the embedded task id, or "" when the event was
// not created by this engine.
func TaskIDFromEvent(event *calendar.Event) string {
	if event.ExtendedProperties == nil || event.ExtendedProperties.Private == nil {
		return ""
	}
	return event.ExtendedProperties.Private[PropTaskID]
}
