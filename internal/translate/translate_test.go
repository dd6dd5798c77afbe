package translate

import (
	"testing"
	"time"

	"calsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
)

func dateOnly(year int, month time.Month, day int) *time.Time {
	t := time.Date(year, month, day, 0, 0, 0, models.DateOnlyMarkerMillis*int(time.Millisecond), time.UTC)
	return &t
}

func timedAt(t time.Time) *time.Time { return &t }

func TestTaskToEventAllDay(t *testing.T) {
	task := &models.Task{
		ID:      "task-1",
		UserID:  "u1",
		Title:   "Pay rent",
		Details: "Before noon",
		DueAt:   dateOnly(2026, time.September, 14),
	}

	event, err := TaskToEvent(task)
	require.NoError(t, err)

	assert.Equal(t, "Pay rent", event.Summary)
	assert.Equal(t, "Before noon", event.Description)
	assert.Equal(t, "2026-09-14", event.Start.Date)
	assert.Equal(t, "2026-09-15", event.End.Date)
	assert.Empty(t, event.Start.DateTime)
	assert.Equal(t, "task-1", event.ExtendedProperties.Private[PropTaskID])
	assert.Equal(t, "u1", event.ExtendedProperties.Private[PropUserID])
}

func TestTaskToEventTimed(t *testing.T) {
	due := time.Date(2026, time.September, 14, 15, 30, 0, 0, time.UTC)
	task := &models.Task{ID: "task-1", UserID: "u1", Title: "Call dentist", DueAt: timedAt(due)}

	event, err := TaskToEvent(task)
	require.NoError(t, err)

	assert.Equal(t, due.Format(time.RFC3339), event.Start.DateTime)
	assert.Equal(t, due.Add(models.TimedEventDuration).Format(time.RFC3339), event.End.DateTime)
	assert.Empty(t, event.Start.Date)
}

func TestTaskToEventNoDueDate(t *testing.T) {
	_, err := TaskToEvent(&models.Task{ID: "task-1"})
	assert.Error(t, err)
}

func TestTaskToEventParentProperty(t *testing.T) {
	parent := "parent-1"
	task := &models.Task{
		ID:           "task-1",
		UserID:       "u1",
		ParentTaskID: &parent,
		DueAt:        dateOnly(2026, time.September, 14),
	}
	event, err := TaskToEvent(task)
	require.NoError(t, err)
	assert.Equal(t, "parent-1", event.ExtendedProperties.Private[PropParentTaskID])
}

func TestRecurrence(t *testing.T) {
	until := time.Date(2026, time.December, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		task models.Task
		want string
	}{
		{"none", models.Task{Recurrence: models.RecurrenceNone}, ""},
		{"daily", models.Task{Recurrence: models.RecurrenceDaily}, "RRULE:FREQ=DAILY"},
		{"weekly", models.Task{Recurrence: models.RecurrenceWeekly}, "RRULE:FREQ=WEEKLY"},
		{"biweekly", models.Task{Recurrence: models.RecurrenceBiweekly}, "RRULE:FREQ=WEEKLY;INTERVAL=2"},
		{
			"custom",
			models.Task{Recurrence: models.RecurrenceCustom, RecurrenceUnit: "monthly", RecurrenceInterval: 3},
			"RRULE:FREQ=MONTHLY;INTERVAL=3",
		},
		{
			"custom without unit",
			models.Task{Recurrence: models.RecurrenceCustom},
			"",
		},
		{
			"daily with until",
			models.Task{Recurrence: models.RecurrenceDaily, RecurrenceUntil: &until},
			"RRULE:FREQ=DAILY;UNTIL=20261231T000000Z",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Recurrence(&tt.task))
		})
	}
}

func TestEventDueAtAllDayRoundTrip(t *testing.T) {
	task := &models.Task{ID: "task-1", UserID: "u1", DueAt: dateOnly(2026, time.September, 14)}
	event, err := TaskToEvent(task)
	require.NoError(t, err)

	due, err := EventDueAt(event)
	require.NoError(t, err)
	require.NotNil(t, due)

	// Day granularity round-trips; the marker is reapplied.
	assert.Equal(t, 2026, due.Year())
	assert.Equal(t, time.September, due.Month())
	assert.Equal(t, 14, due.Day())
	reparsed := models.Task{DueAt: due}
	assert.True(t, reparsed.IsDateOnly())
}

func TestEventDueAtTimedRoundTrip(t *testing.T) {
	due := time.Date(2026, time.September, 14, 9, 15, 0, 0, time.UTC)
	event, err := TaskToEvent(&models.Task{ID: "task-1", UserID: "u1", DueAt: timedAt(due)})
	require.NoError(t, err)

	got, err := EventDueAt(event)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equal(due))
}

func TestEventDueAtMissingStart(t *testing.T) {
	due, err := EventDueAt(&calendar.Event{})
	require.NoError(t, err)
	assert.Nil(t, due)
}

func TestTaskIDFromEvent(t *testing.T) {
	assert.Empty(t, TaskIDFromEvent(&calendar.Event{}))

	event := &calendar.Event{
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{PropTaskID: "task-1"},
		},
	}
	assert.Equal(t, "task-1", TaskIDFromEvent(event))
}
