package feedsync

import (
	"time"

	"golang.org/x/exp/slices"
)

// a scheduled macro release on the economic calendar
type EconomicEvent struct {
	EventId   Id        `json:"event_id"`
	Currency  string    `json:"currency"`
	Impact    string    `json:"impact,omitempty"`
	Title     string    `json:"title"`
	Actual    string    `json:"actual,omitempty"`
	Forecast  string    `json:"forecast,omitempty"`
	Previous  string    `json:"previous,omitempty"`
	EventTime time.Time `json:"event_time"`
}

func (self EconomicEvent) RecordId() Id {
	return self.EventId
}

// an event belongs in the window when its time falls inside the query
// range and its currency is in the filter set. an empty filter set
// selects zero events.
func EconomicEventRelevance(event EconomicEvent, query FeedQuery) bool {
	if event.EventTime.Before(query.RangeStart) || event.EventTime.After(query.RangeEnd) {
		return false
	}
	return slices.Contains(query.Filters, event.Currency)
}

// a journal note with an optional reminder time or weekly recurrence
type ReminderNote struct {
	NoteId     Id        `json:"note_id"`
	Title      string    `json:"title"`
	Body       string    `json:"body,omitempty"`
	IsPinned   bool      `json:"is_pinned"`
	IsArchived bool      `json:"is_archived"`
	RemindAt   time.Time `json:"remind_at,omitempty"`
	// 0 = Sunday .. 6 = Saturday
	RepeatWeekdays []time.Weekday `json:"repeat_weekdays,omitempty"`
	CreatedAt      time.Time      `json:"created_at,omitempty"`
}

func (self ReminderNote) RecordId() Id {
	return self.NoteId
}

// a note belongs in the window when it is not archived and either its
// reminder time falls inside the query range or its weekly recurrence
// includes the current weekday.
//
// the weekday is read at event-handling time, not at query
// construction time. a session that crosses midnight sees "today's"
// recurring notes change meaning live, which is what a dashboard
// wants.
func ReminderNoteRelevance(note ReminderNote, query FeedQuery) bool {
	return reminderNoteRelevantAt(note, query, time.Now())
}

func reminderNoteRelevantAt(note ReminderNote, query FeedQuery, now time.Time) bool {
	if note.IsArchived {
		return false
	}
	if !note.RemindAt.IsZero() &&
		!note.RemindAt.Before(query.RangeStart) &&
		!note.RemindAt.After(query.RangeEnd) {
		return true
	}
	return slices.Contains(note.RepeatWeekdays, now.Weekday())
}
