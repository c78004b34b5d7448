package domain

import (
	"strconv"
	"strings"
	"time"
)

// EventDateTime combines an event's calendar date with its "HH:MM" or
// "HH:MM:SS" time-of-day string into a single instant. Malformed components
// default to zero, so a missing time means midnight.
func EventDateTime(date time.Time, timeOfDay string) time.Time {
	var hours, minutes, seconds int

	parts := strings.Split(timeOfDay, ":")
	if len(parts) > 0 {
		hours, _ = strconv.Atoi(strings.TrimSpace(parts[0]))
	}
	if len(parts) > 1 {
		minutes, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
	}
	if len(parts) > 2 {
		seconds, _ = strconv.Atoi(strings.TrimSpace(parts[2]))
	}

	return time.Date(
		date.Year(), date.Month(), date.Day(),
		hours, minutes, seconds, 0,
		date.Location(),
	)
}

// HasStarted reports whether the event's combined date+time instant has
// passed. It gates both booking and cancellation.
func HasStarted(date time.Time, timeOfDay string, now time.Time) bool {
	return !now.Before(EventDateTime(date, timeOfDay))
}

// DeriveEventStatus computes the event status from its date and time:
// before the combined instant the event is Upcoming, on the same calendar
// day after the instant it is Ongoing, on any later day it is Completed.
func DeriveEventStatus(date time.Time, timeOfDay string, now time.Time) EventStatus {
	if timeOfDay == "" {
		timeOfDay = "00:00"
	}

	if now.Before(EventDateTime(date, timeOfDay)) {
		return EventUpcoming
	}

	ny, nm, nd := now.Date()
	ey, em, ed := date.Date()
	if ny == ey && nm == em && nd == ed {
		return EventOngoing
	}

	return EventCompleted
}
