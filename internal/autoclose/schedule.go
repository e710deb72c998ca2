package autoclose

import (
	"fmt"
	"time"

	"kasa-backend/internal/models"
	"kasa-backend/internal/settings"
)

// Tolerance is the grace period after the expected close before a session is
// force-closed.
const Tolerance = 2 * time.Hour

// ExpectedClose anchors the snapshot's hours to the business day that
// contains openedAt, in the snapshot's time zone.
//
// With EndIsNextDay a session opened after midnight but before the end time
// belongs to the business day that started the previous calendar day. With a
// same-day schedule a session opened after the end time is given the next
// day's end time.
func ExpectedClose(h models.BusinessHours, openedAt time.Time) (time.Time, error) {
	loc := time.UTC
	if h.TimeZone != "" {
		l, err := time.LoadLocation(h.TimeZone)
		if err != nil {
			return time.Time{}, fmt.Errorf("time zone %q: %w", h.TimeZone, err)
		}
		loc = l
	}
	end, err := settings.ParseClock(h.EndTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("end time: %w", err)
	}

	local := openedAt.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	sinceMidnight := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second

	if h.EndIsNextDay {
		if sinceMidnight < end {
			day = day.AddDate(0, 0, -1)
		}
		return atClock(day.AddDate(0, 0, 1), end), nil
	}

	closeAt := atClock(day, end)
	if !closeAt.After(local) {
		closeAt = atClock(day.AddDate(0, 0, 1), end)
	}
	return closeAt, nil
}

// Deadline is the instant after which the session is auto-closed.
func Deadline(s *models.CashSession) (time.Time, error) {
	closeAt, err := ExpectedClose(s.BusinessHoursSnapshot, s.OpenedAt)
	if err != nil {
		return time.Time{}, err
	}
	return closeAt.Add(Tolerance), nil
}

// atClock builds the wall-clock time d after midnight of day, so DST shifts
// do not move the configured hour.
func atClock(day time.Time, d time.Duration) time.Time {
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location())
}
