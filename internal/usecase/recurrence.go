package usecase

import (
	"fmt"
	"strings"
	"time"

	"github.com/eliteGoblin/lockmeout/internal/domain"
)

// Accepted wall-clock layouts, tried in order: "8pm", "8:30pm", "20:00",
// "20:30:05".
var timeOfDayLayouts = []string{"3pm", "3:04pm", "15:04", "15:04:05"}

const (
	canonicalLayout      = "15:04"
	occurrenceDateLayout = "2006-01-02"
)

// ParseTimeOfDay parses a user-supplied time of day string and returns it
// in canonical "HH:MM" form. Returns domain.ErrInvalidTime for anything
// unrecognized.
func ParseTimeOfDay(s string) (string, error) {
	cleaned := strings.ToLower(strings.ReplaceAll(s, " ", ""))
	for _, layout := range timeOfDayLayouts {
		t, err := time.Parse(layout, cleaned)
		if err == nil {
			return t.Format(canonicalLayout), nil
		}
	}
	return "", fmt.Errorf("%w: %q", domain.ErrInvalidTime, s)
}

// timeOfDayAt projects a canonical "HH:MM" onto the calendar date of ref,
// in ref's location. DST note: the projection happens at materialization
// time, so a window landing exactly on a clock shift may fire at a shifted
// offset.
func timeOfDayAt(tod string, ref time.Time) (time.Time, error) {
	t, err := time.Parse(canonicalLayout, tod)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", domain.ErrInvalidTime, tod)
	}
	return time.Date(ref.Year(), ref.Month(), ref.Day(),
		t.Hour(), t.Minute(), 0, 0, ref.Location()), nil
}

// Occurrence is one absolute projection of a schedule's wall-clock window.
type Occurrence struct {
	Start time.Time
	End   time.Time
	Date  string // "YYYY-MM-DD" in the schedule's local day
}

// NextOccurrence computes the next occurrence of the schedule's window
// relative to now: today's projection while today's window has not fully
// elapsed, otherwise tomorrow's. Elapsed windows are never returned; a
// window missed while the daemon was down stays missed.
func NextOccurrence(schedule domain.Schedule, now time.Time) (Occurrence, error) {
	occ, err := occurrenceOn(schedule, now)
	if err != nil {
		return Occurrence{}, err
	}
	if !now.Before(occ.End) {
		// Today's window fully elapsed; project onto tomorrow.
		return occurrenceOn(schedule, now.AddDate(0, 0, 1))
	}
	return occ, nil
}

func occurrenceOn(schedule domain.Schedule, day time.Time) (Occurrence, error) {
	start, err := timeOfDayAt(schedule.StartTime, day)
	if err != nil {
		return Occurrence{}, err
	}
	end, err := timeOfDayAt(schedule.EndTime, day)
	if err != nil {
		return Occurrence{}, err
	}
	if !end.After(start) {
		return Occurrence{}, domain.ErrInvalidWindow
	}
	return Occurrence{
		Start: start,
		End:   end,
		Date:  day.Format(occurrenceDateLayout),
	}, nil
}

// validateWindow checks a canonical "HH:MM" pair without projecting onto a
// date. Used by AddSchedule before anything is persisted.
func validateWindow(startTOD, endTOD string) error {
	ref := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	start, err := timeOfDayAt(startTOD, ref)
	if err != nil {
		return err
	}
	end, err := timeOfDayAt(endTOD, ref)
	if err != nil {
		return err
	}
	if !end.After(start) {
		return domain.ErrInvalidWindow
	}
	return nil
}
