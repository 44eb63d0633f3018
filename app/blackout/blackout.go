package blackout

import (
	"fmt"
	"time"
)

const minutesPerDay = 24 * 60

// TimeOfDay is a wall-clock time in minutes since midnight.
type TimeOfDay int

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, expected HH:MM", s)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

func Of(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// IsBlackout reports whether tod falls in the window [start, end).
// A window with start >= end wraps midnight.
func IsBlackout(tod, start, end TimeOfDay) bool {
	if start < end {
		return start <= tod && tod < end
	}
	return tod >= start || tod < end
}

// Window is a daily blackout range evaluated in a fixed location.
// The zero Window never blacks out.
type Window struct {
	Start    TimeOfDay
	End      TimeOfDay
	Enabled  bool
	Location *time.Location
}

// NewWindow builds a window from "HH:MM" bounds. Two empty bounds disable it.
func NewWindow(start, end string, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	if start == "" && end == "" {
		return Window{Location: loc}, nil
	}
	if start == "" || end == "" {
		return Window{}, fmt.Errorf("blackout start and end must be set together")
	}

	s, err := ParseTimeOfDay(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseTimeOfDay(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: s, End: e, Enabled: true, Location: loc}, nil
}

func (w Window) location() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}

func (w Window) Contains(t time.Time) bool {
	if !w.Enabled {
		return false
	}
	return IsBlackout(Of(t.In(w.location())), w.Start, w.End)
}

// FullDay reports whether the window covers every minute of the day.
func (w Window) FullDay() bool {
	return w.Enabled && w.Start == w.End
}

// NextActive returns the first instant at or after t outside the window.
// It returns false when the window covers the whole day.
func (w Window) NextActive(t time.Time) (time.Time, bool) {
	if !w.Contains(t) {
		return t, true
	}
	if w.FullDay() {
		return time.Time{}, false
	}

	local := t.In(w.location())
	end := time.Date(local.Year(), local.Month(), local.Day(), int(w.End)/60, int(w.End)%60, 0, 0, w.location())
	if !end.After(local) {
		end = time.Date(local.Year(), local.Month(), local.Day()+1, int(w.End)/60, int(w.End)%60, 0, 0, w.location())
	}
	return end, true
}

// BlackoutMinutes is the length of the window in minutes.
func (w Window) BlackoutMinutes() int {
	if !w.Enabled {
		return 0
	}
	if w.Start < w.End {
		return int(w.End - w.Start)
	}
	return minutesPerDay - int(w.Start-w.End)
}

func (w Window) ActiveMinutes() int {
	return minutesPerDay - w.BlackoutMinutes()
}

// ActiveHours describes the posting window, e.g. "05:00-23:00".
func (w Window) ActiveHours() string {
	if !w.Enabled {
		return "00:00-24:00"
	}
	if w.FullDay() {
		return ""
	}
	return w.End.String() + "-" + w.Start.String()
}
