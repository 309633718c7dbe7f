package chains

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DaySchedule is the sending window for one weekday. Times are "HH:MM" in the
// business timezone; an End before Start wraps past midnight.
type DaySchedule struct {
	Day     time.Weekday `json:"day"`
	Enabled bool         `json:"enabled"`
	Start   string       `json:"start"`
	End     string       `json:"end"`
}

// WeeklySchedule holds up to seven DaySchedules. An empty schedule is always
// open; a weekday without an entry is closed.
type WeeklySchedule []DaySchedule

// Open reports whether t falls inside the window, evaluated in loc.
func (w WeeklySchedule) Open(t time.Time, loc *time.Location) bool {
	if len(w) == 0 {
		return true
	}
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	minute := local.Hour()*60 + local.Minute()

	today, ok := w.day(local.Weekday())
	if ok && today.Enabled {
		start, end, err := today.bounds()
		if err == nil {
			switch {
			case start == end:
				return true
			case start < end:
				if minute >= start && minute <= end {
					return true
				}
			default:
				if minute >= start {
					return true
				}
			}
		}
	}

	// Overnight window carried over from yesterday.
	yesterday, ok := w.day((local.Weekday() + 6) % 7)
	if ok && yesterday.Enabled {
		start, end, err := yesterday.bounds()
		if err == nil && end < start && minute < end {
			return true
		}
	}
	return false
}

func (w WeeklySchedule) day(d time.Weekday) (DaySchedule, bool) {
	for _, ds := range w {
		if ds.Day == d {
			return ds, true
		}
	}
	return DaySchedule{}, false
}

func (d DaySchedule) bounds() (int, int, error) {
	start, err := parseClock(d.Start)
	if err != nil {
		return 0, 0, err
	}
	end, err := parseClock(d.End)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseClock converts "HH:MM" to minutes after midnight. "24:00" is accepted
// as the end of the day.
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if h < 0 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	return h*60 + m, nil
}
