package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HoursWindow is one weekly availability window, e.g. Monday 09:00-17:00.
// Times are local to the tenant's timezone.
type HoursWindow struct {
	// Day is the lowercase English weekday name ("monday" .. "sunday").
	Day string `yaml:"day"`

	// Start and End are "HH:MM" clock times. End is exclusive. A window
	// with End before Start is invalid (overnight windows are expressed as
	// two windows).
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// validate checks day name and time format.
func (w HoursWindow) validate() error {
	if _, ok := weekdays[strings.ToLower(w.Day)]; !ok {
		return fmt.Errorf("day %q is not a weekday name", w.Day)
	}
	start, err := parseClock(w.Start)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	end, err := parseClock(w.End)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}
	if end <= start {
		return fmt.Errorf("end %q is not after start %q", w.End, w.Start)
	}
	return nil
}

// contains reports whether the local time t falls inside the window.
func (w HoursWindow) contains(t time.Time) bool {
	if weekdays[strings.ToLower(w.Day)] != t.Weekday() {
		return false
	}
	start, err1 := parseClock(w.Start)
	end, err2 := parseClock(w.End)
	if err1 != nil || err2 != nil {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	return minute >= start && minute < end
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("clock time %q is not HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("clock time %q has invalid hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock time %q has invalid minute", s)
	}
	return h*60 + m, nil
}

// OpenAt reports whether the tenant is inside working hours at instant t.
// A tenant without working hours is always open. An unknown timezone falls
// back to UTC.
func (t *Tenant) OpenAt(at time.Time) bool {
	return openAt(t.WorkingHours, t.Timezone, at)
}

// OpenFor reports whether the destination is available at instant t. A
// destination with its own windows is judged by those alone; otherwise the
// tenant's hours apply. Windows are local to the tenant's timezone either
// way.
func (t *Tenant) OpenFor(d *TransferDestination, at time.Time) bool {
	if len(d.WorkingHours) > 0 {
		return openAt(d.WorkingHours, t.Timezone, at)
	}
	return t.OpenAt(at)
}

func openAt(windows []HoursWindow, timezone string, at time.Time) bool {
	if len(windows) == 0 {
		return true
	}
	loc := time.UTC
	if timezone != "" {
		if l, err := time.LoadLocation(timezone); err == nil {
			loc = l
		}
	}
	local := at.In(loc)
	for _, w := range windows {
		if w.contains(local) {
			return true
		}
	}
	return false
}
