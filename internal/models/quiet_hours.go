package models

import (
	"fmt"
	"strings"
	"time"
)

// HourRange is a local-time window [Start, End) in whole hours. Start > End
// wraps past midnight; Start == End covers the whole day.
type HourRange struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// Contains reports whether hour falls inside the range.
func (h HourRange) Contains(hour int) bool {
	switch {
	case h.Start == h.End:
		return true
	case h.Start < h.End:
		return hour >= h.Start && hour < h.End
	default:
		return hour >= h.Start || hour < h.End
	}
}

func (h HourRange) validate() error {
	if h.Start < 0 || h.Start > 23 || h.End < 0 || h.End > 23 {
		return fmt.Errorf("hour range %d-%d out of bounds 0-23", h.Start, h.End)
	}
	return nil
}

// QuietHours defines silence windows evaluated in Timezone. Daily ranges apply
// every day; Days adds ranges for specific weekdays keyed by lower-case name
// ("monday", "tue", ...). A wrapping day range such as friday 22-7 covers
// Friday night into Saturday morning.
type QuietHours struct {
	Timezone string                 `json:"timezone,omitempty" yaml:"timezone"`
	Daily    []HourRange            `json:"daily,omitempty" yaml:"daily"`
	Days     map[string][]HourRange `json:"days,omitempty" yaml:"days"`
}

// Validate checks hour bounds, weekday names and the timezone.
func (q *QuietHours) Validate() error {
	if _, err := q.location(); err != nil {
		return err
	}
	for _, r := range q.Daily {
		if err := r.validate(); err != nil {
			return err
		}
	}
	for day, ranges := range q.Days {
		if _, ok := parseWeekday(day); !ok {
			return fmt.Errorf("unknown weekday %q", day)
		}
		for _, r := range ranges {
			if err := r.validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Active reports whether t falls inside any configured window.
func (q *QuietHours) Active(t time.Time) bool {
	if q == nil {
		return false
	}
	loc, err := q.location()
	if err != nil {
		loc = time.UTC
	}
	local := t.In(loc)
	hour := local.Hour()
	for _, r := range q.Daily {
		if r.Contains(hour) {
			return true
		}
	}
	today := local.Weekday()
	yesterday := (today + 6) % 7
	for day, ranges := range q.Days {
		wd, ok := parseWeekday(day)
		if !ok || (wd != today && wd != yesterday) {
			continue
		}
		for _, r := range ranges {
			if r.coversDay(wd, today, yesterday, hour) {
				return true
			}
		}
	}
	return false
}

// coversDay reports whether a range configured for weekday wd covers hour on
// today. A wrapping range belongs to the night that starts on wd, so its
// early-morning tail falls on the following day.
func (h HourRange) coversDay(wd, today, yesterday time.Weekday, hour int) bool {
	if h.Start <= h.End {
		return wd == today && h.Contains(hour)
	}
	if wd == today && hour >= h.Start {
		return true
	}
	return wd == yesterday && hour < h.End
}

func (q *QuietHours) location() (*time.Location, error) {
	if q.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", q.Timezone, err)
	}
	return loc, nil
}

func parseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || (len(s) == 3 && strings.HasPrefix(name, s)) {
			return d, true
		}
	}
	return 0, false
}
