package calendar

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// WeekdaySet is a bit set of weekdays.
type WeekdaySet uint8

// AllDays contains every weekday.
const AllDays WeekdaySet = 1<<7 - 1

var weekdayTags = map[string]WeekdaySet{
	"sun": 1 << time.Sunday, "sunday": 1 << time.Sunday,
	"mon": 1 << time.Monday, "monday": 1 << time.Monday,
	"tue": 1 << time.Tuesday, "tues": 1 << time.Tuesday, "tuesday": 1 << time.Tuesday,
	"wed": 1 << time.Wednesday, "wednesday": 1 << time.Wednesday,
	"thu": 1 << time.Thursday, "thur": 1 << time.Thursday, "thurs": 1 << time.Thursday, "thursday": 1 << time.Thursday,
	"fri": 1 << time.Friday, "friday": 1 << time.Friday,
	"sat": 1 << time.Saturday, "saturday": 1 << time.Saturday,
	"daily":    AllDays,
	"weekdays": 1<<time.Monday | 1<<time.Tuesday | 1<<time.Wednesday | 1<<time.Thursday | 1<<time.Friday,
	"weekends": 1<<time.Saturday | 1<<time.Sunday,
}

// ParseWeekday resolves a day tag such as "Mon", "monday" or "weekdays".
func ParseWeekday(tag string) (WeekdaySet, error) {
	set, ok := weekdayTags[strings.ToLower(strings.TrimSpace(tag))]
	if !ok {
		return 0, fmt.Errorf("unknown day %q", tag)
	}
	return set, nil
}

// WeekdaysOf builds a set from explicit weekdays.
func WeekdaysOf(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << d
	}
	return s
}

// Has reports whether d is in the set.
func (s WeekdaySet) Has(d time.Weekday) bool { return s&(1<<d) != 0 }

// Empty reports whether no weekday is set.
func (s WeekdaySet) Empty() bool { return s == 0 }

// Days lists the members Monday first.
func (s WeekdaySet) Days() []time.Weekday {
	out := make([]time.Weekday, 0, 7)
	for i := 1; i <= 7; i++ {
		d := time.Weekday(i % 7)
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// Tags returns the three-letter tags Monday first.
func (s WeekdaySet) Tags() []string {
	days := s.Days()
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = d.String()[:3]
	}
	return out
}

// MarshalJSON renders the set as a list of day tags.
func (s WeekdaySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Tags())
}

// UnmarshalJSON accepts a list of day tags.
func (s *WeekdaySet) UnmarshalJSON(b []byte) error {
	var tags []string
	if err := json.Unmarshal(b, &tags); err != nil {
		return err
	}
	var out WeekdaySet
	for _, tag := range tags {
		set, err := ParseWeekday(tag)
		if err != nil {
			return err
		}
		out |= set
	}
	*s = out
	return nil
}
