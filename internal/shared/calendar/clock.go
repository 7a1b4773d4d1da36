package calendar

import (
	"fmt"
	"time"
)

// Clock is a wall-clock time expressed in minutes after midnight.
type Clock int

// ClockOf builds a Clock from hours and minutes.
func ClockOf(hour, minute int) Clock { return Clock(hour*60 + minute) }

// ClockFromTime returns the wall clock of t in its own location.
func ClockFromTime(t time.Time) Clock { return ClockOf(t.Hour(), t.Minute()) }

// ParseClock parses an HH:MM string.
func ParseClock(s string) (Clock, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid clock %q: out of range", s)
	}
	return ClockOf(h, m), nil
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

// Add returns c shifted by n minutes.
func (c Clock) Add(n int) Clock { return c + Clock(n) }

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute()) }

// MarshalText implements encoding.TextMarshaler.
func (c Clock) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
