// Package daytime models wall-clock times of day ("HH:MM") and anchors them
// to calendar days in a given location.
package daytime

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a minute-precision time of day.
type Clock struct {
	Hour   int
	Minute int
}

func Parse(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return Clock{}, fmt.Errorf("invalid time of day %q (want HH:MM)", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return Clock{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return Clock{}, fmt.Errorf("invalid minute in %q", s)
	}
	return Clock{Hour: h, Minute: m}, nil
}

// MustParse is for package-level defaults only.
func MustParse(s string) Clock {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Minutes returns minutes since midnight.
func (c Clock) Minutes() int { return c.Hour*60 + c.Minute }

func (c Clock) Before(o Clock) bool { return c.Minutes() < o.Minutes() }

// On returns the instant of c on the calendar day of t, in t's location.
func (c Clock) On(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, c.Hour, c.Minute, 0, 0, t.Location())
}

// CronSpec renders a five-field cron expression firing daily at c.
func (c Clock) CronSpec() string { return fmt.Sprintf("%d %d * * *", c.Minute, c.Hour) }
