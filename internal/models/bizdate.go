package models

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// DateLayout is the wire format of a business day
const DateLayout = "2006-01-02"

// BusinessDate returns the calendar day t falls on in the business timezone
func BusinessDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// ParseBusinessDate validates a YYYY-MM-DD day
func ParseBusinessDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return d, nil
}

// DayBounds returns [start, end) of the business day in loc. Days that cross a
// DST change are 23 or 25 hours long.
func DayBounds(date string, loc *time.Location) (time.Time, time.Time, error) {
	d, err := ParseBusinessDate(date)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	end := time.Date(d.Year(), d.Month(), d.Day()+1, 0, 0, 0, 0, loc)
	return start, end, nil
}
