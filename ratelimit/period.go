/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"fmt"
	"strings"
	"time"
)

// TimeUnit is a unit in which the window of a limiter is measured.
type TimeUnit string

// Supported time units.
const (
	TimeUnitNanosecond  TimeUnit = "nanosecond"
	TimeUnitMicrosecond TimeUnit = "microsecond"
	TimeUnitMillisecond TimeUnit = "millisecond"
	TimeUnitSecond      TimeUnit = "second"
	TimeUnitMinute      TimeUnit = "minute"
	TimeUnitHour        TimeUnit = "hour"
	TimeUnitDay         TimeUnit = "day"
)

var timeUnitDurations = map[TimeUnit]time.Duration{
	TimeUnitNanosecond:  time.Nanosecond,
	TimeUnitMicrosecond: time.Microsecond,
	TimeUnitMillisecond: time.Millisecond,
	TimeUnitSecond:      time.Second,
	TimeUnitMinute:      time.Minute,
	TimeUnitHour:        time.Hour,
	TimeUnitDay:         24 * time.Hour,
}

// AvailableTimeUnits returns names of all supported time units.
func AvailableTimeUnits() []string {
	return []string{
		string(TimeUnitNanosecond), string(TimeUnitMicrosecond), string(TimeUnitMillisecond),
		string(TimeUnitSecond), string(TimeUnitMinute), string(TimeUnitHour), string(TimeUnitDay),
	}
}

// ParseTimeUnit parses a time unit name. It's case-insensitive and accepts plural forms ("seconds").
func ParseTimeUnit(s string) (TimeUnit, error) {
	u := TimeUnit(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s"))
	if _, ok := timeUnitDurations[u]; !ok {
		return "", fmt.Errorf("unknown time unit %q, should be one of %v", s, AvailableTimeUnits())
	}
	return u, nil
}

// Duration returns the length of the unit.
func (u TimeUnit) Duration() (time.Duration, bool) {
	d, ok := timeUnitDurations[u]
	return d, ok
}

// Period describes the window of a limiter as a number of time units.
type Period struct {
	Unit TimeUnit

	// Count is a number of units in the window. Zero means one unit.
	Count int
}

// PeriodOf returns a period of exactly one unit.
func PeriodOf(unit TimeUnit) Period {
	return Period{Unit: unit, Count: 1}
}

// Duration converts the period to time.Duration.
func (p Period) Duration() (time.Duration, error) {
	unitDuration, ok := p.Unit.Duration()
	if !ok {
		return 0, fmt.Errorf("unknown time unit %q", p.Unit)
	}
	if p.Count < 0 {
		return 0, fmt.Errorf("period count should not be negative, got %d", p.Count)
	}
	count := p.Count
	if count == 0 {
		count = 1
	}
	if int64(count) > int64(1<<63-1)/int64(unitDuration) {
		return 0, fmt.Errorf("period %d %s overflows time.Duration", count, p.Unit)
	}
	return time.Duration(count) * unitDuration, nil
}

// String returns a human-readable form of the period.
func (p Period) String() string {
	count := p.Count
	if count == 0 {
		count = 1
	}
	return fmt.Sprintf("%d %s", count, p.Unit)
}
