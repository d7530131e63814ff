/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

// Package sentence holds the arrival timestamp and log record formatting shared by all
// instrument drivers.
package sentence

import (
	"fmt"
	"strings"
	"time"
)

// DefaultInstallYear is the earliest year a record may carry
const DefaultInstallYear = 2017

// Timestamp is the broken down arrival time of a sentence
type Timestamp struct {
	Year        int
	DayOfYear   int
	Month       int
	Day         int
	Hour        int
	Minute      int
	Second      int
	Millisecond int
}

// Now returns the current UTC arrival timestamp
func Now() Timestamp {
	return FromTime(time.Now())
}

// FromTime converts t to a UTC Timestamp
func FromTime(t time.Time) Timestamp {
	t = t.UTC()
	return Timestamp{
		Year:        t.Year(),
		DayOfYear:   t.YearDay(),
		Month:       int(t.Month()),
		Day:         t.Day(),
		Hour:        t.Hour(),
		Minute:      t.Minute(),
		Second:      t.Second(),
		Millisecond: t.Nanosecond() / int(time.Millisecond),
	}
}

// Plausible reports whether the timestamp is not earlier than installYear. An unset
// system clock usually reports 1970.
func (ts Timestamp) Plausible(installYear int) bool {
	return ts.Year >= installYear
}

// Time converts the timestamp back to a UTC time
func (ts Timestamp) Time() time.Time {
	return time.Date(ts.Year, time.Month(ts.Month), ts.Day, ts.Hour, ts.Minute, ts.Second, ts.Millisecond*int(time.Millisecond), time.UTC)
}

// String formats the timestamp as the leading columns of a log record
func (ts Timestamp) String() string {
	return fmt.Sprintf("%04d %03d %02d %02d %02d %03d",
		ts.Year, ts.DayOfYear, ts.Hour, ts.Minute, ts.Second, ts.Millisecond)
}

// Record formats one log line without terminator: timestamp, lowercased stream name,
// then fields separated by single spaces.
func Record(ts Timestamp, stream string, fields ...string) string {
	var b strings.Builder
	b.WriteString(ts.String())
	b.WriteByte(' ')
	b.WriteString(strings.ToLower(stream))
	for _, f := range fields {
		b.WriteByte(' ')
		b.WriteString(f)
	}
	return b.String()
}
