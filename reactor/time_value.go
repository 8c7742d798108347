// File: reactor/time_value.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Normalised (seconds, microseconds) value used for timer intervals and
// select(2) timeouts.

package reactor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

const usecPerSec = 1_000_000

// TimeValue is an immutable duration or timestamp with microsecond resolution.
// Both components always carry the same sign and |usec| < 1_000_000.
type TimeValue struct {
	sec  int64
	usec int64
}

// ZeroTime is the additive identity.
var ZeroTime = TimeValue{}

// NewTimeValue builds a normalised TimeValue.
func NewTimeValue(sec, usec int64) TimeValue {
	sec, usec = normalize(sec, usec)
	return TimeValue{sec: sec, usec: usec}
}

// FromDuration converts a time.Duration, truncating to microseconds.
func FromDuration(d time.Duration) TimeValue {
	return NewTimeValue(0, d.Microseconds())
}

// FromTimeval converts a platform timeval.
func FromTimeval(tv unix.Timeval) TimeValue {
	return NewTimeValue(int64(tv.Sec), int64(tv.Usec))
}

// Now samples the system clock truncated to microsecond resolution.
func Now() TimeValue {
	ns := time.Now().UnixNano()
	return NewTimeValue(ns/int64(time.Second), (ns%int64(time.Second))/int64(time.Microsecond))
}

func normalize(sec, usec int64) (int64, int64) {
	if usec >= usecPerSec || usec <= -usecPerSec {
		sec += usec / usecPerSec
		usec %= usecPerSec
	}
	switch {
	case sec > 0 && usec < 0:
		sec--
		usec += usecPerSec
	case sec < 0 && usec > 0:
		sec++
		usec -= usecPerSec
	}
	return sec, usec
}

func (tv TimeValue) Sec() int64  { return tv.sec }
func (tv TimeValue) Usec() int64 { return tv.usec }

// TotalMicroseconds returns the signed value in microseconds.
func (tv TimeValue) TotalMicroseconds() int64 {
	return tv.sec*usecPerSec + tv.usec
}

func (tv TimeValue) Duration() time.Duration {
	return time.Duration(tv.TotalMicroseconds()) * time.Microsecond
}

// Timeval converts to the platform representation expected by select(2).
func (tv TimeValue) Timeval() unix.Timeval {
	return unix.NsecToTimeval(tv.TotalMicroseconds() * int64(time.Microsecond))
}

func (tv TimeValue) Add(o TimeValue) TimeValue {
	return NewTimeValue(tv.sec+o.sec, tv.usec+o.usec)
}

func (tv TimeValue) Sub(o TimeValue) TimeValue {
	return NewTimeValue(tv.sec-o.sec, tv.usec-o.usec)
}

// Cmp returns -1, 0 or +1 comparing seconds first, then microseconds.
func (tv TimeValue) Cmp(o TimeValue) int {
	switch {
	case tv.sec < o.sec:
		return -1
	case tv.sec > o.sec:
		return 1
	case tv.usec < o.usec:
		return -1
	case tv.usec > o.usec:
		return 1
	}
	return 0
}

func (tv TimeValue) Less(o TimeValue) bool      { return tv.Cmp(o) < 0 }
func (tv TimeValue) LessEqual(o TimeValue) bool { return tv.Cmp(o) <= 0 }
func (tv TimeValue) Equal(o TimeValue) bool     { return tv == o }

func (tv TimeValue) String() string {
	if tv.sec < 0 || tv.usec < 0 {
		return fmt.Sprintf("-%d.%06ds", -tv.sec, -tv.usec)
	}
	return fmt.Sprintf("%d.%06ds", tv.sec, tv.usec)
}
