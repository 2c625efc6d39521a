// Package reminder holds the domain model of the reminder service: who gets
// reminded, about which medicines, and at which wall-clock times.
package reminder

import (
	"fmt"
	"strings"
)

// Recipient is the person a reminder is delivered to. Immutable once a
// schedule is created. The phone number identifies the recipient in logs;
// duplicates are allowed and treated independently.
type Recipient struct {
	Name  string
	Phone string
}

// Medicine describes one medicine entry inside a schedule.
type Medicine struct {
	Name   string
	Dosage string
	Type   string
	Notes  string // empty means not provided
	Image  string // optional media URL shown with the chat message
}

// Registration is one schedule-creation request as accepted from the API
// layer: a recipient, the raw HH:MM time strings, the medicine list, and an
// optional custom audio reference for the voice call.
type Registration struct {
	Recipient Recipient
	Times     []string
	Medicines []Medicine
	AudioRef  string
}

// ValidationError rejects a registration before any state is mutated.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid registration: " + e.Reason
}

// TimeOfDay is a minute-granularity wall-clock time in the local day,
// usable as a map key.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay strictly parses "HH:MM" in 24-hour time. Anything that is
// not exactly two colon-separated decimal fields in range is rejected; there
// is deliberately no lenient fallback.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	raw := strings.TrimSpace(s)
	if len(raw) != 5 || raw[2] != ':' {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, ok1 := twoDigits(raw[0], raw[1])
	m, ok2 := twoDigits(raw[3], raw[4])
	if !ok1 || !ok2 || h > 23 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM in 00:00..23:59", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func twoDigits(a, b byte) (int, bool) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, false
	}
	return int(a-'0')*10 + int(b-'0'), true
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Valid reports whether t is a real time of day. Keys are constructed via
// ParseTimeOfDay in normal operation, so an invalid key reaching the
// scheduler indicates a bug upstream.
func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}
