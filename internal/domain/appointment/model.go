package appointment

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// Flow distinguishes the two booking pipelines that share the engine.
type Flow string

const (
	FlowPatient Flow = "patient"
	FlowMR      Flow = "mr"
)

func (f Flow) Valid() bool {
	return f == FlowPatient || f == FlowMR
}

// BookingStatus is the lifecycle state of a persisted booking.
type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusCompleted BookingStatus = "completed"
	StatusCancelled BookingStatus = "cancelled"
)

// TimeOfDay is a civil time of day in whole minutes past midnight.
type TimeOfDay int

const minutesPerDay = 24 * 60

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS" (seconds must be zero).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if len(parts) == 3 && parts[2] != "00" {
		return 0, fmt.Errorf("seconds not supported in %q", s)
	}
	return TimeOfDay(h*60 + m), nil
}

// MustTimeOfDay parses s and panics on error. Intended for constants and tests.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// TimeOfDayOf returns the time of day of t in t's location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On anchors the time of day to a calendar date in loc.
func (t TimeOfDay) On(d civil.Date, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, t.Hour(), t.Minute(), 0, 0, loc)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// WindowName tags a working-hour window. The cutoff evaluator blocks whole
// windows by name.
type WindowName string

const (
	WindowMorning WindowName = "morning"
	WindowEvening WindowName = "evening"
	WindowMR      WindowName = "mr"
)

// Window is an inclusive civil-time range of working hours.
type Window struct {
	Name  WindowName `json:"name"`
	Start TimeOfDay  `json:"start"`
	End   TimeOfDay  `json:"end"`
}

// ParseWindow parses "HH:MM-HH:MM".
func ParseWindow(name WindowName, s string) (Window, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return Window{}, fmt.Errorf("invalid window %q: expected HH:MM-HH:MM", s)
	}
	start, err := ParseTimeOfDay(parts[0])
	if err != nil {
		return Window{}, fmt.Errorf("window %q start: %w", s, err)
	}
	end, err := ParseTimeOfDay(parts[1])
	if err != nil {
		return Window{}, fmt.Errorf("window %q end: %w", s, err)
	}
	if end < start {
		return Window{}, fmt.Errorf("window %q ends before it starts", s)
	}
	return Window{Name: name, Start: start, End: end}, nil
}

// TimeSlot is the capacity-annotated projection handed to consumers. It is
// recomputed on every read and never persisted.
type TimeSlot struct {
	Time            TimeOfDay  `json:"time"`
	Window          WindowName `json:"window"`
	MaxBookings     int        `json:"maxBookings"`
	CurrentBookings int        `json:"currentBookings"`
	Available       bool       `json:"available"`
}

// WorkingDayRule configures whether MRs can visit on a weekday and how many.
type WorkingDayRule struct {
	Day             Weekday   `json:"day"`
	IsWorking       bool      `json:"is_working"`
	MaxAppointments int       `json:"max_appointments"`
	UpdatedBy       string    `json:"updated_by,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ClosureScope selects one of the two independent closure-date sets.
type ClosureScope string

const (
	ClosureClinic ClosureScope = "clinic"
	ClosureMR     ClosureScope = "mr"
)

func (s ClosureScope) Valid() bool {
	return s == ClosureClinic || s == ClosureMR
}

// ClosureDate blocks every slot on Date regardless of capacity.
type ClosureDate struct {
	ID        uuid.UUID    `json:"id"`
	Scope     ClosureScope `json:"scope"`
	Date      civil.Date   `json:"date"`
	Reason    string       `json:"reason,omitempty"`
	CreatedBy string       `json:"created_by,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// Booking is a persisted appointment record. Only pending bookings occupy
// capacity.
type Booking struct {
	ID        uuid.UUID     `json:"id"`
	Flow      Flow          `json:"flow"`
	Identity  string        `json:"identity"`
	Name      string        `json:"name,omitempty"`
	Company   string        `json:"company,omitempty"`
	Date      civil.Date    `json:"date"`
	Time      TimeOfDay     `json:"time"`
	Status    BookingStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// DayAvailability summarises one calendar date of the MR calendar.
type DayAvailability struct {
	Date      civil.Date  `json:"date"`
	Weekday   string      `json:"weekday"`
	Working   bool        `json:"working"`
	Capacity  int         `json:"capacity"`
	Booked    int         `json:"booked"`
	Available bool        `json:"available"`
	Reason    Reason      `json:"reason,omitempty"`
	Message   string      `json:"message,omitempty"`
	Times     []TimeOfDay `json:"times,omitempty"`
}

// Remaining returns the free capacity, never negative.
func (d DayAvailability) Remaining() int {
	if d.Booked >= d.Capacity {
		return 0
	}
	return d.Capacity - d.Booked
}

func weekdayOf(d civil.Date) time.Weekday {
	return d.In(time.UTC).Weekday()
}

// Weekday is a time.Weekday that travels as its English name.
type Weekday time.Weekday

func (w Weekday) String() string { return time.Weekday(w).String() }

func (w Weekday) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

func (w *Weekday) UnmarshalText(b []byte) error {
	d, err := ParseWeekday(string(b))
	if err != nil {
		return err
	}
	*w = Weekday(d)
	return nil
}

// ParseWeekday accepts full or three-letter English weekday names.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}
