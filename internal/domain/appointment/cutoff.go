package appointment

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/clinicdesk/booking/internal/platform/clock"
)

// PatientPolicy holds the clinic's patient operating rules.
type PatientPolicy struct {
	Windows      []Window
	Interval     time.Duration
	SlotCapacity int
	// Same-day thresholds in civil hours. Once reached, every slot of the
	// named window is blocked for today regardless of its own time.
	MorningCutoffHour int
	EveningCutoffHour int
	BlackoutWeekdays  []time.Weekday
}

// DefaultPatientPolicy mirrors the clinic's published hours.
func DefaultPatientPolicy() PatientPolicy {
	return PatientPolicy{
		Windows: []Window{
			{Name: WindowMorning, Start: MustTimeOfDay("09:30"), End: MustTimeOfDay("12:00")},
			{Name: WindowEvening, Start: MustTimeOfDay("17:30"), End: MustTimeOfDay("20:00")},
		},
		Interval:          15 * time.Minute,
		SlotCapacity:      3,
		MorningCutoffHour: 9,
		EveningCutoffHour: 13,
		BlackoutWeekdays:  []time.Weekday{time.Sunday},
	}
}

// MRPolicy holds the medical-representative visiting rules. Daily capacity
// comes from the working-day rules, not from here.
type MRPolicy struct {
	Window        Window
	Interval      time.Duration
	HorizonMonths int
}

func DefaultMRPolicy() MRPolicy {
	return MRPolicy{
		Window:        Window{Name: WindowMR, Start: MustTimeOfDay("14:00"), End: MustTimeOfDay("16:00")},
		Interval:      30 * time.Minute,
		HorizonMonths: 6,
	}
}

// CutoffEvaluator applies blackout and same-day cutoff rules in civil time.
type CutoffEvaluator struct {
	clock   clock.Clock
	patient PatientPolicy
	mr      MRPolicy
}

func NewCutoffEvaluator(c clock.Clock, patient PatientPolicy, mr MRPolicy) *CutoffEvaluator {
	return &CutoffEvaluator{clock: c, patient: patient, mr: mr}
}

func (e *CutoffEvaluator) isBlackout(d time.Weekday) bool {
	for _, b := range e.patient.BlackoutWeekdays {
		if b == d {
			return true
		}
	}
	return false
}

// PatientDayBlock returns the rejection that blocks every patient slot on
// date, or nil when the date is bookable. closure is the clinic-wide closure
// for date, if any.
func (e *CutoffEvaluator) PatientDayBlock(date civil.Date, closure *ClosureDate) *RejectionError {
	if date.Before(e.clock.Today()) {
		return reject(ReasonDateInPast, "")
	}
	if wd := weekdayOf(date); e.isBlackout(wd) {
		return reject(ReasonWeekdayClosed, fmt.Sprintf("clinic is closed on %ss", wd))
	}
	if closure != nil {
		return reject(ReasonDateClosed, closureMessage(closure))
	}
	return nil
}

// PatientSlotBlocked reports whether a slot is cut off. Cutoffs only apply to
// today: slots already started, the whole morning window from
// MorningCutoffHour and the whole evening window from EveningCutoffHour.
func (e *CutoffEvaluator) PatientSlotBlocked(date civil.Date, slot TemplateSlot) bool {
	now := e.clock.Now()
	if date != civil.DateOf(now) {
		return false
	}
	if !slot.Time.On(date, now.Location()).After(now) {
		return true
	}
	switch slot.Window {
	case WindowMorning:
		return now.Hour() >= e.patient.MorningCutoffHour
	case WindowEvening:
		return now.Hour() >= e.patient.EveningCutoffHour
	}
	return false
}

// Horizon returns the last date MRs may book.
func (e *CutoffEvaluator) Horizon() civil.Date {
	return civil.DateOf(e.clock.Today().In(time.UTC).AddDate(0, e.mr.HorizonMonths, 0))
}

// MRDayBlock returns the rejection that makes date ineligible for MR visits.
// rule is the working-day rule for the date's weekday (nil when unset) and
// closures holds matches from either closure set.
func (e *CutoffEvaluator) MRDayBlock(date civil.Date, rule *WorkingDayRule, closures []ClosureDate) *RejectionError {
	if date.Before(e.clock.Today()) {
		return reject(ReasonDateInPast, "")
	}
	if e.mr.HorizonMonths > 0 && date.After(e.Horizon()) {
		return reject(ReasonBeyondHorizon, fmt.Sprintf("MR appointments can be booked up to %d months ahead", e.mr.HorizonMonths))
	}
	if len(closures) > 0 {
		return reject(ReasonDateClosed, closureMessage(&closures[0]))
	}
	if rule == nil || !rule.IsWorking {
		return reject(ReasonWeekdayClosed, fmt.Sprintf("no MR visits on %ss", weekdayOf(date)))
	}
	return nil
}

// MRSlotBlocked reports whether an MR slot has already started today.
func (e *CutoffEvaluator) MRSlotBlocked(date civil.Date, t TimeOfDay) bool {
	now := e.clock.Now()
	if date != civil.DateOf(now) {
		return false
	}
	return !t.On(date, now.Location()).After(now)
}

func closureMessage(c *ClosureDate) string {
	if c.Reason != "" {
		return "closed: " + c.Reason
	}
	return ""
}
