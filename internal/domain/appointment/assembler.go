package appointment

import (
	"context"
	"fmt"
	"sort"

	"cloud.google.com/go/civil"

	"github.com/clinicdesk/booking/internal/platform/clock"
)

// maxCalendarDays bounds a single MR calendar read.
const maxCalendarDays = 400

// Assembler merges slot templates, pending counts and cutoff verdicts into the
// availability views consumed by the booking screens.
type Assembler struct {
	clock    clock.Clock
	bookings BookingRepository
	config   ScheduleConfigRepository
	cutoff   *CutoffEvaluator

	patientTemplate []TemplateSlot
	mrTemplate      []TemplateSlot
}

// NewAssembler builds both slot templates up front; policies are fixed for
// the lifetime of the process.
func NewAssembler(c clock.Clock, bookings BookingRepository, config ScheduleConfigRepository, patient PatientPolicy, mr MRPolicy) (*Assembler, error) {
	pt, err := GenerateTemplate(patient.Windows, patient.Interval, patient.SlotCapacity)
	if err != nil {
		return nil, fmt.Errorf("patient template: %w", err)
	}
	// MR capacity is per day, so each MR slot nominally holds one visit.
	mt, err := GenerateTemplate([]Window{mr.Window}, mr.Interval, 1)
	if err != nil {
		return nil, fmt.Errorf("mr template: %w", err)
	}
	return &Assembler{
		clock:           c,
		bookings:        bookings,
		config:          config,
		cutoff:          NewCutoffEvaluator(c, patient, mr),
		patientTemplate: pt,
		mrTemplate:      mt,
	}, nil
}

// Cutoff exposes the evaluator shared with the validator.
func (a *Assembler) Cutoff() *CutoffEvaluator { return a.cutoff }

// Today is the current date in the clinic timezone.
func (a *Assembler) Today() civil.Date { return a.clock.Today() }

func (a *Assembler) patientClosure(ctx context.Context, date civil.Date) (*ClosureDate, error) {
	closures, err := a.config.ClosuresOn(ctx, date, ClosureClinic)
	if err != nil {
		return nil, sysErr("read closure dates", err)
	}
	if len(closures) == 0 {
		return nil, nil
	}
	return &closures[0], nil
}

// ComputeSlots returns the patient slots for date in chronological order. A
// slot blocked by any cutoff rule is reported with CurrentBookings equal to
// MaxBookings, the same as a full one.
func (a *Assembler) ComputeSlots(ctx context.Context, date civil.Date) ([]TimeSlot, error) {
	closure, err := a.patientClosure(ctx, date)
	if err != nil {
		return nil, err
	}
	dayBlock := a.cutoff.PatientDayBlock(date, closure)

	var counts map[TimeOfDay]int
	if dayBlock == nil {
		counts, err = a.bookings.CountPendingBySlot(ctx, FlowPatient, date)
		if err != nil {
			return nil, sysErr("count pending bookings", err)
		}
	}

	slots := make([]TimeSlot, 0, len(a.patientTemplate))
	for _, ts := range a.patientTemplate {
		slot := TimeSlot{Time: ts.Time, Window: ts.Window, MaxBookings: ts.MaxBookings}
		if dayBlock != nil || a.cutoff.PatientSlotBlocked(date, ts) {
			slot.CurrentBookings = ts.MaxBookings
		} else {
			slot.CurrentBookings = min(counts[ts.Time], ts.MaxBookings)
			slot.Available = slot.CurrentBookings < ts.MaxBookings
		}
		slots = append(slots, slot)
	}

	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Time < slots[j].Time })
	return slots, nil
}

type mrInputs struct {
	rules    map[Weekday]WorkingDayRule
	closures map[civil.Date][]ClosureDate
	counts   map[civil.Date]int
}

func (a *Assembler) loadMR(ctx context.Context, from, to civil.Date) (*mrInputs, error) {
	rules, err := a.config.ListWorkingDays(ctx)
	if err != nil {
		return nil, sysErr("read working days", err)
	}
	in := &mrInputs{
		rules:    make(map[Weekday]WorkingDayRule, len(rules)),
		closures: make(map[civil.Date][]ClosureDate),
	}
	for _, r := range rules {
		in.rules[r.Day] = r
	}
	for _, scope := range []ClosureScope{ClosureClinic, ClosureMR} {
		closures, err := a.config.ListClosures(ctx, scope, from, to)
		if err != nil {
			return nil, sysErr("read closure dates", err)
		}
		for _, c := range closures {
			in.closures[c.Date] = append(in.closures[c.Date], c)
		}
	}
	in.counts, err = a.bookings.CountPendingByDate(ctx, FlowMR, from, to)
	if err != nil {
		return nil, sysErr("count pending bookings", err)
	}
	return in, nil
}

func (in *mrInputs) rule(date civil.Date) *WorkingDayRule {
	r, ok := in.rules[Weekday(weekdayOf(date))]
	if !ok {
		return nil
	}
	return &r
}

func (a *Assembler) buildDay(date civil.Date, in *mrInputs, withTimes bool) DayAvailability {
	rule := in.rule(date)
	day := DayAvailability{
		Date:    date,
		Weekday: weekdayOf(date).String(),
		Booked:  in.counts[date],
	}
	if rule != nil {
		day.Working = rule.IsWorking
		day.Capacity = rule.MaxAppointments
	}

	if rej := a.cutoff.MRDayBlock(date, rule, in.closures[date]); rej != nil {
		day.Reason, day.Message = rej.Reason, rej.Message
		return day
	}
	if day.Booked >= day.Capacity {
		day.Reason, day.Message = ReasonDayFull, defaultMessages[ReasonDayFull]
		return day
	}

	var times []TimeOfDay
	for _, ts := range a.mrTemplate {
		if !a.cutoff.MRSlotBlocked(date, ts.Time) {
			times = append(times, ts.Time)
		}
	}
	if len(times) == 0 {
		day.Reason, day.Message = ReasonSlotCutoff, defaultMessages[ReasonSlotCutoff]
		return day
	}
	day.Available = true
	if withTimes {
		day.Times = times
	}
	return day
}

// MRDay returns the MR availability of one date, including the selectable
// visiting times.
func (a *Assembler) MRDay(ctx context.Context, date civil.Date) (DayAvailability, error) {
	in, err := a.loadMR(ctx, date, date)
	if err != nil {
		return DayAvailability{}, err
	}
	return a.buildDay(date, in, true), nil
}

// MRCalendar returns one entry per date in [from, to].
func (a *Assembler) MRCalendar(ctx context.Context, from, to civil.Date) ([]DayAvailability, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("calendar range ends before it starts")
	}
	if to.DaysSince(from) >= maxCalendarDays {
		return nil, fmt.Errorf("calendar range exceeds %d days", maxCalendarDays)
	}
	in, err := a.loadMR(ctx, from, to)
	if err != nil {
		return nil, err
	}
	days := make([]DayAvailability, 0, to.DaysSince(from)+1)
	for d := from; !d.After(to); d = d.AddDays(1) {
		days = append(days, a.buildDay(d, in, false))
	}
	return days, nil
}
