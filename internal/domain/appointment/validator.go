package appointment

import (
	"context"
	"fmt"
	"regexp"

	"cloud.google.com/go/civil"
)

var identityPattern = regexp.MustCompile(`^[0-9]{10}$`)

// Request is a candidate booking. Identity is the patient's phone number or
// the MR's contact number.
type Request struct {
	Identity string     `json:"identity"`
	Name     string     `json:"name,omitempty"`
	Company  string     `json:"company,omitempty"`
	Date     civil.Date `json:"date"`
	Time     TimeOfDay  `json:"time"`
}

// Validator re-derives availability from fresh reads immediately before a
// write. It never retries; a storage failure ends the attempt as a system
// error.
type Validator struct {
	a *Assembler
}

func NewValidator(a *Assembler) *Validator {
	return &Validator{a: a}
}

// Validate runs the checks for flow and returns nil when the booking is
// authorized, a *RejectionError, or an error matching ErrSystem.
func (v *Validator) Validate(ctx context.Context, flow Flow, req Request) error {
	_, err := v.validate(ctx, flow, req)
	return err
}

func (v *Validator) validate(ctx context.Context, flow Flow, req Request) (Guard, error) {
	switch flow {
	case FlowPatient:
		return v.validatePatient(ctx, req)
	case FlowMR:
		return v.validateMR(ctx, req)
	}
	return Guard{}, fmt.Errorf("unknown booking flow %q", flow)
}

func checkIdentity(identity string) *RejectionError {
	if !identityPattern.MatchString(identity) {
		return reject(ReasonInvalidIdentity, "")
	}
	return nil
}

// validatePatient: blackout, identity, one pending booking per identity per
// day, then the slot's cutoff and capacity.
func (v *Validator) validatePatient(ctx context.Context, req Request) (Guard, error) {
	closure, err := v.a.patientClosure(ctx, req.Date)
	if err != nil {
		return Guard{}, err
	}
	if rej := v.a.cutoff.PatientDayBlock(req.Date, closure); rej != nil {
		return Guard{}, rej
	}

	if rej := checkIdentity(req.Identity); rej != nil {
		return Guard{}, rej
	}

	booked, err := v.a.bookings.HasPendingForIdentity(ctx, FlowPatient, req.Identity, req.Date)
	if err != nil {
		return Guard{}, sysErr("check existing bookings", err)
	}
	if booked {
		return Guard{}, reject(ReasonAlreadyBooked, "")
	}

	slot, ok := findSlot(v.a.patientTemplate, req.Time)
	if !ok {
		return Guard{}, reject(ReasonUnknownSlot, "")
	}
	if v.a.cutoff.PatientSlotBlocked(req.Date, slot) {
		return Guard{}, reject(ReasonSlotCutoff, "")
	}
	counts, err := v.a.bookings.CountPendingBySlot(ctx, FlowPatient, req.Date)
	if err != nil {
		return Guard{}, sysErr("count pending bookings", err)
	}
	if counts[slot.Time] >= slot.MaxBookings {
		return Guard{}, reject(ReasonSlotFull, "")
	}

	return Guard{SlotCapacity: slot.MaxBookings, UniquePerIdentity: true}, nil
}

// validateMR: blackout (working day, closures, horizon), identity, then the
// day's total capacity across all MRs.
func (v *Validator) validateMR(ctx context.Context, req Request) (Guard, error) {
	in, err := v.a.loadMR(ctx, req.Date, req.Date)
	if err != nil {
		return Guard{}, err
	}
	rule := in.rule(req.Date)
	if rej := v.a.cutoff.MRDayBlock(req.Date, rule, in.closures[req.Date]); rej != nil {
		return Guard{}, rej
	}

	if rej := checkIdentity(req.Identity); rej != nil {
		return Guard{}, rej
	}

	if _, ok := findSlot(v.a.mrTemplate, req.Time); !ok {
		return Guard{}, reject(ReasonUnknownSlot, "")
	}
	if v.a.cutoff.MRSlotBlocked(req.Date, req.Time) {
		return Guard{}, reject(ReasonSlotCutoff, "")
	}
	if in.counts[req.Date] >= rule.MaxAppointments {
		return Guard{}, reject(ReasonDayFull, "")
	}

	return Guard{DayCapacity: rule.MaxAppointments}, nil
}
