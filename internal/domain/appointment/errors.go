package appointment

import (
	"errors"
	"fmt"
)

// Reason tags a user-correctable booking rejection.
type Reason string

const (
	ReasonInvalidIdentity Reason = "invalid_identity"
	ReasonDateInPast      Reason = "date_in_past"
	ReasonDateClosed      Reason = "date_closed"
	ReasonWeekdayClosed   Reason = "weekday_closed"
	ReasonBeyondHorizon   Reason = "beyond_horizon"
	ReasonAlreadyBooked   Reason = "already_booked"
	ReasonUnknownSlot     Reason = "unknown_slot"
	ReasonSlotCutoff      Reason = "slot_cutoff"
	ReasonSlotFull        Reason = "slot_full"
	ReasonDayFull         Reason = "day_full"
)

// Conflict reports whether the rejection was caused by other bookings rather
// than by the request itself.
func (r Reason) Conflict() bool {
	return r == ReasonSlotFull || r == ReasonDayFull || r == ReasonAlreadyBooked
}

var defaultMessages = map[Reason]string{
	ReasonInvalidIdentity: "phone number must be exactly 10 digits",
	ReasonDateInPast:      "date is in the past",
	ReasonDateClosed:      "clinic is closed on this date",
	ReasonWeekdayClosed:   "no appointments on this day of the week",
	ReasonBeyondHorizon:   "date is too far ahead",
	ReasonAlreadyBooked:   "already booked on this date",
	ReasonUnknownSlot:     "no such time slot",
	ReasonSlotCutoff:      "time slot is no longer bookable today",
	ReasonSlotFull:        "time slot is fully booked",
	ReasonDayFull:         "all appointments for this date are taken",
}

// RejectionError is a validation failure the user can act on.
type RejectionError struct {
	Reason  Reason
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("booking rejected (%s): %s", e.Reason, e.Message)
}

func reject(reason Reason, message string) *RejectionError {
	if message == "" {
		message = defaultMessages[reason]
	}
	return &RejectionError{Reason: reason, Message: message}
}

// AsRejection returns the rejection wrapped in err, if any.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// ErrSystem marks storage or infrastructure failures. These are retryable and
// must never be read as "slot unavailable".
var ErrSystem = errors.New("booking system unavailable")

// Sentinel errors returned by guarded inserts when a concurrent writer won.
var (
	ErrSlotFull      = errors.New("slot capacity reached")
	ErrDayFull       = errors.New("day capacity reached")
	ErrAlreadyBooked = errors.New("identity already booked on date")
	ErrNotFound      = errors.New("not found")
)

type systemError struct {
	op    string
	cause error
}

func (e *systemError) Error() string {
	return fmt.Sprintf("%s: %v", e.op, e.cause)
}

func (e *systemError) Unwrap() []error {
	return []error{ErrSystem, e.cause}
}

func sysErr(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &systemError{op: op, cause: cause}
}

// IsSystem reports whether err is an infrastructure failure.
func IsSystem(err error) bool {
	return errors.Is(err, ErrSystem)
}

// Outcome is the terminal state of a booking attempt.
type Outcome string

const (
	OutcomeAuthorized  Outcome = "authorized"
	OutcomeRejected    Outcome = "rejected"
	OutcomeSystemError Outcome = "system_error"
)

// Verdict is the consumer-facing rendering of a validation result.
type Verdict struct {
	Status  Outcome `json:"status"`
	Reason  Reason  `json:"reason,omitempty"`
	Message string  `json:"message,omitempty"`
}

// VerdictOf classifies err into one of the three terminal states.
func VerdictOf(err error) Verdict {
	if err == nil {
		return Verdict{Status: OutcomeAuthorized}
	}
	if rej, ok := AsRejection(err); ok {
		return Verdict{Status: OutcomeRejected, Reason: rej.Reason, Message: rej.Message}
	}
	return Verdict{Status: OutcomeSystemError, Message: "could not complete the request, please retry"}
}
