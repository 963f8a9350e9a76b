package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/booking/internal/platform/events"
	"github.com/clinicdesk/booking/internal/platform/keylock"
)

type Service struct {
	assembler *Assembler
	validator *Validator
	bookings  BookingRepository
	config    ScheduleConfigRepository
	locker    keylock.Locker
	events    events.Publisher
	logger    zerolog.Logger
}

func NewService(a *Assembler, locker keylock.Locker, logger zerolog.Logger) *Service {
	if locker == nil {
		locker = keylock.NewLocal()
	}
	return &Service{
		assembler: a,
		validator: NewValidator(a),
		bookings:  a.bookings,
		config:    a.config,
		locker:    locker,
		events:    events.Nop{},
		logger:    logger,
	}
}

// SetPublisher routes booking and schedule events to p.
func (s *Service) SetPublisher(p events.Publisher) {
	if p == nil {
		p = events.Nop{}
	}
	s.events = p
}

// notify publishes after the write has committed. A failed publish is
// logged and never undoes the write.
func (s *Service) notify(ctx context.Context, key string, payload any) {
	if err := s.events.Publish(ctx, key, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", key).Msg("event publish failed")
	}
}

// Assembler returns the availability assembler backing the service.
func (s *Service) Assembler() *Assembler { return s.assembler }

// -- Availability --

func (s *Service) ComputeSlots(ctx context.Context, date civil.Date) ([]TimeSlot, error) {
	return s.assembler.ComputeSlots(ctx, date)
}

func (s *Service) MRDay(ctx context.Context, date civil.Date) (DayAvailability, error) {
	return s.assembler.MRDay(ctx, date)
}

// MRCalendar clamps to to the booking horizon.
func (s *Service) MRCalendar(ctx context.Context, from, to civil.Date) ([]DayAvailability, error) {
	if h := s.assembler.cutoff.Horizon(); s.assembler.cutoff.mr.HorizonMonths > 0 && to.After(h) {
		to = h
	}
	return s.assembler.MRCalendar(ctx, from, to)
}

// -- Booking --

// ValidateBooking checks req without writing anything.
func (s *Service) ValidateBooking(ctx context.Context, flow Flow, req Request) error {
	return s.validator.Validate(ctx, flow, req)
}

func lockKey(flow Flow, date civil.Date) string {
	return string(flow) + ":" + date.String()
}

// Book validates req and inserts it. The lock on (flow, date) plus the
// storage guard keep concurrent attempts from exceeding slot or day capacity.
func (s *Service) Book(ctx context.Context, flow Flow, req Request) (*Booking, error) {
	if !flow.Valid() {
		return nil, fmt.Errorf("unknown booking flow %q", flow)
	}
	log := s.logger.With().Str("flow", string(flow)).Str("date", req.Date.String()).Str("time", req.Time.String()).Logger()

	release, err := s.locker.Lock(ctx, lockKey(flow, req.Date))
	if err != nil {
		err = sysErr("acquire booking lock", err)
		log.Error().Err(err).Msg("booking lock unavailable")
		return nil, err
	}
	defer release()

	guard, err := s.validator.validate(ctx, flow, req)
	if err != nil {
		s.logOutcome(log, err)
		return nil, err
	}

	b := &Booking{
		Flow:     flow,
		Identity: req.Identity,
		Name:     strings.TrimSpace(req.Name),
		Company:  strings.TrimSpace(req.Company),
		Date:     req.Date,
		Time:     req.Time,
		Status:   StatusPending,
	}
	if err := s.bookings.CreateGuarded(ctx, b, guard); err != nil {
		err = guardError(err)
		s.logOutcome(log, err)
		return nil, err
	}

	log.Info().Str("booking_id", b.ID.String()).Msg("booking created")
	s.notify(ctx, events.BookingCreated, b)
	return b, nil
}

func guardError(err error) error {
	switch {
	case errors.Is(err, ErrSlotFull):
		return reject(ReasonSlotFull, "")
	case errors.Is(err, ErrDayFull):
		return reject(ReasonDayFull, "")
	case errors.Is(err, ErrAlreadyBooked):
		return reject(ReasonAlreadyBooked, "")
	}
	if IsSystem(err) {
		return err
	}
	return sysErr("create booking", err)
}

func (s *Service) logOutcome(log zerolog.Logger, err error) {
	if rej, ok := AsRejection(err); ok {
		log.Info().Str("reason", string(rej.Reason)).Msg("booking rejected")
		return
	}
	log.Error().Err(err).Msg("booking failed")
}

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, sysErr("get booking", err)
	}
	return b, err
}

// -- Schedule configuration --
//
// actor is the authenticated admin performing the change.

func (s *Service) AddClosure(ctx context.Context, actor string, c *ClosureDate) error {
	if !c.Scope.Valid() {
		return fmt.Errorf("invalid closure scope %q", c.Scope)
	}
	if !c.Date.IsValid() {
		return fmt.Errorf("date is required")
	}
	if actor == "" {
		return fmt.Errorf("actor is required")
	}
	c.Reason = strings.TrimSpace(c.Reason)
	c.CreatedBy = actor
	if err := s.config.AddClosure(ctx, c); err != nil {
		return sysErr("add closure", err)
	}
	s.logger.Info().Str("actor", actor).Str("scope", string(c.Scope)).Str("date", c.Date.String()).Msg("closure date added")
	s.notify(ctx, events.ClosureAdded, c)
	return nil
}

func (s *Service) DeleteClosure(ctx context.Context, actor string, id uuid.UUID) error {
	if err := s.config.DeleteClosure(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return sysErr("delete closure", err)
	}
	s.logger.Info().Str("actor", actor).Str("closure_id", id.String()).Msg("closure date removed")
	s.notify(ctx, events.ClosureRemoved, map[string]string{"id": id.String(), "removed_by": actor})
	return nil
}

func (s *Service) ListClosures(ctx context.Context, scope ClosureScope, from, to civil.Date) ([]ClosureDate, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("invalid closure scope %q", scope)
	}
	cs, err := s.config.ListClosures(ctx, scope, from, to)
	if err != nil {
		return nil, sysErr("list closures", err)
	}
	return cs, nil
}

func (s *Service) ListWorkingDays(ctx context.Context) ([]WorkingDayRule, error) {
	rules, err := s.config.ListWorkingDays(ctx)
	if err != nil {
		return nil, sysErr("list working days", err)
	}
	return rules, nil
}

func (s *Service) SetWorkingDay(ctx context.Context, actor string, r *WorkingDayRule) error {
	if r.MaxAppointments < 0 {
		return fmt.Errorf("max_appointments must not be negative")
	}
	if actor == "" {
		return fmt.Errorf("actor is required")
	}
	r.UpdatedBy = actor
	if err := s.config.UpsertWorkingDay(ctx, r); err != nil {
		return sysErr("update working day", err)
	}
	s.logger.Info().Str("actor", actor).Str("day", r.Day.String()).Bool("working", r.IsWorking).Int("max", r.MaxAppointments).Msg("working day updated")
	s.notify(ctx, events.WorkingDayUpdated, r)
	return nil
}
