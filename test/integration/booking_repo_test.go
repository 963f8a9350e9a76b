package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/clinicdesk/booking/internal/domain/appointment"
)

func newBooking(flow appointment.Flow, identity, slot string) *appointment.Booking {
	return &appointment.Booking{
		Flow:     flow,
		Identity: identity,
		Name:     "Test " + identity,
		Date:     monday,
		Time:     appointment.MustTimeOfDay(slot),
	}
}

func TestBookingRepoPG_CreateAndGet(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := appointment.NewBookingRepoPG(globalPool)

	b := newBooking(appointment.FlowPatient, "9876543210", "09:45")
	if err := repo.Create(ctx, b); err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.ID == uuid.Nil || b.Status != appointment.StatusPending || b.CreatedAt.IsZero() {
		t.Fatalf("expected generated id, pending status and created_at, got %+v", b)
	}

	got, err := repo.GetByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Date != monday || got.Time != b.Time || got.Identity != b.Identity || got.Flow != appointment.FlowPatient {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if _, err := repo.GetByID(ctx, uuid.New()); !errors.Is(err, appointment.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBookingRepoPG_CountsOnlyPending(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := appointment.NewBookingRepoPG(globalPool)

	seed := []struct {
		flow   appointment.Flow
		id     string
		slot   string
		status appointment.BookingStatus
	}{
		{appointment.FlowPatient, "9000000001", "09:30", appointment.StatusPending},
		{appointment.FlowPatient, "9000000002", "09:30", appointment.StatusPending},
		{appointment.FlowPatient, "9000000003", "09:30", appointment.StatusCompleted},
		{appointment.FlowPatient, "9000000004", "17:30", appointment.StatusCancelled},
		{appointment.FlowPatient, "9000000005", "17:45", appointment.StatusPending},
		{appointment.FlowMR, "MR-1", "14:00", appointment.StatusPending},
	}
	for _, s := range seed {
		b := newBooking(s.flow, s.id, s.slot)
		b.Status = s.status
		if err := repo.Create(ctx, b); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	counts, err := repo.CountPendingBySlot(ctx, appointment.FlowPatient, monday)
	if err != nil {
		t.Fatalf("count by slot: %v", err)
	}
	if counts[appointment.MustTimeOfDay("09:30")] != 2 || counts[appointment.MustTimeOfDay("17:45")] != 1 || len(counts) != 2 {
		t.Errorf("unexpected slot counts %v", counts)
	}

	byDate, err := repo.CountPendingByDate(ctx, appointment.FlowMR, monday.AddDays(-1), monday.AddDays(1))
	if err != nil {
		t.Fatalf("count by date: %v", err)
	}
	if byDate[monday] != 1 || len(byDate) != 1 {
		t.Errorf("unexpected date counts %v", byDate)
	}

	has, err := repo.HasPendingForIdentity(ctx, appointment.FlowPatient, "9000000003", monday)
	if err != nil || has {
		t.Errorf("completed booking should not count for identity, got %v %v", has, err)
	}
	has, err = repo.HasPendingForIdentity(ctx, appointment.FlowPatient, "9000000001", monday)
	if err != nil || !has {
		t.Errorf("expected pending booking for identity, got %v %v", has, err)
	}
}

func TestBookingRepoPG_CreateGuardedSerialises(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := appointment.NewBookingRepoPG(globalPool)
	guard := appointment.Guard{SlotCapacity: 3, UniquePerIdentity: true}

	const attempts = 12
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b := newBooking(appointment.FlowPatient, fmt.Sprintf("9%09d", i), "10:00")
			errs <- repo.CreateGuarded(ctx, b, guard)
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok, full int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, appointment.ErrSlotFull):
			full++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 3 || full != attempts-3 {
		t.Errorf("expected 3 created and %d slot_full, got %d and %d", attempts-3, ok, full)
	}
}

func TestBookingRepoPG_CreateGuardedChecks(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := appointment.NewBookingRepoPG(globalPool)

	if err := repo.CreateGuarded(ctx, newBooking(appointment.FlowPatient, "9876543210", "09:30"), appointment.Guard{SlotCapacity: 3, UniquePerIdentity: true}); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	err := repo.CreateGuarded(ctx, newBooking(appointment.FlowPatient, "9876543210", "17:30"), appointment.Guard{SlotCapacity: 3, UniquePerIdentity: true})
	if !errors.Is(err, appointment.ErrAlreadyBooked) {
		t.Errorf("expected ErrAlreadyBooked, got %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := repo.CreateGuarded(ctx, newBooking(appointment.FlowMR, "MR-1", "14:00"), appointment.Guard{DayCapacity: 2}); err != nil {
			t.Fatalf("mr booking %d: %v", i, err)
		}
	}
	err = repo.CreateGuarded(ctx, newBooking(appointment.FlowMR, "MR-2", "15:00"), appointment.Guard{DayCapacity: 2})
	if !errors.Is(err, appointment.ErrDayFull) {
		t.Errorf("expected ErrDayFull, got %v", err)
	}
}
