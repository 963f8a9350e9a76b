package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/clinicdesk/booking/internal/domain/appointment"
)

func reasonOf(t *testing.T, err error) appointment.Reason {
	t.Helper()
	rej, ok := appointment.AsRejection(err)
	if !ok {
		t.Fatalf("expected rejection, got %v", err)
	}
	return rej.Reason
}

func TestBookingService_PatientFlow(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	svc := newPGService(t, 8, 0)

	req := appointment.Request{Identity: "9876543210", Name: "Asha", Date: monday, Time: appointment.MustTimeOfDay("09:30")}
	b, err := svc.Book(ctx, appointment.FlowPatient, req)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	stored, err := svc.GetBooking(ctx, b.ID)
	if err != nil || stored.Identity != req.Identity {
		t.Fatalf("expected stored booking, got %+v %v", stored, err)
	}

	_, err = svc.Book(ctx, appointment.FlowPatient, req)
	if r := reasonOf(t, err); r != appointment.ReasonAlreadyBooked {
		t.Errorf("expected already_booked, got %s", r)
	}

	slots, err := svc.ComputeSlots(ctx, monday)
	if err != nil {
		t.Fatalf("compute slots: %v", err)
	}
	if slots[0].Time != req.Time || slots[0].CurrentBookings != 1 {
		t.Errorf("expected booking counted on first slot, got %+v", slots[0])
	}
}

func TestBookingService_ClosureBlocksBooking(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	svc := newPGService(t, 8, 0)
	tuesday := monday.AddDays(1)

	closure := &appointment.ClosureDate{Scope: appointment.ClosureClinic, Date: tuesday, Reason: "Doctor on leave"}
	if err := svc.AddClosure(ctx, "admin", closure); err != nil {
		t.Fatalf("add closure: %v", err)
	}

	err := svc.ValidateBooking(ctx, appointment.FlowPatient, appointment.Request{Identity: "9876543210", Date: tuesday, Time: appointment.MustTimeOfDay("10:00")})
	if r := reasonOf(t, err); r != appointment.ReasonDateClosed {
		t.Errorf("expected date_closed, got %s", r)
	}
	slots, err := svc.ComputeSlots(ctx, tuesday)
	if err != nil {
		t.Fatalf("compute slots: %v", err)
	}
	for _, s := range slots {
		if s.Available {
			t.Fatalf("expected every slot closed, got %+v", s)
		}
	}
}

func TestBookingService_ConcurrentMRDayCapacity(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	svc := newPGService(t, 8, 0)
	date := monday.AddDays(1)

	const attempts = 10
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Book(ctx, appointment.FlowMR, appointment.Request{
				Identity: fmt.Sprintf("8%09d", i),
				Company:  "Acme Pharma",
				Date:     date,
				Time:     appointment.MustTimeOfDay("14:30"),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok, full int
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		if reasonOf(t, err) == appointment.ReasonDayFull {
			full++
		}
	}
	if ok != 5 || full != attempts-5 {
		t.Errorf("expected 5 booked and %d day_full, got %d and %d", attempts-5, ok, full)
	}

	day, err := svc.MRDay(ctx, date)
	if err != nil {
		t.Fatalf("mr day: %v", err)
	}
	if day.Booked != 5 || day.Available || day.Reason != appointment.ReasonDayFull {
		t.Errorf("expected a full day, got %+v", day)
	}
}
