package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/booking/internal/platform/clock"
	"github.com/clinicdesk/booking/internal/platform/keylock"
)

var ist = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		panic(err)
	}
	return loc
}()

// Monday 15 January 2024 and the days around it.
var (
	monday   = civil.Date{Year: 2024, Month: time.January, Day: 15}
	tuesday  = monday.AddDays(1)
	sunday   = monday.AddDays(6)
	lastWeek = monday.AddDays(-7)
)

// at returns a fixed clock on monday at hh:mm IST.
func at(hh, mm int) *clock.Fixed {
	return clock.NewFixed(time.Date(2024, time.January, 15, hh, mm, 0, 0, ist), ist)
}

var errStorage = errors.New("connection reset by peer")

// faultyStore wraps a MemoryStore and fails selected operations.
type faultyStore struct {
	*MemoryStore
	readErr   error
	createErr error
	configErr error
}

func (f *faultyStore) CountPendingBySlot(ctx context.Context, flow Flow, date civil.Date) (map[TimeOfDay]int, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.MemoryStore.CountPendingBySlot(ctx, flow, date)
}

func (f *faultyStore) CountPendingByDate(ctx context.Context, flow Flow, from, to civil.Date) (map[civil.Date]int, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.MemoryStore.CountPendingByDate(ctx, flow, from, to)
}

func (f *faultyStore) HasPendingForIdentity(ctx context.Context, flow Flow, identity string, date civil.Date) (bool, error) {
	if f.readErr != nil {
		return false, f.readErr
	}
	return f.MemoryStore.HasPendingForIdentity(ctx, flow, identity, date)
}

func (f *faultyStore) CreateGuarded(ctx context.Context, b *Booking, g Guard) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.MemoryStore.CreateGuarded(ctx, b, g)
}

func (f *faultyStore) ClosuresOn(ctx context.Context, date civil.Date, scopes ...ClosureScope) ([]ClosureDate, error) {
	if f.configErr != nil {
		return nil, f.configErr
	}
	return f.MemoryStore.ClosuresOn(ctx, date, scopes...)
}

func (f *faultyStore) ListClosures(ctx context.Context, scope ClosureScope, from, to civil.Date) ([]ClosureDate, error) {
	if f.configErr != nil {
		return nil, f.configErr
	}
	return f.MemoryStore.ListClosures(ctx, scope, from, to)
}

func (f *faultyStore) ListWorkingDays(ctx context.Context) ([]WorkingDayRule, error) {
	if f.configErr != nil {
		return nil, f.configErr
	}
	return f.MemoryStore.ListWorkingDays(ctx)
}

func newSeededStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	for _, r := range DefaultWorkingDays() {
		r := r
		if err := store.UpsertWorkingDay(context.Background(), &r); err != nil {
			t.Fatalf("seed working days: %v", err)
		}
	}
	return store
}

func newTestAssembler(t *testing.T, c clock.Clock, bookings BookingRepository, config ScheduleConfigRepository) *Assembler {
	t.Helper()
	a, err := NewAssembler(c, bookings, config, DefaultPatientPolicy(), DefaultMRPolicy())
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	return a
}

// newTestService wires a service over a fresh seeded memory store.
func newTestService(t *testing.T, c clock.Clock) (*Service, *MemoryStore) {
	t.Helper()
	store := newSeededStore(t)
	return NewService(newTestAssembler(t, c, store, store), keylock.NewLocal(), zerolog.Nop()), store
}

func seedBooking(t *testing.T, store *MemoryStore, flow Flow, date civil.Date, hhmm, identity string) *Booking {
	t.Helper()
	b := &Booking{Flow: flow, Identity: identity, Date: date, Time: MustTimeOfDay(hhmm)}
	if err := store.Create(context.Background(), b); err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	return b
}

func addClosure(t *testing.T, store *MemoryStore, scope ClosureScope, date civil.Date, reason string) {
	t.Helper()
	c := &ClosureDate{Scope: scope, Date: date, Reason: reason, CreatedBy: "admin-1"}
	if err := store.AddClosure(context.Background(), c); err != nil {
		t.Fatalf("add closure: %v", err)
	}
}

func expectReason(t *testing.T, err error, want Reason) {
	t.Helper()
	rej, ok := AsRejection(err)
	if !ok {
		t.Fatalf("expected rejection %s, got %v", want, err)
	}
	if rej.Reason != want {
		t.Errorf("expected reason %s, got %s (%s)", want, rej.Reason, rej.Message)
	}
}

func slotAt(t *testing.T, slots []TimeSlot, hhmm string) TimeSlot {
	t.Helper()
	want := MustTimeOfDay(hhmm)
	for _, s := range slots {
		if s.Time == want {
			return s
		}
	}
	t.Fatalf("slot %s not found", hhmm)
	return TimeSlot{}
}
