package appointment

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// Guard is the condition a guarded insert re-checks atomically with the write.
// Zero values disable the corresponding check.
type Guard struct {
	SlotCapacity      int
	DayCapacity       int
	UniquePerIdentity bool
}

// BookingRepository reads occupancy and persists bookings. Counts only
// include pending bookings.
type BookingRepository interface {
	CountPendingBySlot(ctx context.Context, flow Flow, date civil.Date) (map[TimeOfDay]int, error)
	CountPendingByDate(ctx context.Context, flow Flow, from, to civil.Date) (map[civil.Date]int, error)
	HasPendingForIdentity(ctx context.Context, flow Flow, identity string, date civil.Date) (bool, error)
	// Create inserts unconditionally.
	Create(ctx context.Context, b *Booking) error
	// CreateGuarded evaluates g and inserts in one atomic step. It returns
	// ErrSlotFull, ErrDayFull or ErrAlreadyBooked when the guard fails.
	CreateGuarded(ctx context.Context, b *Booking, g Guard) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
}

// ScheduleConfigRepository exposes admin-owned configuration. The engine only
// reads it; the admin handler writes it.
type ScheduleConfigRepository interface {
	ClosuresOn(ctx context.Context, date civil.Date, scopes ...ClosureScope) ([]ClosureDate, error)
	ListClosures(ctx context.Context, scope ClosureScope, from, to civil.Date) ([]ClosureDate, error)
	AddClosure(ctx context.Context, c *ClosureDate) error
	DeleteClosure(ctx context.Context, id uuid.UUID) error
	ListWorkingDays(ctx context.Context) ([]WorkingDayRule, error)
	UpsertWorkingDay(ctx context.Context, r *WorkingDayRule) error
}
