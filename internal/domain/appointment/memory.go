package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of both BookingRepository and
// ScheduleConfigRepository. Guarded inserts are atomic under the store mutex.
type MemoryStore struct {
	mu          sync.RWMutex
	bookings    map[uuid.UUID]*Booking
	closures    map[uuid.UUID]*ClosureDate
	workingDays map[Weekday]*WorkingDayRule
}

// NewMemoryStore creates an empty store with no working-day rules.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings:    make(map[uuid.UUID]*Booking),
		closures:    make(map[uuid.UUID]*ClosureDate),
		workingDays: make(map[Weekday]*WorkingDayRule),
	}
}

// DefaultWorkingDays matches the seed rows of the schedule-config migration.
func DefaultWorkingDays() []WorkingDayRule {
	rules := make([]WorkingDayRule, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		rules = append(rules, WorkingDayRule{Day: Weekday(d), IsWorking: d != time.Sunday, MaxAppointments: 5})
	}
	return rules
}

func (m *MemoryStore) countSlot(flow Flow, date civil.Date, t TimeOfDay) int {
	n := 0
	for _, b := range m.bookings {
		if b.Status == StatusPending && b.Flow == flow && b.Date == date && b.Time == t {
			n++
		}
	}
	return n
}

func (m *MemoryStore) countDay(flow Flow, date civil.Date) int {
	n := 0
	for _, b := range m.bookings {
		if b.Status == StatusPending && b.Flow == flow && b.Date == date {
			n++
		}
	}
	return n
}

func (m *MemoryStore) hasIdentity(flow Flow, identity string, date civil.Date) bool {
	for _, b := range m.bookings {
		if b.Status == StatusPending && b.Flow == flow && b.Identity == identity && b.Date == date {
			return true
		}
	}
	return false
}

func (m *MemoryStore) CountPendingBySlot(_ context.Context, flow Flow, date civil.Date) (map[TimeOfDay]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[TimeOfDay]int)
	for _, b := range m.bookings {
		if b.Status == StatusPending && b.Flow == flow && b.Date == date {
			counts[b.Time]++
		}
	}
	return counts, nil
}

func (m *MemoryStore) CountPendingByDate(_ context.Context, flow Flow, from, to civil.Date) (map[civil.Date]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[civil.Date]int)
	for _, b := range m.bookings {
		if b.Status == StatusPending && b.Flow == flow && !b.Date.Before(from) && !b.Date.After(to) {
			counts[b.Date]++
		}
	}
	return counts, nil
}

func (m *MemoryStore) HasPendingForIdentity(_ context.Context, flow Flow, identity string, date civil.Date) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasIdentity(flow, identity, date), nil
}

func (m *MemoryStore) insert(b *Booking) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Status == "" {
		b.Status = StatusPending
	}
	b.CreatedAt = time.Now()
	stored := *b
	m.bookings[b.ID] = &stored
}

func (m *MemoryStore) Create(_ context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insert(b)
	return nil
}

func (m *MemoryStore) CreateGuarded(_ context.Context, b *Booking, g Guard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.UniquePerIdentity && m.hasIdentity(b.Flow, b.Identity, b.Date) {
		return ErrAlreadyBooked
	}
	if g.SlotCapacity > 0 && m.countSlot(b.Flow, b.Date, b.Time) >= g.SlotCapacity {
		return ErrSlotFull
	}
	if g.DayCapacity > 0 && m.countDay(b.Flow, b.Date) >= g.DayCapacity {
		return ErrDayFull
	}
	m.insert(b)
	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *b
	return &out, nil
}

// SetStatus changes a booking's status. Status transitions belong to the
// admin tooling; the store offers it for seeding and tests.
func (m *MemoryStore) SetStatus(id uuid.UUID, status BookingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return ErrNotFound
	}
	b.Status = status
	return nil
}

func (m *MemoryStore) ClosuresOn(_ context.Context, date civil.Date, scopes ...ClosureScope) ([]ClosureDate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ClosureDate
	for _, c := range m.closures {
		if c.Date != date {
			continue
		}
		for _, s := range scopes {
			if c.Scope == s {
				out = append(out, *c)
				break
			}
		}
	}
	sortClosures(out)
	return out, nil
}

func (m *MemoryStore) ListClosures(_ context.Context, scope ClosureScope, from, to civil.Date) ([]ClosureDate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ClosureDate
	for _, c := range m.closures {
		if c.Scope == scope && !c.Date.Before(from) && !c.Date.After(to) {
			out = append(out, *c)
		}
	}
	sortClosures(out)
	return out, nil
}

func (m *MemoryStore) AddClosure(_ context.Context, c *ClosureDate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.closures {
		if existing.Scope == c.Scope && existing.Date == c.Date {
			existing.Reason = c.Reason
			*c = *existing
			return nil
		}
	}
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	stored := *c
	m.closures[c.ID] = &stored
	return nil
}

func (m *MemoryStore) DeleteClosure(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.closures[id]; !ok {
		return ErrNotFound
	}
	delete(m.closures, id)
	return nil
}

func (m *MemoryStore) ListWorkingDays(_ context.Context) ([]WorkingDayRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]WorkingDayRule, 0, len(m.workingDays))
	for _, r := range m.workingDays {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

func (m *MemoryStore) UpsertWorkingDay(_ context.Context, r *WorkingDayRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.UpdatedAt = time.Now()
	stored := *r
	m.workingDays[r.Day] = &stored
	return nil
}

func sortClosures(cs []ClosureDate) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Date != cs[j].Date {
			return cs[i].Date.Before(cs[j].Date)
		}
		return cs[i].Scope < cs[j].Scope
	})
}
