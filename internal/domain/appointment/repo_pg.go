package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/booking/internal/platform/db"
)

// Dates travel as midnight UTC so the DATE column never shifts across zones.
func pgDate(d civil.Date) time.Time { return d.In(time.UTC) }

// =========== Booking Repository ===========

type bookingRepoPG struct{ pool *pgxpool.Pool }

func NewBookingRepoPG(pool *pgxpool.Pool) BookingRepository { return &bookingRepoPG{pool: pool} }

func (r *bookingRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const bookingCols = `id, flow, identity, name, company, booking_date, to_char(slot_time, 'HH24:MI'), status, created_at`

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var date time.Time
	var slot string
	if err := row.Scan(&b.ID, &b.Flow, &b.Identity, &b.Name, &b.Company, &date, &slot, &b.Status, &b.CreatedAt); err != nil {
		return nil, err
	}
	t, err := ParseTimeOfDay(slot)
	if err != nil {
		return nil, err
	}
	b.Date, b.Time = civil.DateOf(date), t
	return &b, nil
}

func (r *bookingRepoPG) CountPendingBySlot(ctx context.Context, flow Flow, date civil.Date) (map[TimeOfDay]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT to_char(slot_time, 'HH24:MI'), COUNT(*)
		FROM bookings
		WHERE flow = $1 AND booking_date = $2::date AND status = 'pending'
		GROUP BY slot_time`, flow, pgDate(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[TimeOfDay]int)
	for rows.Next() {
		var slot string
		var n int
		if err := rows.Scan(&slot, &n); err != nil {
			return nil, err
		}
		t, err := ParseTimeOfDay(slot)
		if err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

func (r *bookingRepoPG) CountPendingByDate(ctx context.Context, flow Flow, from, to civil.Date) (map[civil.Date]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT booking_date, COUNT(*)
		FROM bookings
		WHERE flow = $1 AND booking_date BETWEEN $2::date AND $3::date AND status = 'pending'
		GROUP BY booking_date`, flow, pgDate(from), pgDate(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[civil.Date]int)
	for rows.Next() {
		var d time.Time
		var n int
		if err := rows.Scan(&d, &n); err != nil {
			return nil, err
		}
		counts[civil.DateOf(d)] = n
	}
	return counts, rows.Err()
}

func (r *bookingRepoPG) HasPendingForIdentity(ctx context.Context, flow Flow, identity string, date civil.Date) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE flow = $1 AND identity = $2 AND booking_date = $3::date AND status = 'pending'
		)`, flow, identity, pgDate(date)).Scan(&exists)
	return exists, err
}

func (r *bookingRepoPG) Create(ctx context.Context, b *Booking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Status == "" {
		b.Status = StatusPending
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bookings (id, flow, identity, name, company, booking_date, slot_time, status)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7::time, $8)
		RETURNING created_at`,
		b.ID, b.Flow, b.Identity, b.Name, b.Company, pgDate(b.Date), b.Time.String(), b.Status,
	).Scan(&b.CreatedAt)
}

// CreateGuarded serialises writers of one (flow, date) with a transaction
// scoped advisory lock, re-counts and inserts before the lock is released.
func (r *bookingRepoPG) CreateGuarded(ctx context.Context, b *Booking, g Guard) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		tx := r.conn(ctx)
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey(b.Flow, b.Date)); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}

		if g.UniquePerIdentity {
			booked, err := r.HasPendingForIdentity(ctx, b.Flow, b.Identity, b.Date)
			if err != nil {
				return err
			}
			if booked {
				return ErrAlreadyBooked
			}
		}
		if g.SlotCapacity > 0 {
			var n int
			err := tx.QueryRow(ctx, `
				SELECT COUNT(*) FROM bookings
				WHERE flow = $1 AND booking_date = $2::date AND slot_time = $3::time AND status = 'pending'`,
				b.Flow, pgDate(b.Date), b.Time.String()).Scan(&n)
			if err != nil {
				return err
			}
			if n >= g.SlotCapacity {
				return ErrSlotFull
			}
		}
		if g.DayCapacity > 0 {
			var n int
			err := tx.QueryRow(ctx, `
				SELECT COUNT(*) FROM bookings
				WHERE flow = $1 AND booking_date = $2::date AND status = 'pending'`,
				b.Flow, pgDate(b.Date)).Scan(&n)
			if err != nil {
				return err
			}
			if n >= g.DayCapacity {
				return ErrDayFull
			}
		}
		return r.Create(ctx, b)
	})
}

func (r *bookingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := scanBooking(r.conn(ctx).QueryRow(ctx, `SELECT `+bookingCols+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

// =========== Schedule Config Repository ===========

type scheduleConfigRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleConfigRepoPG(pool *pgxpool.Pool) ScheduleConfigRepository {
	return &scheduleConfigRepoPG{pool: pool}
}

func (r *scheduleConfigRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const closureCols = `id, scope, closure_date, reason, created_by, created_at`

func scanClosures(rows pgx.Rows) ([]ClosureDate, error) {
	defer rows.Close()
	var out []ClosureDate
	for rows.Next() {
		var c ClosureDate
		var d time.Time
		if err := rows.Scan(&c.ID, &c.Scope, &d, &c.Reason, &c.CreatedBy, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Date = civil.DateOf(d)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *scheduleConfigRepoPG) ClosuresOn(ctx context.Context, date civil.Date, scopes ...ClosureScope) ([]ClosureDate, error) {
	names := make([]string, len(scopes))
	for i, s := range scopes {
		names[i] = string(s)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+closureCols+` FROM closure_dates
		WHERE closure_date = $1::date AND scope = ANY($2)
		ORDER BY scope`, pgDate(date), names)
	if err != nil {
		return nil, err
	}
	return scanClosures(rows)
}

func (r *scheduleConfigRepoPG) ListClosures(ctx context.Context, scope ClosureScope, from, to civil.Date) ([]ClosureDate, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+closureCols+` FROM closure_dates
		WHERE scope = $1 AND closure_date BETWEEN $2::date AND $3::date
		ORDER BY closure_date`, scope, pgDate(from), pgDate(to))
	if err != nil {
		return nil, err
	}
	return scanClosures(rows)
}

// AddClosure is idempotent per (scope, date); a repeat updates the reason.
func (r *scheduleConfigRepoPG) AddClosure(ctx context.Context, c *ClosureDate) error {
	var d time.Time
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO closure_dates (id, scope, closure_date, reason, created_by)
		VALUES ($1, $2, $3::date, $4, $5)
		ON CONFLICT (scope, closure_date) DO UPDATE SET reason = EXCLUDED.reason
		RETURNING `+closureCols,
		uuid.New(), c.Scope, pgDate(c.Date), c.Reason, c.CreatedBy,
	).Scan(&c.ID, &c.Scope, &d, &c.Reason, &c.CreatedBy, &c.CreatedAt)
	if err != nil {
		return err
	}
	c.Date = civil.DateOf(d)
	return nil
}

func (r *scheduleConfigRepoPG) DeleteClosure(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM closure_dates WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *scheduleConfigRepoPG) ListWorkingDays(ctx context.Context) ([]WorkingDayRule, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT day, is_working, max_appointments, updated_by, updated_at
		FROM working_day_rules ORDER BY day`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorkingDayRule
	for rows.Next() {
		var w WorkingDayRule
		var day int16
		if err := rows.Scan(&day, &w.IsWorking, &w.MaxAppointments, &w.UpdatedBy, &w.UpdatedAt); err != nil {
			return nil, err
		}
		w.Day = Weekday(day)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *scheduleConfigRepoPG) UpsertWorkingDay(ctx context.Context, w *WorkingDayRule) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO working_day_rules (day, is_working, max_appointments, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (day) DO UPDATE SET
			is_working = EXCLUDED.is_working,
			max_appointments = EXCLUDED.max_appointments,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()
		RETURNING updated_at`,
		int16(w.Day), w.IsWorking, w.MaxAppointments, w.UpdatedBy,
	).Scan(&w.UpdatedAt)
}
