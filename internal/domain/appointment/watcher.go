package appointment

import (
	"context"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
)

// SlotSource computes the patient slots of a date.
type SlotSource interface {
	ComputeSlots(ctx context.Context, date civil.Date) ([]TimeSlot, error)
}

// Snapshot is one refresh result.
type Snapshot struct {
	Date       civil.Date `json:"date"`
	Slots      []TimeSlot `json:"slots,omitempty"`
	Err        error      `json:"-"`
	Verdict    *Verdict   `json:"error,omitempty"`
	Generation uint64     `json:"generation"`
	At         time.Time  `json:"at"`
}

// SlotWatcher keeps a date's slot list fresh. Every refresh gets a new
// generation; starting one cancels the read in flight, and a result is
// published only if no newer refresh began before it completed.
type SlotWatcher struct {
	src      SlotSource
	logger   zerolog.Logger
	interval time.Duration

	mu       sync.Mutex
	date     civil.Date
	gen      uint64
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	sendMu sync.Mutex
	kick   chan struct{}
	out    chan Snapshot
}

func NewSlotWatcher(src SlotSource, date civil.Date, interval time.Duration, logger zerolog.Logger) *SlotWatcher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SlotWatcher{
		src:      src,
		logger:   logger,
		interval: interval,
		date:     date,
		kick:     make(chan struct{}, 1),
		out:      make(chan Snapshot, 1),
	}
}

// Updates delivers snapshots in generation order. It is closed when Run
// returns.
func (w *SlotWatcher) Updates() <-chan Snapshot { return w.out }

// Date returns the date currently watched.
func (w *SlotWatcher) Date() civil.Date {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.date
}

// SetDate switches the watched date and triggers an immediate refresh.
func (w *SlotWatcher) SetDate(d civil.Date) {
	w.mu.Lock()
	w.date = d
	w.mu.Unlock()
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Run refreshes on start, on every tick and on every date change. It blocks
// until ctx is cancelled.
func (w *SlotWatcher) Run(ctx context.Context) {
	defer close(w.out)
	defer w.inflight.Wait()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.cancel != nil {
				w.cancel()
			}
			w.mu.Unlock()
			return
		case <-ticker.C:
			w.refresh(ctx)
		case <-w.kick:
			ticker.Reset(w.interval)
			w.refresh(ctx)
		}
	}
}

func (w *SlotWatcher) refresh(parent context.Context) {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.gen++
	gen, date := w.gen, w.date
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel
	w.inflight.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.inflight.Done()
		defer cancel()
		slots, err := w.src.ComputeSlots(ctx, date)
		snap := Snapshot{Date: date, Slots: slots, Err: err, Generation: gen, At: time.Now()}
		if err != nil {
			v := VerdictOf(err)
			snap.Verdict = &v
		}
		w.publish(parent, snap)
	}()
}

func (w *SlotWatcher) current(gen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return gen == w.gen
}

func (w *SlotWatcher) publish(ctx context.Context, s Snapshot) {
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if !w.current(s.Generation) {
		w.logger.Debug().Uint64("generation", s.Generation).Str("date", s.Date.String()).Msg("discarding stale slot refresh")
		return
	}
	if s.Err != nil {
		w.logger.Error().Err(s.Err).Str("date", s.Date.String()).Msg("slot refresh failed")
	}
	select {
	case w.out <- s:
	case <-ctx.Done():
	}
}
