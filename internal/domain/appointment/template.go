package appointment

import (
	"fmt"
	"sort"
	"time"
)

// TemplateSlot is a nominal slot before occupancy and cutoffs are applied.
type TemplateSlot struct {
	Time        TimeOfDay
	Window      WindowName
	MaxBookings int
}

// GenerateTemplate steps through each window from Start to End inclusive.
// A slot is never emitted past End: when End is not a whole number of
// intervals from Start, the last slot is the final step before End.
// Output is sorted by time; a time shared by overlapping windows is kept once,
// tagged with the first window that produced it.
func GenerateTemplate(windows []Window, interval time.Duration, capacity int) ([]TemplateSlot, error) {
	step := int(interval / time.Minute)
	if step <= 0 || interval%time.Minute != 0 {
		return nil, fmt.Errorf("slot interval must be a positive whole number of minutes, got %s", interval)
	}
	if capacity < 1 {
		return nil, fmt.Errorf("slot capacity must be at least 1, got %d", capacity)
	}

	seen := make(map[TimeOfDay]bool)
	var slots []TemplateSlot
	for _, w := range windows {
		if w.End < w.Start {
			return nil, fmt.Errorf("window %s ends before it starts", w.Name)
		}
		for t := w.Start; t <= w.End && int(t) < minutesPerDay; t += TimeOfDay(step) {
			if seen[t] {
				continue
			}
			seen[t] = true
			slots = append(slots, TemplateSlot{Time: t, Window: w.Name, MaxBookings: capacity})
		}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Time < slots[j].Time })
	return slots, nil
}

// findSlot returns the template slot at t.
func findSlot(template []TemplateSlot, t TimeOfDay) (TemplateSlot, bool) {
	i := sort.Search(len(template), func(i int) bool { return template[i].Time >= t })
	if i < len(template) && template[i].Time == t {
		return template[i], true
	}
	return TemplateSlot{}, false
}
