package alarm

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

// MemoryNotifier keeps notifications and completed prayers in memory. It
// backs dry runs, where the schedule is computed and printed but nothing is
// persisted.
type MemoryNotifier struct {
	mu        sync.Mutex
	next      int
	pending   map[string]Notification
	completed map[string]map[string]bool // date -> prayer
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{
		pending:   map[string]Notification{},
		completed: map[string]map[string]bool{},
	}
}

func (m *MemoryNotifier) Schedule(ctx context.Context, n Notification) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	n.ID = "mem-" + strconv.Itoa(m.next)
	m.pending[n.ID] = n
	return n.ID, nil
}

func (m *MemoryNotifier) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
	return nil
}

// List returns pending notifications ordered by trigger, then prayer name.
func (m *MemoryNotifier) List(ctx context.Context) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, 0, len(m.pending))
	for _, n := range m.pending {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Trigger.Equal(out[j].Trigger) {
			return out[i].Trigger.Before(out[j].Trigger)
		}
		return out[i].Payload.Prayer < out[j].Payload.Prayer
	})
	return out, nil
}

func (m *MemoryNotifier) MarkCompleted(ctx context.Context, date, prayer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completed[date] == nil {
		m.completed[date] = map[string]bool{}
	}
	m.completed[date][prayer] = true
	return nil
}

func (m *MemoryNotifier) Completed(ctx context.Context, date string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.completed[date]))
	for p := range m.completed[date] {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}
