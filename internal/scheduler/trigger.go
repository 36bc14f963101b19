package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DueFunc is invoked when a registered schedule becomes due. The callback
// receives the schedule id and the recomputed fire time that follows this
// one (zero when the expression never fires again). Callbacks must return
// quickly; slow work belongs on a worker pool, never in the timer loop.
type DueFunc func(id string, next time.Time)

// triggerEntry is one registered schedule in the pending set
type triggerEntry struct {
	id    string
	sched cron.Schedule
	next  time.Time
	onDue DueFunc
	index int
}

// triggerHeap is a min-heap of entries ordered by next fire time
type triggerHeap []*triggerEntry

func (h triggerHeap) Len() int { return len(h) }

func (h triggerHeap) Less(i, j int) bool {
	if h[i].next.Equal(h[j].next) {
		return h[i].id < h[j].id
	}
	return h[i].next.Before(h[j].next)
}

func (h triggerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *triggerHeap) Push(x interface{}) {
	entry := x.(*triggerEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *triggerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[0 : n-1]
	return entry
}

// CronTrigger computes fire times for registered schedules and invokes
// their callbacks when due. A single timer loop drives the whole pending
// set: it sleeps until the earliest entry is due, fires it exactly once,
// reinserts it with its recomputed next fire time, and re-arms. When the
// loop detects entries whose fire time has already passed it fires each of
// them once immediately; missed intermediate ticks are never replayed.
type CronTrigger struct {
	logger *zap.Logger

	mu      sync.Mutex
	heap    triggerHeap
	entries map[string]*triggerEntry
	started bool
	stop    chan struct{}
	done    chan struct{}

	wake chan struct{}
}

// dueFire is a callback captured under the lock, invoked outside it
type dueFire struct {
	id    string
	next  time.Time
	onDue DueFunc
}

// NewCronTrigger creates a trigger engine
func NewCronTrigger(logger *zap.Logger) *CronTrigger {
	return &CronTrigger{
		logger:  logger.Named("trigger"),
		entries: make(map[string]*triggerEntry),
		wake:    make(chan struct{}, 1),
	}
}

// Register adds a schedule to the pending set. Fails with ErrInvalidCron
// on a malformed expression; registering an id again replaces its entry.
func (t *CronTrigger) Register(id, expr string, onDue DueFunc) error {
	schedule, err := ParseCron(expr)
	if err != nil {
		return err
	}
	t.add(id, schedule, onDue)
	return nil
}

// Unregister removes a schedule from the pending set. Unknown ids are a no-op.
func (t *CronTrigger) Unregister(id string) {
	t.mu.Lock()
	entry, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
		heap.Remove(&t.heap, entry.index)
	}
	t.mu.Unlock()

	if ok {
		t.logger.Info("Unregistered schedule", zap.String("id", id))
		t.kick()
	}
}

// Reschedule atomically replaces the expression of a registered schedule.
// A parse failure leaves the existing registration untouched.
func (t *CronTrigger) Reschedule(id, expr string) error {
	schedule, err := ParseCron(expr)
	if err != nil {
		return err
	}

	next := schedule.Next(time.Now())

	t.mu.Lock()
	entry, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	if next.IsZero() {
		delete(t.entries, id)
		heap.Remove(&t.heap, entry.index)
		t.mu.Unlock()
		t.logger.Warn("Expression has no future fire times, dropping schedule",
			zap.String("id", id),
			zap.String("expression", expr))
		t.kick()
		return nil
	}
	entry.sched = schedule
	entry.next = next
	heap.Fix(&t.heap, entry.index)
	t.mu.Unlock()

	t.logger.Info("Rescheduled",
		zap.String("id", id),
		zap.String("expression", expr),
		zap.Time("next_fire", next))
	t.kick()
	return nil
}

// Clear drops every pending entry at once.
func (t *CronTrigger) Clear() {
	t.mu.Lock()
	t.heap = t.heap[:0]
	t.entries = make(map[string]*triggerEntry)
	t.mu.Unlock()
	t.kick()
}

// Registered reports whether an id is in the pending set
func (t *CronTrigger) Registered(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[id]
	return ok
}

// Pending returns the number of registered schedules
func (t *CronTrigger) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.heap)
}

// Start launches the timer loop. Starting a running engine is a no-op.
func (t *CronTrigger) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	stop, done := t.stop, t.done
	t.mu.Unlock()

	go t.run(ctx, stop, done)
	t.logger.Info("Trigger engine started")
	return nil
}

// Stop halts the timer loop and waits for it to exit. Entries stay in the
// pending set; a stopped engine simply never fires.
func (t *CronTrigger) Stop() {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return
	}
	t.started = false
	stop, done := t.stop, t.done
	t.mu.Unlock()

	close(stop)
	<-done
	t.logger.Info("Trigger engine stopped")
}

// add inserts an entry, replacing any previous registration of the id
func (t *CronTrigger) add(id string, schedule cron.Schedule, onDue DueFunc) {
	next := schedule.Next(time.Now())

	t.mu.Lock()
	if existing, ok := t.entries[id]; ok {
		delete(t.entries, id)
		heap.Remove(&t.heap, existing.index)
	}
	if next.IsZero() {
		t.mu.Unlock()
		t.logger.Warn("Expression has no future fire times, not registering",
			zap.String("id", id))
		return
	}
	entry := &triggerEntry{id: id, sched: schedule, next: next, onDue: onDue}
	heap.Push(&t.heap, entry)
	t.entries[id] = entry
	t.mu.Unlock()

	t.logger.Info("Registered schedule",
		zap.String("id", id),
		zap.Time("next_fire", next))
	t.kick()
}

// kick re-arms the timer loop after the pending set changed
func (t *CronTrigger) kick() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// run is the timer loop
func (t *CronTrigger) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	for {
		for _, due := range t.collectDue(time.Now()) {
			t.fire(due)
		}

		var timer *time.Timer
		var timerC <-chan time.Time
		if next, ok := t.peek(); ok {
			timer = time.NewTimer(time.Until(next))
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-t.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// collectDue pops every entry due at or before now and reinserts it with
// its recomputed next fire time. Recomputation uses Next(now), so an entry
// that lagged behind fires once and skips the missed ticks.
func (t *CronTrigger) collectDue(now time.Time) []dueFire {
	t.mu.Lock()
	defer t.mu.Unlock()

	var due []dueFire
	for len(t.heap) > 0 && !t.heap[0].next.After(now) {
		entry := t.heap[0]
		next := entry.sched.Next(now)
		if next.IsZero() {
			heap.Pop(&t.heap)
			delete(t.entries, entry.id)
			t.logger.Warn("Expression has no future fire times, dropping schedule",
				zap.String("id", entry.id))
		} else {
			entry.next = next
			heap.Fix(&t.heap, 0)
		}
		due = append(due, dueFire{id: entry.id, next: next, onDue: entry.onDue})
	}
	return due
}

// fire invokes one due callback outside the lock, shielding the loop
func (t *CronTrigger) fire(due dueFire) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Due callback panicked",
				zap.String("id", due.id),
				zap.Any("panic", r))
		}
	}()
	due.onDue(due.id, due.next)
}

// peek returns the earliest pending fire time
func (t *CronTrigger) peek() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.heap) == 0 {
		return time.Time{}, false
	}
	return t.heap[0].next, true
}
