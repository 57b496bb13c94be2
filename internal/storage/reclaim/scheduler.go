// Package reclaim drops tombstoned series after a grace period.
//
// A delete leaves a tombstone row behind so that late-arriving stale
// puts can be rejected, but tombstones for keys that never come back are
// pure storage bloat. The scheduler arms a one-shot check per series:
// once the grace period elapses, if no non-DEL row has appeared (no put
// resurrected the key), every row of the series is dropped, tombstone
// included.
//
// Reclamation is best-effort. Check and drop failures are logged, never
// escalated: a failed reclamation leaves a stale tombstone around until
// a future delete reschedules it, which is an accepted trade-off.
//
// The scheduler uses a min-heap of due entries with O(log n)
// add/remove/update, one entry per series; rescheduling a series
// supersedes its pending entry.
package reclaim

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ryltsov/histkv/internal/logging"
	"github.com/ryltsov/histkv/internal/storage/store"
)

// =============================================================================
// Heap
// =============================================================================

type dropEntry struct {
	series string
	due    time.Time
	index  int // Heap index for O(log n) updates
}

type dropHeap []*dropEntry

func (h dropHeap) Len() int { return len(h) }

func (h dropHeap) Less(i, j int) bool {
	return h[i].due.Before(h[j].due)
}

func (h dropHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *dropHeap) Push(x any) {
	entry := x.(*dropEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *dropHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil // Avoid memory leak
	entry.index = -1
	*h = old[0 : n-1]
	return entry
}

// =============================================================================
// Scheduler
// =============================================================================

// Stats holds reclamation statistics.
type Stats struct {
	Scheduled  atomic.Int64
	Superseded atomic.Int64
	Canceled   atomic.Int64
	Aborted    atomic.Int64 // checks that found a resurrecting put
	Dropped    atomic.Int64
	Errors     atomic.Int64
}

// SchedulerStats is a point-in-time copy of the statistics.
type SchedulerStats struct {
	Pending    int
	Scheduled  int64
	Superseded int64
	Canceled   int64
	Aborted    int64
	Dropped    int64
	Errors     int64
}

// Scheduler runs deferred reclamation checks against the store.
type Scheduler struct {
	mu      sync.Mutex
	heap    dropHeap
	entries map[string]*dropEntry

	store   *store.Store
	grace   time.Duration
	tick    time.Duration
	timeout time.Duration

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stats Stats
	log   *slog.Logger
}

// New creates a scheduler with the given grace period. Store calls made
// by fired checks are bounded by timeout.
func New(st *store.Store, grace, timeout time.Duration) *Scheduler {
	tick := grace / 10
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	if tick > time.Second {
		tick = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		entries: make(map[string]*dropEntry),
		store:   st,
		grace:   grace,
		tick:    tick,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		log:     logging.Component("reclaim"),
	}
}

// Start launches the scheduling loop.
func (s *Scheduler) Start() {
	if s.running.Swap(true) {
		return
	}
	s.wg.Add(1)
	go s.loop()
}

// Stop cancels the loop and abandons pending entries. In-flight checks
// are interrupted through their context.
func (s *Scheduler) Stop() {
	if !s.running.Swap(false) {
		return
	}
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	abandoned := len(s.entries)
	s.heap = nil
	s.entries = make(map[string]*dropEntry)
	s.mu.Unlock()

	if abandoned > 0 {
		s.log.Debug("abandoned pending reclamations on shutdown", "count", abandoned)
	}
}

// Schedule arms (or re-arms) the reclamation check for a series. A
// pending entry for the same series is superseded, so only the newest
// delete's deadline counts.
func (s *Scheduler) Schedule(series string) {
	due := time.Now().Add(s.grace)

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[series]; ok {
		entry.due = due
		heap.Fix(&s.heap, entry.index)
		s.stats.Superseded.Add(1)
		return
	}

	entry := &dropEntry{series: series, due: due}
	heap.Push(&s.heap, entry)
	s.entries[series] = entry
	s.stats.Scheduled.Add(1)
}

// Cancel removes a pending entry for the series, if any.
func (s *Scheduler) Cancel(series string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[series]; ok {
		heap.Remove(&s.heap, entry.index)
		delete(s.entries, series)
		s.stats.Canceled.Add(1)
	}
}

// Pending returns the number of armed entries.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heap)
}

// Stats returns current statistics.
func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Pending:    s.Pending(),
		Scheduled:  s.stats.Scheduled.Load(),
		Superseded: s.stats.Superseded.Load(),
		Canceled:   s.stats.Canceled.Load(),
		Aborted:    s.stats.Aborted.Load(),
		Dropped:    s.stats.Dropped.Load(),
		Errors:     s.stats.Errors.Load(),
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			for _, series := range s.takeDue(now) {
				s.wg.Add(1)
				go func(series string) {
					defer s.wg.Done()
					s.fire(series)
				}(series)
			}
		}
	}
}

// takeDue pops every entry whose deadline has passed.
func (s *Scheduler) takeDue(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []string
	for len(s.heap) > 0 && !s.heap[0].due.After(now) {
		entry := heap.Pop(&s.heap).(*dropEntry)
		delete(s.entries, entry.series)
		due = append(due, entry.series)
	}
	return due
}

// fire runs the check-and-reclaim step for one series. A resurrecting
// put aborts the drop; the check racing a concurrent put is resolved by
// whichever the store observes first.
func (s *Scheduler) fire(series string) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	live, err := s.store.HasLiveRow(ctx, series)
	if err != nil {
		s.stats.Errors.Add(1)
		s.log.Warn("reclamation check failed, keeping series", "series", series, "error", err)
		return
	}
	if live {
		s.stats.Aborted.Add(1)
		s.log.Debug("series has values newer than its tombstone, keeping it", "series", series)
		return
	}

	if err := s.store.DropSeries(ctx, series); err != nil {
		s.stats.Errors.Add(1)
		s.log.Warn("failed to drop tombstoned series", "series", series, "error", err)
		return
	}
	s.stats.Dropped.Add(1)
	s.log.Debug("dropped tombstoned series after grace period", "series", series)
}
