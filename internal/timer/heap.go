package timer

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrManagerStopped is returned by Schedule after Stop.
var ErrManagerStopped = errors.New("timer manager is stopped")

// idleWait bounds how long the loop sleeps with nothing scheduled.
const idleWait = 24 * time.Hour

// TimerTask represents a task scheduled for future execution
type TimerTask struct {
	ID       string
	ExpiryAt time.Time
	Callback func()
	index    int // index in the heap (for heap.Interface)
}

// timerHeap is a min-heap of TimerTasks ordered by ExpiryAt
type timerHeap []*TimerTask

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	return h[i].ExpiryAt.Before(h[j].ExpiryAt)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	n := len(*h)
	task := x.(*TimerTask)
	task.index = n
	*h = append(*h, task)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[0 : n-1]
	return task
}

// TimerManager runs one-shot callbacks keyed by id from a single goroutine
// and a min-heap, so thousands of per-user timers share one clock timer.
// Scheduling an id that is already pending replaces it.
type TimerManager struct {
	clock   clockwork.Clock
	heap    timerHeap
	mu      sync.Mutex
	wakeup  chan struct{}
	tasks   map[string]*TimerTask
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	fired   uint64
}

// NewTimerManager creates a timer manager driven by clock. A nil clock uses
// the wall clock.
func NewTimerManager(clock clockwork.Clock) *TimerManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	tm := &TimerManager{
		clock:  clock,
		heap:   make(timerHeap, 0),
		wakeup: make(chan struct{}, 1),
		tasks:  make(map[string]*TimerTask),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	heap.Init(&tm.heap)
	return tm
}

// Start starts the scheduling loop
func (tm *TimerManager) Start() {
	go tm.run()
}

// Stop stops the loop. Pending tasks are dropped; callbacks already
// started keep running.
func (tm *TimerManager) Stop() {
	tm.mu.Lock()
	if tm.stopped {
		tm.mu.Unlock()
		return
	}
	tm.stopped = true
	close(tm.stopCh)
	tm.mu.Unlock()

	<-tm.doneCh
}

// Now returns the manager's current time.
func (tm *TimerManager) Now() time.Time {
	return tm.clock.Now()
}

// Schedule adds a new task to be executed at the specified time
func (tm *TimerManager) Schedule(id string, expiryAt time.Time, callback func()) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.stopped {
		return ErrManagerStopped
	}

	if existing, ok := tm.tasks[id]; ok {
		heap.Remove(&tm.heap, existing.index)
		delete(tm.tasks, id)
	}

	task := &TimerTask{
		ID:       id,
		ExpiryAt: expiryAt,
		Callback: callback,
	}

	heap.Push(&tm.heap, task)
	tm.tasks[id] = task

	// Wake up the loop if this is the earliest task
	if tm.heap[0] == task {
		select {
		case tm.wakeup <- struct{}{}:
		default:
		}
	}

	return nil
}

// ScheduleAfter schedules callback to run d from now.
func (tm *TimerManager) ScheduleAfter(id string, d time.Duration, callback func()) error {
	return tm.Schedule(id, tm.clock.Now().Add(d), callback)
}

// Cancel removes a scheduled task
func (tm *TimerManager) Cancel(id string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task, ok := tm.tasks[id]
	if !ok {
		return false
	}

	heap.Remove(&tm.heap, task.index)
	delete(tm.tasks, id)
	return true
}

// Pending reports whether id is scheduled and has not fired.
func (tm *TimerManager) Pending(id string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	_, ok := tm.tasks[id]
	return ok
}

func (tm *TimerManager) run() {
	defer close(tm.doneCh)

	for {
		tm.mu.Lock()

		if tm.stopped {
			tm.mu.Unlock()
			return
		}

		waitDuration := idleWait
		if tm.heap.Len() > 0 {
			next := tm.heap[0]
			waitDuration = next.ExpiryAt.Sub(tm.clock.Now())

			if waitDuration <= 0 {
				task := heap.Pop(&tm.heap).(*TimerTask)
				delete(tm.tasks, task.ID)
				tm.fired++

				go task.Callback()

				tm.mu.Unlock()
				continue
			}
		}

		tm.mu.Unlock()

		timer := tm.clock.NewTimer(waitDuration)
		select {
		case <-timer.Chan():
		case <-tm.wakeup:
			timer.Stop()
		case <-tm.stopCh:
			timer.Stop()
			return
		}
	}
}

// Stats returns statistics about the timer manager
func (tm *TimerManager) Stats() TimerStats {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	return TimerStats{
		ScheduledTasks: len(tm.tasks),
		FiredTasks:     tm.fired,
	}
}

// TimerStats contains statistics about the timer manager
type TimerStats struct {
	ScheduledTasks int
	FiredTasks     uint64
}
