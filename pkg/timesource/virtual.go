package timesource

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// Virtual is a deterministic Source for tests and simulated timelines.
//
// Time only moves when Advance or AdvanceTo is called. Timers registered
// through After, Sleep or NewTimer fire in deadline order as the virtual
// time sweeps past them; ties fire in registration order.
type Virtual struct {
	mu      sync.Mutex
	now     time.Time
	pending pendingHeap
	nextID  uint64

	// waiting counts goroutines currently blocked on a virtual timer.
	waiting atomic.Int64
}

// NewVirtual creates a Virtual source starting at the given instant.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

// Now returns the current virtual time.
func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Since returns the virtual duration since t.
func (v *Virtual) Since(t time.Time) time.Duration {
	return v.Now().Sub(t)
}

// Until returns the virtual duration until t.
func (v *Virtual) Until(t time.Time) time.Duration {
	return t.Sub(v.Now())
}

// Sleep blocks until the virtual clock advances past the wake time.
func (v *Virtual) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-v.After(d)
}

// After returns a channel that receives once the virtual clock has
// advanced by d.
func (v *Virtual) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)

	v.mu.Lock()
	if d <= 0 {
		ch <- v.now
		v.mu.Unlock()
		return ch
	}
	v.register(v.now.Add(d), ch)
	// Count the waiter before releasing the lock so a concurrent Advance
	// cannot fire the timer and decrement past zero first.
	v.waiting.Add(1)
	v.mu.Unlock()

	return ch
}

// NewTimer creates a Timer that fires once the virtual clock has advanced by d.
func (v *Virtual) NewTimer(d time.Duration) Timer {
	ch := make(chan time.Time, 1)

	v.mu.Lock()
	if d <= 0 {
		ch <- v.now
		v.mu.Unlock()
		return &virtualTimer{source: v, ch: ch}
	}
	id := v.register(v.now.Add(d), ch)
	v.waiting.Add(1)
	v.mu.Unlock()

	return &virtualTimer{source: v, ch: ch, id: id, armed: true}
}

// Advance moves the virtual clock forward by d, firing every timer whose
// deadline is reached.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.advanceTo(v.now.Add(d))
}

// AdvanceTo moves the virtual clock to t, firing every timer whose
// deadline is reached. Moving backwards is a no-op.
func (v *Virtual) AdvanceTo(t time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.advanceTo(t)
}

// AwaitWaiters blocks until at least n goroutines are parked on a virtual
// timer. Tests use this to ensure goroutines have reached their wait points
// before advancing time.
func (v *Virtual) AwaitWaiters(n int) {
	for int(v.waiting.Load()) < n {
		time.Sleep(time.Microsecond)
	}
}

// WaiterCount returns the number of goroutines parked on a virtual timer.
func (v *Virtual) WaiterCount() int {
	return int(v.waiting.Load())
}

// PendingTimers returns the number of timers not yet fired.
func (v *Virtual) PendingTimers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pending.Len()
}

// NextDeadline reports the earliest pending timer deadline.
// The second return is false when no timers are pending.
func (v *Virtual) NextDeadline() (time.Time, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pending.Len() == 0 {
		return time.Time{}, false
	}
	return v.pending[0].deadline, true
}

// advanceTo sweeps time forward to t. Caller must hold v.mu.
func (v *Virtual) advanceTo(t time.Time) {
	if t.Before(v.now) {
		return
	}
	for v.pending.Len() > 0 && !v.pending[0].deadline.After(t) {
		p := heap.Pop(&v.pending).(*pendingTimer)
		v.now = p.deadline
		select {
		case p.ch <- p.deadline:
			v.waiting.Add(-1)
		default:
		}
	}
	v.now = t
}

// register queues a timer. Caller must hold v.mu.
func (v *Virtual) register(deadline time.Time, ch chan time.Time) uint64 {
	v.nextID++
	heap.Push(&v.pending, &pendingTimer{
		deadline: deadline,
		ch:       ch,
		id:       v.nextID,
	})
	return v.nextID
}

// deregister removes a timer by ID. Caller must hold v.mu.
func (v *Virtual) deregister(id uint64) bool {
	for i, p := range v.pending {
		if p.id == id {
			heap.Remove(&v.pending, i)
			return true
		}
	}
	return false
}

// pendingTimer is a timer waiting for the virtual clock to reach its deadline.
type pendingTimer struct {
	deadline time.Time
	ch       chan time.Time
	id       uint64
	index    int
}

// pendingHeap is a min-heap of timers ordered by deadline, then ID.
type pendingHeap []*pendingTimer

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].id < h[j].id // FIFO for equal deadlines
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h pendingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *pendingHeap) Push(x any) {
	p := x.(*pendingTimer)
	p.index = len(*h)
	*h = append(*h, p)
}

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	p.index = -1
	*h = old[0 : n-1]
	return p
}

// virtualTimer implements Timer for Virtual.
type virtualTimer struct {
	source *Virtual
	ch     chan time.Time
	id     uint64
	mu     sync.Mutex
	armed  bool
}

func (t *virtualTimer) C() <-chan time.Time {
	return t.ch
}

func (t *virtualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.armed {
		return false
	}
	t.armed = false

	t.source.mu.Lock()
	removed := t.source.deregister(t.id)
	t.source.mu.Unlock()

	if removed {
		t.source.waiting.Add(-1)
	}
	return removed
}
