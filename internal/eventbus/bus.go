package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the runtime.
const (
	TaskCompleted = "task.completed"
	TaskFailed    = "task.failed"
	TaskSkipped   = "task.skipped"
	JobFailed     = "job.failed"
)

// TaskEvent is the Data payload for task lifecycle events: the persisted
// task whose drain attempt completed, exhausted its retries, or had no
// registered handler.
type TaskEvent struct {
	ID       string
	TaskType string
	Error    string
}

// JobEvent is the Data payload for JobFailed: a named periodic job whose
// run returned an error or panicked.
type JobEvent struct {
	Job   string
	Error string
}

// Event is a lightweight, in-memory signal used to decouple components
// from the scheduler without polling storage.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Slow subscribers drop events (counted, see Dropped).
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	// Dropped reports how many events were lost to full subscriber buffers.
	Dropped() uint64
}

// New returns a simple in-memory fanout bus.
// It does not own any background goroutines.
func New() Bus {
	return &memBus{}
}

type subscriber struct {
	ch     chan Event
	closed atomic.Bool
}

type memBus struct {
	mu      sync.RWMutex
	subs    []*subscriber
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold the lock while sending.
	b.mu.RLock()
	subs := make([]*subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(sub, e)
	}
}

func (b *memBus) deliver(sub *subscriber, e Event) {
	// An unsubscribe can close the channel between the snapshot and the
	// send; absorb the send panic instead of coordinating.
	defer func() { _ = recover() }()
	if sub.closed.Load() {
		return
	}
	select {
	case sub.ch <- e:
	default:
		b.dropped.Add(1)
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	sub := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			for i, s := range b.subs {
				if s == sub {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
			sub.closed.Store(true)
			close(sub.ch)
		})
	}
	return sub.ch, unsub
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
