package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Type: TaskCompleted, Data: "t1"})

	select {
	case e := <-ch:
		if e.Type != TaskCompleted || e.Data != "t1" {
			t.Fatalf("event: %+v", e)
		}
		if e.Time.IsZero() {
			t.Fatalf("expected publish to stamp time")
		}
	case <-time.After(time.Second):
		t.Fatalf("no event delivered")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: TaskFailed})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Publish blocked on a full subscriber")
	}
	// Buffer of 1, 100 publishes: 99 must be counted as dropped.
	if got := b.Dropped(); got != 99 {
		t.Fatalf("dropped: %d", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4)
	unsub()

	// Publishing after unsubscribe must not panic or deliver.
	b.Publish(Event{Type: JobFailed})

	if _, open := <-ch; open {
		t.Fatalf("expected closed channel after unsubscribe")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	b := New()
	ch1, u1 := b.Subscribe(4)
	ch2, u2 := b.Subscribe(4)
	defer u1()
	defer u2()

	b.Publish(Event{Type: TaskSkipped})
	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != TaskSkipped {
				t.Fatalf("subscriber %d: %+v", i, e)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d starved", i)
		}
	}
}
