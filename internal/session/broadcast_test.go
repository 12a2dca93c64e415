package session

import "testing"

func TestBroadcasterDeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster[int]()
	ch1, unsub1 := b.Subscribe(1)
	ch2, unsub2 := b.Subscribe(1)
	defer unsub1()
	defer unsub2()

	b.Publish(42)

	if v := <-ch1; v != 42 {
		t.Fatalf("ch1 got %d", v)
	}
	if v := <-ch2; v != 42 {
		t.Fatalf("ch2 got %d", v)
	}
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster[int]()
	ch, unsub := b.Subscribe(1)
	unsub()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}

func TestBroadcasterFullSubscriberDropsWithoutBlocking(t *testing.T) {
	b := NewBroadcaster[int]()
	_, unsub := b.Subscribe(0) // unbuffered, never read
	defer unsub()

	done := make(chan struct{})
	go func() {
		b.Publish(1)
		b.Publish(2)
		close(done)
	}()
	<-done // must not hang
}

func TestSubscriberCount(t *testing.T) {
	b := NewBroadcaster[int]()
	if b.SubscriberCount() != 0 {
		t.Fatal("expected 0 subscribers initially")
	}
	_, unsub := b.Subscribe(1)
	if b.SubscriberCount() != 1 {
		t.Fatal("expected 1 subscriber")
	}
	unsub()
	if b.SubscriberCount() != 0 {
		t.Fatal("expected 0 subscribers after unsubscribe")
	}
}
