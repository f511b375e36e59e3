package gatewaystate

import "testing"

func TestBroadcasterSubscribeOnlySeesLaterEvents(t *testing.T) {
	b := NewBroadcaster(4)

	// Published before any subscriber exists: nobody sees it.
	b.Publish(DispatchEvent{Payload: []byte("before")})

	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	delivered, dropped := b.Publish(DispatchEvent{Payload: []byte("after")})
	if delivered != 1 || dropped != 0 {
		t.Fatalf("delivered=%d dropped=%d, want 1,0", delivered, dropped)
	}

	select {
	case ev := <-ch:
		if string(ev.Payload) != "after" {
			t.Fatalf("payload = %q, want %q", ev.Payload, "after")
		}
	default:
		t.Fatal("expected an event to be queued")
	}
}

func TestBroadcasterDropsOnFullBufferWithoutBlocking(t *testing.T) {
	b := NewBroadcaster(1)
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	if _, dropped := b.Publish(DispatchEvent{Payload: []byte("1")}); dropped != 0 {
		t.Fatalf("unexpected drop on first publish")
	}
	delivered, dropped := b.Publish(DispatchEvent{Payload: []byte("2")})
	if delivered != 0 || dropped != 1 {
		t.Fatalf("delivered=%d dropped=%d, want 0,1", delivered, dropped)
	}

	// The slow subscriber still has its one buffered event, unaffected.
	ev := <-ch
	if string(ev.Payload) != "1" {
		t.Fatalf("payload = %q, want %q", ev.Payload, "1")
	}
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(1)
	ch, unsubscribe := b.Subscribe()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic or report delivery.
	delivered, _ := b.Publish(DispatchEvent{Payload: []byte("x")})
	if delivered != 0 {
		t.Fatalf("delivered = %d, want 0", delivered)
	}
}

func TestBroadcasterMultipleSubscribersEachGetEveryEvent(t *testing.T) {
	b := NewBroadcaster(4)
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	b.Publish(DispatchEvent{Payload: []byte("x")})

	for _, ch := range []<-chan DispatchEvent{ch1, ch2} {
		select {
		case ev := <-ch:
			if string(ev.Payload) != "x" {
				t.Fatalf("payload = %q, want %q", ev.Payload, "x")
			}
		default:
			t.Fatal("expected every subscriber to receive the event")
		}
	}
}
