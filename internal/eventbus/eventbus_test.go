package eventbus

import "testing"

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	b.Publish(Event{Kind: KindPeerUpdate, Status: PeerStatusConnected})

	select {
	case e := <-sub.Events():
		if e.Kind != KindPeerUpdate || e.Status != PeerStatusConnected {
			t.Fatalf("got %+v", e)
		}
	default:
		t.Fatal("expected event to be delivered synchronously into the buffered channel")
	}
}

func TestPublishDropsOnFullChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	for i := 0; i < subscriberChanDepth+10; i++ {
		b.Publish(Event{Kind: KindIntercom, Intercom: IntercomSend})
	}

	count := 0
	for {
		select {
		case <-sub.Events():
			count++
			continue
		default:
		}
		break
	}
	if count != subscriberChanDepth {
		t.Fatalf("expected exactly %d buffered events, got %d", subscriberChanDepth, count)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	sub.Unsubscribe()
	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected channel to be closed")
	}
}
