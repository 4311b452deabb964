package api

import (
	"testing"
	"time"

	"fleetroute/internal/model"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	rid := "r1"
	ch := b.Subscribe(rid)

	evt := model.RunEvent{RunID: rid, Type: model.EventRunProgress, Iteration: 3, Objective: 42}
	b.Publish(rid, evt)
	b.Publish("other", model.RunEvent{RunID: "other", Type: model.EventRunFailed})

	select {
	case got := <-ch:
		if got.Type != evt.Type || got.Objective != 42 {
			t.Fatalf("bad event: %+v", got)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	select {
	case got := <-ch:
		t.Fatalf("received another run's event: %+v", got)
	default:
	}

	b.Unsubscribe(rid, ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// a second unsubscribe and later publishes are harmless
	b.Unsubscribe(rid, ch)
	b.Publish(rid, evt)
}

func TestBrokerDropsWhenSubscriberIsSlow(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("r")
	for i := 0; i < 100; i++ {
		b.Publish("r", model.RunEvent{RunID: "r", Iteration: i})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("want full buffer %d, got %d", cap(ch), len(ch))
	}
	if got := <-ch; got.Iteration != 0 {
		t.Fatalf("want oldest event first, got %d", got.Iteration)
	}
}

func TestRedisChannelName(t *testing.T) {
	if got := chanName("abc"); got != "run:abc" {
		t.Fatalf("got %s", got)
	}
}
