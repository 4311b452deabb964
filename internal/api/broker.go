package api

import (
	"sync"

	"fleetroute/internal/model"
)

// EventBroker fans run events out to stream subscribers.
type EventBroker interface {
	Subscribe(runID string) chan model.RunEvent
	Unsubscribe(runID string, ch chan model.RunEvent)
	Publish(runID string, evt model.RunEvent)
}

// Broker is the in-process EventBroker. Slow subscribers miss events rather than block
// publishers.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan model.RunEvent]struct{} // runId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan model.RunEvent]struct{}{}}
}

func (b *Broker) Subscribe(runID string) chan model.RunEvent {
	ch := make(chan model.RunEvent, 16)
	b.mu.Lock()
	if b.subs[runID] == nil {
		b.subs[runID] = map[chan model.RunEvent]struct{}{}
	}
	b.subs[runID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(runID string, ch chan model.RunEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[runID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, runID)
	}
	close(ch)
}

func (b *Broker) Publish(runID string, evt model.RunEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[runID] {
		select {
		case ch <- evt:
		default:
		}
	}
}
