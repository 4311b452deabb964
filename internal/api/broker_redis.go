package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-logr/logr"
	redis "github.com/redis/go-redis/v9"

	"fleetroute/internal/logging"
	"fleetroute/internal/model"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so that every API replica sees
// the events of runs solved by any worker.
type RedisBroker struct {
	rdb *redis.Client
	log logr.Logger

	mu  sync.Mutex
	pss map[chan model.RunEvent]*redis.PubSub
}

func NewRedisBroker(url string, log logr.Logger) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &RedisBroker{rdb: rdb, log: log.WithName("redis-broker"), pss: map[chan model.RunEvent]*redis.PubSub{}}, nil
}

func (b *RedisBroker) Subscribe(runID string) chan model.RunEvent {
	ch := make(chan model.RunEvent, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, chanName(runID))
	// initial consume to ensure subscription
	if _, err := ps.Receive(ctx); err != nil {
		b.log.Error(err, "subscribe", "run", runID)
	}
	b.mu.Lock()
	b.pss[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt model.RunEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.log.V(logging.DEBUG).Info("dropping malformed event", "run", runID, "error", err.Error())
				continue
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}()
	return ch
}

// Unsubscribe closes the Redis subscription; ch is closed once its reader goroutine exits.
func (b *RedisBroker) Unsubscribe(runID string, ch chan model.RunEvent) {
	b.mu.Lock()
	ps := b.pss[ch]
	delete(b.pss, ch)
	b.mu.Unlock()
	if ps != nil {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(runID string, evt model.RunEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := b.rdb.Publish(ctx, chanName(runID), data).Err(); err != nil {
		b.log.Error(err, "publish", "run", runID, "type", evt.Type)
	}
}

func (b *RedisBroker) Close() error { return b.rdb.Close() }

func chanName(runID string) string { return "run:" + runID }
