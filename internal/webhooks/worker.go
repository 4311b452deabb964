package webhooks

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-logr/logr"

	"fleetroute/internal/logging"
	"fleetroute/internal/metrics"
	"fleetroute/internal/store"
)

// Worker delivers queued run callbacks with exponential backoff.
type Worker struct {
	Store       store.Store
	HTTP        *http.Client
	Stop        chan struct{}
	MaxAttempts int
	Interval    time.Duration
	Log         logr.Logger
}

func NewWorker(s store.Store, log logr.Logger) *Worker {
	return &Worker{
		Store:       s,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		Stop:        make(chan struct{}),
		MaxAttempts: 10,
		Interval:    time.Second,
		Log:         log.WithName("callbacks"),
	}
}

func (w *Worker) Start() {
	go func() {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.Stop:
				return
			case <-ticker.C:
				w.processOnce()
			}
		}
	}()
}

func (w *Worker) processOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	items, err := w.Store.FetchDueCallbacks(ctx, 50)
	if err != nil {
		w.Log.Error(err, "fetch due callbacks")
		return
	}
	for _, it := range items {
		w.deliver(ctx, it)
	}
}

func (w *Worker) deliver(ctx context.Context, it store.CallbackDelivery) {
	success := false
	code := 0
	lastErr := ""
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err == nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderEventType, it.EventType)
		req.Header.Set(HeaderRunID, it.RunID)
		req.Header.Set(HeaderDeliveryID, it.ID)
		if it.Secret != "" {
			req.Header.Set(HeaderSignature, Sign(it.Secret, it.Payload))
		}
		var resp *http.Response
		resp, err = w.HTTP.Do(req)
		if err == nil {
			code = resp.StatusCode
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			success = code >= 200 && code < 300
			if !success {
				lastErr = "status " + strconv.Itoa(code)
			}
		}
	}
	if err != nil {
		lastErr = err.Error()
	}
	latency := int(time.Since(start).Milliseconds())
	log := w.Log.WithValues("delivery", it.ID, "run", it.RunID, "attempt", it.Attempts+1)

	status := store.DeliveryDelivered
	switch {
	case success:
		err = w.Store.MarkCallback(ctx, it.ID, true, nil, "", code, latency)
		log.V(logging.DEBUG).Info("callback delivered", "code", code, "latencyMs", latency)
	case it.Attempts+1 >= w.MaxAttempts:
		status = store.DeliveryFailed
		err = w.Store.FailCallback(ctx, it.ID, lastErr, code, latency)
		log.Info("callback abandoned", "error", lastErr)
	default:
		status = store.DeliveryRetry
		next := time.Now().Add(nextBackoff(it.Attempts))
		err = w.Store.MarkCallback(ctx, it.ID, false, &next, lastErr, code, latency)
		log.V(logging.DEBUG).Info("callback retry scheduled", "error", lastErr, "next", next)
	}
	if err != nil {
		log.Error(err, "record callback outcome")
	}
	metrics.CallbackDeliveries.WithLabelValues(it.EventType, status).Inc()
	metrics.CallbackLatency.WithLabelValues(it.EventType, status).Observe(float64(latency))
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
