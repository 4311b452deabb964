package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Solves counts finished solves by source (sync, run, cli) and status
	Solves = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "routing_solves_total", Help: "Finished solves by source and status."},
		[]string{"source", "status"},
	)
	// SolveDuration records engine wall time in seconds
	SolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "routing_solve_duration_seconds", Help: "Solve wall time in seconds.", Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60}},
		[]string{"source"},
	)
	// SearchIterations records local search iterations per solve
	SearchIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "routing_search_iterations", Help: "Local search iterations per solve.", Buckets: prometheus.ExponentialBuckets(1, 4, 10)},
	)
	// DroppedNodes counts nodes left out of solutions
	DroppedNodes = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "routing_dropped_nodes_total", Help: "Nodes dropped from returned solutions."},
	)
	// RunsInFlight tracks runs being solved by workers
	RunsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "routing_runs_in_flight", Help: "Runs claimed and being solved."},
	)

	// CallbackDeliveries counts completion callback outcomes by event type and status
	CallbackDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "callback_deliveries_total", Help: "Callback deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// CallbackLatency tracks callback delivery latencies in milliseconds
	CallbackLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "callback_delivery_latency_ms", Help: "Callback delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(Solves)
		Registry.MustRegister(SolveDuration)
		Registry.MustRegister(SearchIterations)
		Registry.MustRegister(DroppedNodes)
		Registry.MustRegister(RunsInFlight)
		Registry.MustRegister(CallbackDeliveries)
		Registry.MustRegister(CallbackLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// ObserveSolve records one finished solve.
func ObserveSolve(source, status string, seconds float64, iterations, dropped int) {
	Solves.WithLabelValues(source, status).Inc()
	SolveDuration.WithLabelValues(source).Observe(seconds)
	SearchIterations.Observe(float64(iterations))
	DroppedNodes.Add(float64(dropped))
}
