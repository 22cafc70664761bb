package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"

    "taxifleet/internal/opt"
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

    // Runs counts finished optimization runs by outcome
    Runs = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "fleet_runs_total", Help: "Optimization runs by status."},
        []string{"status"},
    )
    // PhaseDuration records wall time per phase
    PhaseDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "fleet_phase_duration_seconds", Help: "Optimization phase duration in seconds.", Buckets: []float64{.001, .01, .1, .5, 1, 5, 15, 60, 300}},
        []string{"phase"},
    )
    // Merges counts vehicle merges per phase
    Merges = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "fleet_merges_total", Help: "Vehicle merges by phase."},
        []string{"phase"},
    )
    // FleetSize is the fleet of the last completed run
    FleetSize = prometheus.NewGauge(prometheus.GaugeOpts{Name: "fleet_size", Help: "Fleet size of the last completed run."})
    // EmptyMiles is the empty-mile total of the last completed run
    EmptyMiles = prometheus.NewGauge(prometheus.GaugeOpts{Name: "fleet_empty_miles", Help: "Empty miles of the last completed run."})

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(Runs)
        Registry.MustRegister(PhaseDuration)
        Registry.MustRegister(Merges)
        Registry.MustRegister(FleetSize)
        Registry.MustRegister(EmptyMiles)
        Registry.MustRegister(WebhookDeliveries)
        Registry.MustRegister(WebhookLatency)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once

// ObserveRun records a completed run.
func ObserveRun(res opt.Result) {
    Runs.WithLabelValues("completed").Inc()
    for ph := opt.Phase(0); ph < opt.NumPhases; ph++ {
        PhaseDuration.WithLabelValues(ph.String()).Observe(res.Metrics.Duration[ph].Seconds())
        Merges.WithLabelValues(ph.String()).Add(float64(res.Metrics.Merges[ph]))
    }
    FleetSize.Set(float64(res.Final.Taxis))
    EmptyMiles.Set(res.Final.EmptyMiles)
}

// ObserveFailure records a run that did not complete.
func ObserveFailure() { Runs.WithLabelValues("failed").Inc() }
