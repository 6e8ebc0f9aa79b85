package metrics

import (
	"context"
	nethttp "net/http"
	"time"

	"github.com/Marketen/bunker-oracle/internal/logger"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bunker_oracle"

// Recorder holds the daemon's Prometheus collectors.
type Recorder struct {
	registry *prometheus.Registry

	isBunker         prometheus.Gauge
	decisions        *prometheus.CounterVec
	decisionDuration prometheus.Histogram
	lastRefSlot      prometheus.Gauge
}

// NewRecorder registers the collectors on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		isBunker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "is_bunker",
			Help:      "1 if the last decision turned bunker mode on.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Bunker decisions by result.",
		}, []string{"result"}),
		decisionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_duration_seconds",
			Help:      "Time spent on one bunker decision cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		lastRefSlot: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_ref_slot",
			Help:      "Reference slot of the last processed frame.",
		}),
	}
	r.registry.MustRegister(r.isBunker, r.decisions, r.decisionDuration, r.lastRefSlot)
	return r
}

// ObserveDecision records a finished decision.
func (r *Recorder) ObserveDecision(refSlot uint64, isBunker bool, took time.Duration) {
	result := "off"
	value := 0.0
	if isBunker {
		result = "on"
		value = 1
	}
	r.isBunker.Set(value)
	r.decisions.WithLabelValues(result).Inc()
	r.decisionDuration.Observe(took.Seconds())
	r.lastRefSlot.Set(float64(refSlot))
}

// ObserveFailure records a decision that could not be made.
func (r *Recorder) ObserveFailure(took time.Duration) {
	r.decisions.WithLabelValues("error").Inc()
	r.decisionDuration.Observe(took.Seconds())
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Serve exposes /metrics on address until ctx is cancelled. It returns once
// the server has shut down.
func (r *Recorder) Serve(ctx context.Context, address string) {
	mux := nethttp.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	server := &nethttp.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics on %s", address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		logger.Error("Metrics server stopped: %v", err)
		return
	}
	<-shutdownDone
}
