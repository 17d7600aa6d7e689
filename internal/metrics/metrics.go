package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application collectors.
	Registry = prometheus.NewRegistry()

	jobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genjobs",
			Name:      "jobs_submitted_total",
			Help:      "Generation jobs created, by kind.",
		},
		[]string{"kind"},
	)

	jobTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genjobs",
			Name:      "job_transitions_total",
			Help:      "Job state transitions, by kind and target status.",
		},
		[]string{"kind", "status"},
	)

	pollIterations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genjobs",
			Name:      "poll_iterations_total",
			Help:      "Provider status polls, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	providerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "genjobs",
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of outbound provider calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"op", "outcome"},
	)

	creditAuthorizations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genjobs",
			Name:      "credit_authorizations_total",
			Help:      "Credit ledger decisions, by charged pool.",
		},
		[]string{"result"},
	)

	activePollers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "genjobs",
			Name:      "active_pollers",
			Help:      "Poll tasks currently running in this process.",
		},
	)
)

func init() {
	Registry.MustRegister(
		jobsSubmitted,
		jobTransitions,
		pollIterations,
		providerDuration,
		creditAuthorizations,
		activePollers,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func JobSubmitted(kind string) { jobsSubmitted.WithLabelValues(kind).Inc() }

func JobTransition(kind, status string) { jobTransitions.WithLabelValues(kind, status).Inc() }

func PollIteration(kind, outcome string) { pollIterations.WithLabelValues(kind, outcome).Inc() }

func ProviderCall(op, outcome string, d time.Duration) {
	providerDuration.WithLabelValues(op, outcome).Observe(d.Seconds())
}

func CreditAuthorization(result string) { creditAuthorizations.WithLabelValues(result).Inc() }

func PollerStarted() { activePollers.Inc() }

func PollerStopped() { activePollers.Dec() }
