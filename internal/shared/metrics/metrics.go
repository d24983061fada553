package metrics

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector exported by this process.
var Registry = prometheus.NewRegistry()

var (
	jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radar_analysis_jobs_total",
		Help: "Analysis jobs handled, by outcome",
	}, []string{"outcome"})

	providerCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radar_provider_calls_total",
		Help: "Provider Analyze calls, by provider and result kind",
	}, []string{"provider", "result"})

	analysisDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "radar_analysis_duration_seconds",
		Help:    "Wall time from claim to completed/failed per job attempt",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	healthRecalcTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radar_health_recalculations_total",
		Help: "Client health recalculations, by trigger and result",
	}, []string{"trigger", "result"})

	sweepClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "radar_health_sweep_last_clients",
		Help: "Clients processed by the most recent full sweep",
	})
)

func init() {
	Registry.MustRegister(
		jobsTotal,
		providerCallsTotal,
		analysisDuration,
		healthRecalcTotal,
		sweepClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Job outcomes.
const (
	JobReceived     = "received"
	JobCompleted    = "completed"
	JobRequeued     = "requeued"
	JobDeadLettered = "dead_lettered"
	JobDropped      = "dropped"
	JobDeferred     = "deferred"
	JobUndecodable  = "undecodable"
)

// IncJob increments the job counter for an outcome.
func IncJob(outcome string) {
	jobsTotal.WithLabelValues(outcome).Inc()
}

// IncProviderCall records one provider call. result is "ok" or an error kind.
func IncProviderCall(provider, result string) {
	providerCallsTotal.WithLabelValues(provider, result).Inc()
}

// ObserveAnalysisDuration records the duration of one job attempt.
func ObserveAnalysisDuration(d time.Duration) {
	if d < 0 {
		d = 0
	}
	analysisDuration.Observe(d.Seconds())
}

// IncHealthRecalc records a health recalculation.
func IncHealthRecalc(trigger string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	healthRecalcTotal.WithLabelValues(trigger, result).Inc()
}

// SetSweepClients records the size of the last sweep.
func SetSweepClients(n int) {
	sweepClients.Set(float64(n))
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// HTTPHandler is Handler for plain net/http servers.
func HTTPHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
