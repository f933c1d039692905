package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "weather_alerts_"

	SubmitAccepted = "accepted"
	SubmitRejected = "rejected"
	SubmitClosed   = "closed"
)

var (
	registerOnce sync.Once

	enrichmentSubmissions *prometheus.CounterVec
	enrichmentOutcomes    *prometheus.CounterVec
	enrichmentLatency     *prometheus.HistogramVec
	enrichmentSkipped     *prometheus.CounterVec

	geocodingRequests *prometheus.CounterVec
	geocodingLatency  prometheus.Histogram
)

// Init registers the metrics with reg, or the default registerer when reg is nil.
// Observations made before Init are dropped.
func Init(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}

		enrichmentSubmissions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "enrichment_submissions_total",
				Help: "Enrichment submissions by result",
			},
			[]string{"result"},
		)
		enrichmentOutcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "enrichment_outcomes_total",
				Help: "Completed enrichment jobs by final status and failure kind",
			},
			[]string{"status", "reason"},
		)
		enrichmentLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "enrichment_duration_seconds",
				Help:    "Enrichment job duration including rate gate wait",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		)
		enrichmentSkipped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "enrichment_skipped_total",
				Help: "Enrichment jobs that ended without a status write",
			},
			[]string{"reason"},
		)
		geocodingRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "geocoding_requests_total",
				Help: "Outbound geocoding requests by result",
			},
			[]string{"result"},
		)
		geocodingLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "geocoding_request_seconds",
				Help:    "Outbound geocoding request latency",
				Buckets: prometheus.DefBuckets,
			},
		)

		reg.MustRegister(
			enrichmentSubmissions,
			enrichmentOutcomes,
			enrichmentLatency,
			enrichmentSkipped,
			geocodingRequests,
			geocodingLatency,
		)
	})
}

// RegisterQueueGauges exposes live pool figures.
func RegisterQueueGauges(reg prometheus.Registerer, pending, workers func() int) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "enrichment_queue_pending",
				Help: "Enrichment jobs waiting for a worker",
			},
			func() float64 { return float64(pending()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "enrichment_workers",
				Help: "Live enrichment worker goroutines",
			},
			func() float64 { return float64(workers()) },
		),
	)
}

func IncSubmission(result string) {
	if result == "" {
		return
	}
	if enrichmentSubmissions != nil {
		enrichmentSubmissions.WithLabelValues(result).Inc()
	}
}

func ObserveEnrichment(status, reason string, duration time.Duration) {
	if status == "" {
		return
	}
	if enrichmentOutcomes != nil {
		enrichmentOutcomes.WithLabelValues(status, reason).Inc()
	}
	if enrichmentLatency != nil {
		enrichmentLatency.WithLabelValues(status).Observe(duration.Seconds())
	}
}

func IncSkipped(reason string) {
	if reason == "" {
		return
	}
	if enrichmentSkipped != nil {
		enrichmentSkipped.WithLabelValues(reason).Inc()
	}
}

// ObserveGeocodingLookup records one outbound call. kind is the failure kind
// for unsuccessful calls.
func ObserveGeocodingLookup(kind string, ok bool, duration time.Duration) {
	result := "success"
	if !ok {
		result = kind
		if result == "" {
			result = "cancelled"
		}
	}
	if geocodingRequests != nil {
		geocodingRequests.WithLabelValues(result).Inc()
	}
	if geocodingLatency != nil {
		geocodingLatency.Observe(duration.Seconds())
	}
}
