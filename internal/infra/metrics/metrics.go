package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"certnode/internal/domain"
	"certnode/internal/usecase"
)

const namespace = "certnode"

// Recorder owns a dedicated registry so tests and multiple servers in one
// process do not collide on the default registerer.
type Recorder struct {
	registry      *prometheus.Registry
	receipts      *prometheus.CounterVec
	links         *prometheus.CounterVec
	verifications *prometheus.CounterVec
	patterns      *prometheus.CounterVec
	requests      *prometheus.HistogramVec
}

var _ usecase.Metrics = (*Recorder)(nil)

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_created_total",
			Help:      "Receipts signed and stored, by domain.",
		}, []string{"domain"}),
		links: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_total",
			Help:      "Relationship insert attempts, by relation type and outcome.",
		}, []string{"relation_type", "outcome"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Envelope verifications, by result and cache use.",
		}, []string{"result", "cached"}),
		patterns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pattern_matches_total",
			Help:      "Fraud pattern matches, by pattern.",
		}, []string{"pattern"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
	r.registry.MustRegister(r.receipts, r.links, r.verifications, r.patterns, r.requests)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ReceiptCreated(d domain.ReceiptDomain) {
	r.receipts.WithLabelValues(string(d)).Inc()
}

func (r *Recorder) LinkResult(rel domain.RelationType, outcome string) {
	r.links.WithLabelValues(string(rel), outcome).Inc()
}

func (r *Recorder) VerificationResult(reason domain.VerificationReason, cached bool) {
	result := string(reason)
	if reason == domain.ReasonNone {
		result = "VALID"
	}
	r.verifications.WithLabelValues(result, strconv.FormatBool(cached)).Inc()
}

func (r *Recorder) PatternMatches(pattern string, n int) {
	r.patterns.WithLabelValues(pattern).Add(float64(n))
}

func (r *Recorder) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	r.requests.WithLabelValues(route, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
