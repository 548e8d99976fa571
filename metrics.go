package kyc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides observability for the request lifecycle. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	TokensIssued       prometheus.Counter
	TokenRedemptions   *prometheus.CounterVec
	RequestsSubmitted  *prometheus.CounterVec
	Transitions        *prometheus.CounterVec
	TransitionDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		TokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kyc_tokens_issued_total",
			Help: "Total access tokens issued.",
		}),
		TokenRedemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_token_redemptions_total",
			Help: "Token redemption attempts by result.",
		}, []string{"result"}),
		RequestsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_requests_submitted_total",
			Help: "Requests created through submission by type.",
		}, []string{"type"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_transitions_total",
			Help: "Lifecycle actions by action and result.",
		}, []string{"action", "result"}),
		TransitionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kyc_transition_duration_seconds",
			Help:    "Duration of the lifecycle transition unit of work.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
	if registerer != nil {
		registerer.MustRegister(
			m.TokensIssued,
			m.TokenRedemptions,
			m.RequestsSubmitted,
			m.Transitions,
			m.TransitionDuration,
		)
	}
	return m
}

func (m *Metrics) tokenIssued() {
	if m != nil {
		m.TokensIssued.Inc()
	}
}

func (m *Metrics) tokenRedemption(ok bool) {
	if m != nil {
		m.TokenRedemptions.WithLabelValues(resultLabel(ok)).Inc()
	}
}

func (m *Metrics) requestSubmitted(requestType string) {
	if m != nil {
		m.RequestsSubmitted.WithLabelValues(requestType).Inc()
	}
}

func (m *Metrics) transition(action ActionType, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = TextCode(err)
		if result == "" {
			result = "error"
		}
	}
	m.Transitions.WithLabelValues(actionLabel(action), result).Inc()
	m.TransitionDuration.Observe(d.Seconds())
}

// actionLabel keeps the action label set bounded. Caller supplied values
// that are not actions share one label.
func actionLabel(action ActionType) string {
	if _, ok := action.TargetStatus(); !ok {
		return "invalid"
	}
	return string(action)
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "rejected"
}
