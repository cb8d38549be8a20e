package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	SessionsCreated   prometheus.Counter
	SessionsRevoked   prometheus.Counter
	TokensIssued      *prometheus.CounterVec
	TokenVerifyTotal  *prometheus.CounterVec
	RefreshReuseTotal prometheus.Counter
	RateLimitDenied   *prometheus.CounterVec
	KeyRotationsTotal prometheus.Counter
	CacheFallbacks    prometheus.Counter
	OperationDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors on the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "credcore",
			Name:      "sessions_created_total",
			Help:      "Sessions created.",
		}),
		SessionsRevoked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "credcore",
			Name:      "sessions_revoked_total",
			Help:      "Sessions revoked, including logout and mass revocation.",
		}),
		TokensIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credcore",
			Name:      "tokens_issued_total",
			Help:      "Tokens issued by type.",
		}, []string{"type"}),
		TokenVerifyTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credcore",
			Name:      "token_verifications_total",
			Help:      "Access token verification outcomes.",
		}, []string{"result"}),
		RefreshReuseTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "credcore",
			Name:      "refresh_token_reuse_total",
			Help:      "Refresh token reuse detections.",
		}),
		RateLimitDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credcore",
			Name:      "rate_limit_denied_total",
			Help:      "Requests denied by the rate limiter, by category.",
		}, []string{"category"}),
		KeyRotationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "credcore",
			Name:      "key_rotations_total",
			Help:      "Encryption key rotations.",
		}),
		CacheFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "credcore",
			Name:      "cache_fallbacks_total",
			Help:      "Session reads served from the durable store after a cache miss.",
		}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "credcore",
			Name:      "operation_duration_seconds",
			Help:      "Latency of token issuer operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// ObserveOperation records one issuer operation's latency.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
