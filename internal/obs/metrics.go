package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tokenGrantsIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_grants_issued_total",
			Help: "Token grants issued, by grant type.",
		},
		[]string{"grant_type"},
	)

	tokenGrantFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_grant_failures_total",
			Help: "Failed token grant attempts, by grant type and reason.",
		},
		[]string{"grant_type", "reason"},
	)

	tokenGrantsRevoked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "token_grants_revoked_total",
			Help: "Token grants revoked, including defensive lineage revocations.",
		},
	)

	gateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_decisions_total",
			Help: "Capability checks answered by the gate, by decision.",
		},
		[]string{"decision"},
	)
)

// Init registers engine metrics in the default registry.
func Init() {
	prometheus.MustRegister(tokenGrantsIssued, tokenGrantFailures, tokenGrantsRevoked, gateDecisions)
}

// Handler exposes the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// TokenGrantIssued records a successful grant for the given grant type.
func TokenGrantIssued(grantType string) {
	tokenGrantsIssued.WithLabelValues(grantType).Inc()
}

// TokenGrantFailed records a failed grant attempt.
func TokenGrantFailed(grantType, reason string) {
	tokenGrantFailures.WithLabelValues(grantType, reason).Inc()
}

// TokenGrantRevoked records a revocation.
func TokenGrantRevoked() {
	tokenGrantsRevoked.Inc()
}

// GateDecision records the outcome of a capability check.
func GateDecision(allowed bool) {
	if allowed {
		gateDecisions.WithLabelValues("allow").Inc()
		return
	}
	gateDecisions.WithLabelValues("deny").Inc()
}
