// Package metrics holds the Prometheus counters for the session layer.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Refresh outcomes
const (
	RefreshSucceeded = "succeeded"
	RefreshFailed    = "failed"
	RefreshSkipped   = "no_refresh_token"
)

// Forced logout reasons
const (
	ReasonAccountGone   = "account_gone"
	ReasonRefreshFailed = "refresh_failed"
	ReasonRoleChanged   = "role_changed"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	requests      *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	forcedLogouts *prometheus.CounterVec
	cartSwitches  prometheus.Counter
}

// New registers the collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "client_api_requests_total",
			Help: "Outbound API requests by method and response status.",
		}, []string{"method", "status"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "client_token_refresh_total",
			Help: "Access token refresh attempts by outcome.",
		}, []string{"outcome"}),
		forcedLogouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "client_forced_logout_total",
			Help: "Sessions terminated without a user logout, by reason.",
		}, []string{"reason"}),
		cartSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "client_cart_source_switch_total",
			Help: "Carts discarded because an item from another merchant was added.",
		}),
	}
	reg.MustRegister(m.requests, m.refreshes, m.forcedLogouts, m.cartSwitches)
	return m
}

// ObserveRequest records one round trip. status 0 means no response.
func (m *Metrics) ObserveRequest(method string, status int) {
	if m == nil {
		return
	}
	label := "network_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(method, label).Inc()
}

func (m *Metrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveForcedLogout(reason string) {
	if m == nil {
		return
	}
	m.forcedLogouts.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveCartSwitch() {
	if m == nil {
		return
	}
	m.cartSwitches.Inc()
}
