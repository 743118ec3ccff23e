// Package metrics exposes Prometheus counters for the session core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Fetch source label values.
const (
	SourceCache   = "cache"
	SourceNetwork = "network"
)

var (
	// Logins counts login attempts per client and result.
	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weconnect_session_logins_total",
		Help: "Number of web logins performed by sessions",
	}, []string{"client", "result"})

	// Refreshes counts token refresh attempts per client and result.
	Refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weconnect_session_refreshes_total",
		Help: "Number of token refreshes performed by sessions",
	}, []string{"client", "result"})

	// Recoveries counts token recoveries triggered inside a request, by reason.
	Recoveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weconnect_session_token_recoveries_total",
		Help: "Number of missing or expired token recoveries",
	}, []string{"reason"})

	// Retries counts HTTP re-sends performed by the retry transport, by status code.
	Retries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weconnect_http_retries_total",
		Help: "Number of HTTP requests re-sent by the retry transport",
	}, []string{"status"})

	// Fetches counts API data fetches by source and result.
	Fetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weconnect_api_fetches_total",
		Help: "Number of API data fetches served from the cache or the network",
	}, []string{"source", "result"})
)
