// Package metrics exposes prometheus collectors of the development server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devserver_proxy_requests_total",
		Help: "Total number of proxied requests, by rule and response code.",
	}, []string{"rule", "code"})

	ProxyErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devserver_proxy_errors_total",
		Help: "Total number of proxy failures, by rule and kind (timeout/connect/canceled).",
	}, []string{"rule", "kind"})

	ProxyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "devserver_proxy_duration_seconds",
		Help:    "Duration of proxied requests, by rule.",
		Buckets: prometheus.DefBuckets,
	}, []string{"rule"})

	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devserver_cache_lookups_total",
		Help: "Static content cache lookups, by result (hit/miss/bypass).",
	}, []string{"result"})

	FallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devserver_fallback_total",
		Help: "Requests answered with the single page entry point.",
	})

	LiveReloadClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "devserver_livereload_clients",
		Help: "Connected live reload clients.",
	})

	LiveReloadBroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devserver_livereload_broadcasts_total",
		Help: "Reload notifications sent after file changes.",
	})
)
