// Package metrics はPrometheusのメトリクスを定義する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequests は処理したHTTPリクエスト数。
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookshelf_http_requests_total",
			Help: "Total number of HTTP requests handled",
		},
		[]string{"service", "method", "route", "status"},
	)

	// HTTPDuration はHTTPリクエストの処理時間。
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookshelf_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "route"},
	)

	// BookCirculation は貸出・返却の件数。
	BookCirculation = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookshelf_book_circulation_total",
			Help: "Total number of book borrow and return operations",
		},
		[]string{"action"},
	)

	// CategoryValidations はカテゴリ検証の件数。sourceは "cache" または "remote"。
	CategoryValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookshelf_category_validations_total",
			Help: "Total number of category ID validations",
		},
		[]string{"source", "result"},
	)

	// ProxyRequests はGatewayが転送したリクエスト数。
	ProxyRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookshelf_gateway_proxy_requests_total",
			Help: "Total number of requests proxied by the gateway",
		},
		[]string{"target", "outcome"},
	)
)

// Handler は /metrics エンドポイントのハンドラを返す。
func Handler() http.Handler {
	return promhttp.Handler()
}
