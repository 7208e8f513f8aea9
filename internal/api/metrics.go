package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry      *prometheus.Registry
	quotesTotal   *prometheus.CounterVec
	confirmsTotal *prometheus.CounterVec
}

// newMetricsRegistry builds a private registry. activeWallets is sampled on
// every scrape.
func newMetricsRegistry(activeWallets func() int) *metricsRegistry {
	quotes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swaprelay_quotes_total",
		Help: "Quote requests by outcome",
	}, []string{"outcome"})

	confirms := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swaprelay_confirms_total",
		Help: "Confirm requests by outcome",
	}, []string{"outcome"})

	r := prometheus.NewRegistry()
	r.MustRegister(quotes, confirms)
	if activeWallets != nil {
		r.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "swaprelay_active_wallets",
			Help: "Ephemeral wallets currently held in memory",
		}, func() float64 { return float64(activeWallets()) }))
	}

	return &metricsRegistry{
		registry:      r,
		quotesTotal:   quotes,
		confirmsTotal: confirms,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incQuote(outcome string) {
	m.quotesTotal.WithLabelValues(outcome).Inc()
}

func (m *metricsRegistry) incConfirm(outcome string) {
	m.confirmsTotal.WithLabelValues(outcome).Inc()
}
