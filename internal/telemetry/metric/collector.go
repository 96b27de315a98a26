package metric

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerStats is what LedgerCollector reads on each scrape.
type LedgerStats func(ctx context.Context) (version uint64, items uint64, ok bool)

// LedgerCollector reports the latest committed version of the served ledger.
type LedgerCollector struct {
	stats   LedgerStats
	timeout time.Duration

	latestVersion *prometheus.Desc
	itemCount     *prometheus.Desc
}

// NewLedgerCollector creates a collector backed by stats.
func NewLedgerCollector(stats LedgerStats) *LedgerCollector {
	return &LedgerCollector{
		stats:   stats,
		timeout: 2 * time.Second,
		latestVersion: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "ledger", "latest_version"),
			"Latest committed ledger version.", nil, nil),
		itemCount: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "ledger", "state_items"),
			"State entries at the latest committed version.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *LedgerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.latestVersion
	ch <- c.itemCount
}

// Collect implements prometheus.Collector.
func (c *LedgerCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	version, items, ok := c.stats(ctx)
	if !ok {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.latestVersion, prometheus.GaugeValue, float64(version))
	ch <- prometheus.MustNewConstMetric(c.itemCount, prometheus.GaugeValue, float64(items))
}
