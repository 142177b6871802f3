package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// EngineStats provides the metrics collector access to live engine state.
type EngineStats interface {
	ActiveJobCount() int
	ActiveStreamCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool  *pgxpool.Pool
	stats EngineStats

	activeJobs      *prometheus.Desc
	activeStreams   *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// pool may be nil (metrics will report 0). stats may be nil too.
func NewCollector(pool *pgxpool.Pool, stats EngineStats) *Collector {
	return &Collector{
		pool:  pool,
		stats: stats,
		activeJobs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "active_jobs"),
			"Current number of non-terminal transcription jobs.",
			nil, nil,
		),
		activeStreams: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "active_streams"),
			"Current number of open streaming sessions.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeJobs
	ch <- c.activeStreams
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.stats != nil {
		ch <- prometheus.MustNewConstMetric(c.activeJobs, prometheus.GaugeValue, float64(c.stats.ActiveJobCount()))
		ch <- prometheus.MustNewConstMetric(c.activeStreams, prometheus.GaugeValue, float64(c.stats.ActiveStreamCount()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.activeJobs, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.activeStreams, prometheus.GaugeValue, 0)
	}

	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, 0)
	}
}
