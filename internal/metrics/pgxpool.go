package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStatter is implemented by *pgxpool.Pool.
type PoolStatter interface {
	Stat() *pgxpool.Stat
}

// poolCollector reads the pool statistics once per scrape.
type poolCollector struct {
	pool PoolStatter

	acquired     *prometheus.Desc
	idle         *prometheus.Desc
	total        *prometheus.Desc
	acquireCount *prometheus.Desc
	acquireWait  *prometheus.Desc
	emptyAcquire *prometheus.Desc
}

// NewPoolCollector returns a collector exporting the statistics of the report
// database pool.
func NewPoolCollector(pool PoolStatter) prometheus.Collector {
	return &poolCollector{
		pool:         pool,
		acquired:     prometheus.NewDesc("dmarc_db_acquired_conns", "Number of currently acquired connections in the pool", nil, nil),
		idle:         prometheus.NewDesc("dmarc_db_idle_conns", "Number of idle connections in the pool", nil, nil),
		total:        prometheus.NewDesc("dmarc_db_total_conns", "Total number of connections in the pool", nil, nil),
		acquireCount: prometheus.NewDesc("dmarc_db_acquire_total", "Number of successful connection acquires", nil, nil),
		acquireWait:  prometheus.NewDesc("dmarc_db_acquire_wait_seconds_total", "Total time spent waiting for a connection", nil, nil),
		emptyAcquire: prometheus.NewDesc("dmarc_db_empty_acquire_total", "Number of acquires that had to wait for a connection", nil, nil),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.idle
	ch <- c.total
	ch <- c.acquireCount
	ch <- c.acquireWait
	ch <- c.emptyAcquire
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(s.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.acquireCount, prometheus.CounterValue, float64(s.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.acquireWait, prometheus.CounterValue, s.AcquireDuration().Seconds())
	ch <- prometheus.MustNewConstMetric(c.emptyAcquire, prometheus.CounterValue, float64(s.EmptyAcquireCount()))
}

// RegisterPgxPoolMetrics registers the pool collector with the default
// registry.
func RegisterPgxPoolMetrics(pool PoolStatter) {
	prometheus.MustRegister(NewPoolCollector(pool))
}
