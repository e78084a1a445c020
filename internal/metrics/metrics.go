package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReportsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmarc_reports_processed_total",
			Help: "Total number of processed report attachments by result",
		},
		[]string{"result"},
	)

	RowsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmarc_rows_persisted_total",
			Help: "Total number of report rows by persistence outcome",
		},
		[]string{"outcome"},
	)

	PersistFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dmarc_persist_fallback_total",
		Help: "Number of batch inserts that fell back to individual inserts",
	})

	MessagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dmarc_imap_messages_total",
		Help: "Number of emails fetched from the imap folder",
	})
)
