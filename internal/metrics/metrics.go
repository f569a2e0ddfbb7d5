package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		TransactionsRecorded, LedgerSubmissions,
		SyncPassDuration, RPCDuration, DispatchQueueDepth,
	)
}

var TransactionsRecorded = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "invledger_transactions_recorded_total",
		Help: "Inventory transactions committed to the local store.",
	},
	[]string{"type"},
)

var LedgerSubmissions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "invledger_ledger_submissions_total",
		Help: "Witness submissions to the ledger node by outcome.",
	},
	[]string{"result"}, // synced | rejected | unavailable | skipped
)

var SyncPassDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "invledger_sync_pass_duration_seconds",
		Help:    "Duration of a full pending-record sync pass.",
		Buckets: prometheus.DefBuckets,
	},
)

var RPCDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "invledger_rpc_duration_seconds",
		Help:    "Ledger JSON-RPC call latency.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method"},
)

var DispatchQueueDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "invledger_dispatch_queue_depth",
		Help: "Submission tasks waiting for a worker.",
	},
)

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
