package indexer

import "github.com/prometheus/client_golang/prometheus"

var (
	// metricBlocksProcessed counts blocks applied to the store.
	metricBlocksProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coinpick_blocks_processed_total",
		Help: "Total number of blocks applied to the UTXO index",
	})

	// metricUtxosCreated counts outputs inserted into the index.
	metricUtxosCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coinpick_utxos_created_total",
		Help: "Total UTXOs created",
	})

	// metricUtxosSpent counts records removed as spent.
	metricUtxosSpent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coinpick_utxos_spent_total",
		Help: "Total UTXOs spent",
	})

	// metricCurrentHeight shows the last indexed height.
	metricCurrentHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coinpick_index_height",
		Help: "Last block height applied to the index",
	})

	// metricChainTip shows the node's reported tip height.
	metricChainTip = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coinpick_chain_tip",
		Help: "Chain tip height reported by the node",
	})

	// metricBlockSeconds observes per-block processing time.
	metricBlockSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coinpick_block_seconds",
		Help:    "Time spent fetching and applying one block",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})
)

func init() {
	prometheus.MustRegister(
		metricBlocksProcessed,
		metricUtxosCreated,
		metricUtxosSpent,
		metricCurrentHeight,
		metricChainTip,
		metricBlockSeconds,
	)
}
