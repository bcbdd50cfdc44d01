// Package metrics exposes Prometheus instrumentation for the trade
// lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TradesOpened counts trades that reached the fully open state.
var TradesOpened = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "bracketbot",
		Subsystem: "trading",
		Name:      "trades_opened_total",
		Help:      "Total number of trades fully opened (entry filled and bracket validated)",
	},
	[]string{"ticker", "side"},
)

// TradesClosed counts closed trades by close reason.
var TradesClosed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "bracketbot",
		Subsystem: "trading",
		Name:      "trades_closed_total",
		Help:      "Total number of trades closed",
	},
	[]string{"ticker", "reason"},
)

// EntriesRejected counts entry requests rejected before or during the
// open sequence, labelled by rejection kind.
var EntriesRejected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "bracketbot",
		Subsystem: "trading",
		Name:      "entries_rejected_total",
		Help:      "Total number of entry requests that did not produce an open trade",
	},
	[]string{"ticker", "kind"},
)

// OrphanedPositions counts the dangerous case: exchange fill confirmed
// but the local record could not be committed.
var OrphanedPositions = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "bracketbot",
		Subsystem: "trading",
		Name:      "orphaned_positions_total",
		Help:      "Total number of exchange positions left without a durable local record",
	},
)

// FillPollAttempts counts read-only order status polls during fill
// confirmation.
var FillPollAttempts = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "bracketbot",
		Subsystem: "trading",
		Name:      "fill_poll_attempts_total",
		Help:      "Total number of order status polls while waiting for entry fills",
	},
)

// OpenTrades tracks how many trades are currently open (0 or 1 per
// manager instance).
var OpenTrades = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "bracketbot",
		Subsystem: "trading",
		Name:      "open_trades",
		Help:      "Number of currently open trades",
	},
)
