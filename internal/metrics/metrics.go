// Package metrics exposes Prometheus instrumentation for the order pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrader_orders_created_total",
		Help: "Orders accepted into the pipeline, by type.",
	}, []string{"type"})

	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrader_orders_rejected_total",
		Help: "Orders rejected before submission, by stage (validation, risk, broker).",
	}, []string{"stage"})

	OrdersFilled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrader_orders_filled_total",
		Help: "Orders that reached FILLED.",
	})

	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrader_orders_cancelled_total",
		Help: "Orders that reached CANCELLED.",
	})

	OrdersExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrader_orders_expired_total",
		Help: "Orders expired by the time-in-force sweep.",
	})

	TradesExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrader_trades_executed_total",
		Help: "Fills applied to orders.",
	})

	TradedNotional = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrader_traded_notional_total",
		Help: "Total traded value across all fills.",
	})

	OrdersInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papertrader_orders_in_flight",
		Help: "Orders currently tracked against the broker.",
	})
)
