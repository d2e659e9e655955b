package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "hp_hedge_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry          *prometheus.Registry
	cyclesCompleted   prometheus.Counter
	ordersPlaced      prometheus.Counter
	ordersFailed      prometheus.Counter
	stopLossTriggers  prometheus.Counter
	reconcileFailures prometheus.Counter
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	cyclesCompleted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "cycles_completed_total",
		Help:      "Total number of completed open/close cycles.",
	})
	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_placed_total",
		Help:      "Total number of orders placed.",
	})
	ordersFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_failed_total",
		Help:      "Total number of order placement failures.",
	})
	stopLossTriggers := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "stop_loss_triggers_total",
		Help:      "Total number of stop-loss triggered closes.",
	})
	reconcileFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "reconcile_failures_total",
		Help:      "Total number of reconciliation attempts that left the bot in its error state.",
	})

	registry.MustRegister(cyclesCompleted, ordersPlaced, ordersFailed, stopLossTriggers, reconcileFailures)

	m := &Metrics{
		CyclesCompleted:   promCounter{cyclesCompleted},
		OrdersPlaced:      promCounter{ordersPlaced},
		OrdersFailed:      promCounter{ordersFailed},
		StopLossTriggers:  promCounter{stopLossTriggers},
		ReconcileFailures: promCounter{reconcileFailures},
	}

	return &Prometheus{
		Metrics:           m,
		registry:          registry,
		cyclesCompleted:   cyclesCompleted,
		ordersPlaced:      ordersPlaced,
		ordersFailed:      ordersFailed,
		stopLossTriggers:  stopLossTriggers,
		reconcileFailures: reconcileFailures,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
