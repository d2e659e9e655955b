package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	CyclesCompleted   Counter
	OrdersPlaced      Counter
	OrdersFailed      Counter
	StopLossTriggers  Counter
	ReconcileFailures Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		CyclesCompleted:   n,
		OrdersPlaced:      n,
		OrdersFailed:      n,
		StopLossTriggers:  n,
		ReconcileFailures: n,
	}
}
