package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// TradeMetrics collects engine, reconciler and supervisor counters. All
// methods are safe on a nil receiver.
type TradeMetrics struct {
	transitions     *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	staleConflicts  *prometheus.CounterVec
	escrowEvents    *prometheus.CounterVec
	parkedEvents    prometheus.Gauge
	deadlineCancels *prometheus.CounterVec
	watcherHead     prometheus.Gauge
}

var (
	tradeOnce     sync.Once
	tradeRegistry *TradeMetrics
)

func Trade() *TradeMetrics {
	tradeOnce.Do(func() {
		tradeRegistry = &TradeMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrowhub_stage_transitions_total",
				Help: "Committed stage transitions by source, target and trigger.",
			}, []string{"from", "to", "trigger"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrowhub_rejections_total",
				Help: "Rejected requests by operation and error class.",
			}, []string{"op", "reason"}),
			staleConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrowhub_stale_conflicts_total",
				Help: "Compare-and-set attempts that lost a race, by origin.",
			}, []string{"origin"}),
			escrowEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrowhub_escrow_events_total",
				Help: "Escrow contract events processed by kind and outcome.",
			}, []string{"kind", "outcome"}),
			parkedEvents: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "escrowhub_escrow_events_parked",
				Help: "Escrow events waiting for their session to catch up.",
			}),
			deadlineCancels: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrowhub_deadline_cancellations_total",
				Help: "Sessions cancelled by the supervisor, by stage.",
			}, []string{"stage"}),
			watcherHead: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "escrowhub_watcher_block",
				Help: "Last confirmed block scanned for escrow events.",
			}),
		}
		prometheus.MustRegister(
			tradeRegistry.transitions,
			tradeRegistry.rejections,
			tradeRegistry.staleConflicts,
			tradeRegistry.escrowEvents,
			tradeRegistry.parkedEvents,
			tradeRegistry.deadlineCancels,
			tradeRegistry.watcherHead,
		)
	})
	return tradeRegistry
}

func (m *TradeMetrics) ObserveTransition(from, to, trigger string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to, trigger).Inc()
}

func (m *TradeMetrics) ObserveRejection(op, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.rejections.WithLabelValues(op, reason).Inc()
}

func (m *TradeMetrics) ObserveStale(origin string) {
	if m == nil {
		return
	}
	m.staleConflicts.WithLabelValues(origin).Inc()
}

func (m *TradeMetrics) ObserveEscrowEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.escrowEvents.WithLabelValues(kind, outcome).Inc()
}

func (m *TradeMetrics) SetParked(n int) {
	if m == nil {
		return
	}
	m.parkedEvents.Set(float64(n))
}

func (m *TradeMetrics) ObserveDeadlineCancel(stage string) {
	if m == nil {
		return
	}
	m.deadlineCancels.WithLabelValues(stage).Inc()
}

func (m *TradeMetrics) SetWatcherBlock(block uint64) {
	if m == nil {
		return
	}
	m.watcherHead.Set(float64(block))
}
