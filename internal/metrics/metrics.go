// Package metrics exposes Prometheus counters for persistence tiers and sync sinks.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	storeOps     *prometheus.CounterVec
	crmSyncs     *prometheus.CounterVec
	sheetWrites  *prometheus.CounterVec
	turns        *prometheus.CounterVec
	turnDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		storeOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signdesk_store_operations_total",
				Help: "Document store operations by kind, operation and serving tier",
			},
			[]string{"kind", "op", "tier"},
		),
		crmSyncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signdesk_crm_sync_total",
				Help: "CRM transcript sync attempts by result",
			},
			[]string{"result"},
		),
		sheetWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signdesk_sheet_writes_total",
				Help: "Spreadsheet row writes by result",
			},
			[]string{"result"},
		),
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signdesk_turns_total",
				Help: "Chat turns by result",
			},
			[]string{"result"},
		),
		turnDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "signdesk_turn_duration_seconds",
				Help:    "Wall time of a full chat turn including side effects",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.storeOps, m.crmSyncs, m.sheetWrites, m.turns, m.turnDuration)
	}
	return m
}

// StoreOp records a coordinator operation served by tier.
func (m *Metrics) StoreOp(kind, op, tier string) {
	if m == nil {
		return
	}
	m.storeOps.WithLabelValues(kind, op, tier).Inc()
}

// CRMSync records a transcript push outcome: "pushed", "throttled" or "failed".
func (m *Metrics) CRMSync(result string) {
	if m == nil {
		return
	}
	m.crmSyncs.WithLabelValues(result).Inc()
}

// SheetWrite records a spreadsheet write outcome.
func (m *Metrics) SheetWrite(result string) {
	if m == nil {
		return
	}
	m.sheetWrites.WithLabelValues(result).Inc()
}

// Turn records a completed turn and its duration.
func (m *Metrics) Turn(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(result).Inc()
	m.turnDuration.Observe(d.Seconds())
}
