package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics agrupa os coletores do núcleo. Todos os métodos aceitam receiver nil.
type Metrics struct {
	RiskDecisions        *prometheus.CounterVec
	PlacementLatency     *prometheus.HistogramVec
	ExposureConflicts    prometheus.Counter
	ExposureExhausted    prometheus.Counter
	ExposureClamps       prometheus.Counter
	Compensations        *prometheus.CounterVec
	IdempotencyReplays   *prometheus.CounterVec
	IdempotencyConflicts *prometheus.CounterVec
	BetsSettled          *prometheus.CounterVec
	LedgerEntries        *prometheus.CounterVec
	ResultMessages       *prometheus.CounterVec
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		RiskDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sportsbook_risk_decisions_total",
				Help: "Risk decisions by outcome.",
			},
			[]string{"decision"},
		),
		PlacementLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sportsbook_bet_placement_seconds",
				Help:    "Bet placement latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		ExposureConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sportsbook_exposure_cas_conflicts_total",
			Help: "Exposure compare-and-swap conflicts that triggered a retry.",
		}),
		ExposureExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sportsbook_exposure_retries_exhausted_total",
			Help: "Exposure updates that gave up after the retry bound.",
		}),
		ExposureClamps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sportsbook_exposure_release_clamped_total",
			Help: "Exposure releases clamped at zero.",
		}),
		Compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sportsbook_placement_compensations_total",
				Help: "Exposure compensations run after a failed placement.",
			},
			[]string{"result"},
		),
		IdempotencyReplays: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sportsbook_idempotency_replays_total",
				Help: "Requests answered from a stored idempotency record.",
			},
			[]string{"scope"},
		),
		IdempotencyConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sportsbook_idempotency_conflicts_total",
				Help: "Idempotency keys reused with a different request.",
			},
			[]string{"scope"},
		),
		BetsSettled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sportsbook_bets_settled_total",
				Help: "Bets settled by terminal status.",
			},
			[]string{"status"},
		),
		LedgerEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sportsbook_ledger_entries_total",
				Help: "Ledger entries appended by type.",
			},
			[]string{"type"},
		),
		ResultMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sportsbook_result_messages_total",
				Help: "result_posted messages by handling outcome.",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.RiskDecisions, m.PlacementLatency,
		m.ExposureConflicts, m.ExposureExhausted, m.ExposureClamps,
		m.Compensations, m.IdempotencyReplays, m.IdempotencyConflicts,
		m.BetsSettled, m.LedgerEntries, m.ResultMessages,
	)
	return m
}

func (m *Metrics) ObserveDecision(decision string) {
	if m == nil {
		return
	}
	m.RiskDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) ObservePlacement(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.PlacementLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) IncExposureConflict() {
	if m == nil {
		return
	}
	m.ExposureConflicts.Inc()
}

func (m *Metrics) IncExposureExhausted() {
	if m == nil {
		return
	}
	m.ExposureExhausted.Inc()
}

func (m *Metrics) IncExposureClamp() {
	if m == nil {
		return
	}
	m.ExposureClamps.Inc()
}

func (m *Metrics) IncCompensation(result string) {
	if m == nil {
		return
	}
	m.Compensations.WithLabelValues(result).Inc()
}

func (m *Metrics) IncIdempotencyReplay(scope string) {
	if m == nil {
		return
	}
	m.IdempotencyReplays.WithLabelValues(scope).Inc()
}

func (m *Metrics) IncIdempotencyConflict(scope string) {
	if m == nil {
		return
	}
	m.IdempotencyConflicts.WithLabelValues(scope).Inc()
}

func (m *Metrics) IncBetSettled(status string) {
	if m == nil {
		return
	}
	m.BetsSettled.WithLabelValues(status).Inc()
}

func (m *Metrics) IncLedgerEntry(entryType string) {
	if m == nil {
		return
	}
	m.LedgerEntries.WithLabelValues(entryType).Inc()
}

func (m *Metrics) IncResultMessage(outcome string) {
	if m == nil {
		return
	}
	m.ResultMessages.WithLabelValues(outcome).Inc()
}
