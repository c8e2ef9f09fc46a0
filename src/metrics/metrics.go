// Package metrics holds the prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups every metric the service reports. Components take a
// *Collectors and tolerate nil.
type Collectors struct {
	Transitions      *prometheus.CounterVec
	LedgerLatency    *prometheus.HistogramVec
	PendingConflicts *prometheus.CounterVec
	TallyMismatches  *prometheus.CounterVec
	Settlements      *prometheus.CounterVec
	RewardedAmount   *prometheus.CounterVec
}

// New builds the collectors and registers them on reg when it is not nil.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "questdao",
			Name:      "transitions_total",
			Help:      "Quest phase transitions by operation and result.",
		}, []string{"op", "result"}),
		LedgerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "questdao",
			Name:      "ledger_call_seconds",
			Help:      "Latency of ledger calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method", "class"}),
		PendingConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "questdao",
			Name:      "pending_conflicts_total",
			Help:      "Transition attempts refused because another was in flight.",
		}, []string{"op"}),
		TallyMismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "questdao",
			Name:      "tally_mismatches_total",
			Help:      "Local vote sums that diverged from the ledger tally.",
		}, []string{"phase"}),
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "questdao",
			Name:      "settlements_total",
			Help:      "Settlement runs by result.",
		}, []string{"result"}),
		RewardedAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "questdao",
			Name:      "rewarded_amount_total",
			Help:      "Reward amount written by settlement, by reward type.",
		}, []string{"type"}),
	}
	if reg != nil {
		reg.MustRegister(c.Transitions, c.LedgerLatency, c.PendingConflicts,
			c.TallyMismatches, c.Settlements, c.RewardedAmount)
	}
	return c
}

func (c *Collectors) Transition(op, result string) {
	if c == nil {
		return
	}
	c.Transitions.WithLabelValues(op, result).Inc()
}

func (c *Collectors) LedgerCall(method, class string, seconds float64) {
	if c == nil {
		return
	}
	c.LedgerLatency.WithLabelValues(method, class).Observe(seconds)
}

func (c *Collectors) PendingConflict(op string) {
	if c == nil {
		return
	}
	c.PendingConflicts.WithLabelValues(op).Inc()
}

func (c *Collectors) TallyMismatch(phase string) {
	if c == nil {
		return
	}
	c.TallyMismatches.WithLabelValues(phase).Inc()
}

func (c *Collectors) Settlement(result string) {
	if c == nil {
		return
	}
	c.Settlements.WithLabelValues(result).Inc()
}

func (c *Collectors) Rewarded(typ string, amount float64) {
	if c == nil {
		return
	}
	c.RewardedAmount.WithLabelValues(typ).Add(amount)
}
