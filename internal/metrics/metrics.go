// Package metrics exposes Prometheus collectors for the intrusion simulation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tick outcomes
const (
	OutcomeBlocked = "blocked"
	OutcomeAttempt = "attempt"
	OutcomeSuccess = "success"
)

// Collector groups every engine and transport metric
type Collector struct {
	PlayersOnline  prometheus.Gauge
	ActiveAttacks  prometheus.Gauge
	AttacksStarted prometheus.Counter
	AttacksStopped prometheus.Counter
	AttackTicks    *prometheus.CounterVec
	FirewallLogged prometheus.Counter
	Compromises    prometheus.Counter
	Recoveries     prometheus.Counter
	Rejections     *prometheus.CounterVec
	DroppedIntents prometheus.Counter
}

// New creates the collectors and registers them with reg.
// A nil reg creates unregistered collectors.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		PlayersOnline: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hacksim_players_online",
			Help: "Number of joined hosts",
		}),
		ActiveAttacks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hacksim_attacks_active",
			Help: "Number of running brute force tasks",
		}),
		AttacksStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "hacksim_attacks_started_total",
			Help: "Accepted start_attack intents",
		}),
		AttacksStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "hacksim_attacks_stopped_total",
			Help: "Attacks stopped voluntarily, each starting a cooldown",
		}),
		AttackTicks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hacksim_attack_ticks_total",
			Help: "Guess attempts by outcome",
		}, []string{"outcome"}),
		FirewallLogged: factory.NewCounter(prometheus.CounterOpts{
			Name: "hacksim_firewall_log_matches_total",
			Help: "Packets matched by a log rule",
		}),
		Compromises: factory.NewCounter(prometheus.CounterOpts{
			Name: "hacksim_compromises_total",
			Help: "Hosts whose password was found",
		}),
		Recoveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "hacksim_recoveries_total",
			Help: "Compromised hosts restored automatically",
		}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hacksim_attack_rejections_total",
			Help: "Refused start_attack intents by reason",
		}, []string{"reason"}),
		DroppedIntents: factory.NewCounter(prometheus.CounterOpts{
			Name: "hacksim_dropped_intents_total",
			Help: "Client messages dropped by the rate limiter",
		}),
	}
}
