package engine

import (
	"fmt"

	"github.com/gravitas-games/hacksim/internal/config"
	"github.com/gravitas-games/hacksim/internal/network"
	"github.com/gravitas-games/hacksim/pkg/models"
)

// compromise marks the target as hacked and, under the auto policy,
// schedules its recovery. The target's own outgoing attack is cancelled.
func (e *Engine) compromise(target *host) {
	target.Status = models.StatusCompromised
	e.cancelAttack(target)
	e.metrics.Compromises.Inc()

	message := "SYSTEM COMPROMISED."
	if e.recovery.Policy == config.RecoveryAuto {
		message = fmt.Sprintf("SYSTEM COMPROMISED. RESTARTING IN %ds...", ceilSeconds(e.recovery.Delay))

		if target.recovery != nil {
			target.recovery.stop()
		}
		r := &job{}
		id := target.ID
		r.task = e.scheduler.After(e.recovery.Delay, func() { e.restore(id, r) })
		target.recovery = r
	}

	e.log.Info().
		Str("player", target.ID).
		Str("policy", e.recovery.Policy).
		Msg("Host compromised")

	e.notifier.Send(target.ID, &network.ServerMessage{
		Type:    network.MsgTypeGameOver,
		Payload: network.GameOverPayload{Message: message},
	})
	e.broadcastRoster()
}

// restore brings back a compromised host with a new address and an empty firewall.
// Password and hack count are kept.
func (e *Engine) restore(id string, r *job) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r.stopped {
		return
	}
	r.stopped = true

	h, ok := e.hosts[id]
	if !ok || h.recovery != r || !h.IsCompromised() {
		return
	}

	h.recovery = nil
	h.Status = models.StatusActive
	h.IP = e.randomIP()
	h.FirewallRules = []models.FirewallRule{}
	e.metrics.Recoveries.Inc()

	e.log.Info().
		Str("player", id).
		Str("ip", h.IP).
		Msg("Host recovered")

	e.notifier.Send(id, &network.ServerMessage{Type: network.MsgTypeGameReset, Payload: h.Clone()})
	e.broadcastRoster()
	e.notifier.Send(id, network.LogMessage(fmt.Sprintf("[SYS] System restored. New IP assigned: %s", h.IP)))
}
