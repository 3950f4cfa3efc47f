package engine

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gravitas-games/hacksim/internal/metrics"
	"github.com/gravitas-games/hacksim/internal/network"
)

// Rejection reasons for start_attack
const (
	rejectNoSession     = "no_session"
	rejectInactive      = "attacker_inactive"
	rejectInvalidTarget = "invalid_target"
	rejectSelf          = "self"
	rejectCooldown      = "cooldown"
)

// attack is one running brute force owned by its attacker
type attack struct {
	job

	attackerID string
	targetID   string
	port       string
	protocol   string
	ticks      int
}

// StartAttack begins guessing the target's password once per tick.
// Refused requests produce a single log event to the attacker and change nothing.
// A running attack owned by the attacker is replaced without a cooldown.
func (e *Engine) StartAttack(attackerID, targetID, port, protocol string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	attacker, ok := e.hosts[attackerID]
	if !ok {
		e.reject(attackerID, rejectNoSession, "[ERR] Join the game before attacking.")
		return
	}
	if !attacker.IsActive() {
		e.reject(attackerID, rejectInactive, "[ERR] Your system is compromised.")
		return
	}

	target, ok := e.hosts[targetID]
	if !ok || !target.IsActive() {
		e.reject(attackerID, rejectInvalidTarget, "[ERR] Invalid or inactive target.")
		return
	}
	if target == attacker {
		e.reject(attackerID, rejectSelf, "[ERR] You cannot attack yourself.")
		return
	}
	if remaining := attacker.CooldownRemaining(e.clock.Now()); remaining > 0 {
		e.reject(attackerID, rejectCooldown,
			fmt.Sprintf("[ERR] Cooldown active. Wait %ds.", ceilSeconds(remaining)))
		return
	}

	e.cancelAttack(attacker)

	a := &attack{
		attackerID: attackerID,
		targetID:   targetID,
		port:       strings.TrimSpace(port),
		protocol:   strings.ToLower(strings.TrimSpace(protocol)),
	}
	a.task = e.scheduler.Every(e.game.TickInterval, func() { e.tick(a) })
	attacker.attack = a

	e.metrics.AttacksStarted.Inc()
	e.metrics.ActiveAttacks.Inc()

	e.log.Info().
		Str("attacker", attackerID).
		Str("target", targetID).
		Str("port", a.port).
		Str("proto", a.protocol).
		Msg("Attack started")

	e.notifier.Send(attackerID, network.LogMessage(fmt.Sprintf("[ATK] Starting attack on %s:%s (%s)...",
		target.IP, a.port, a.protocol)))
}

// StopAttack cancels the player's running attack and starts its cooldown.
// It does nothing when no attack is running.
func (e *Engine) StopAttack(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.hosts[id]
	if !ok || h.attack == nil {
		return
	}

	e.cancelAttack(h)
	h.CooldownUntil = e.clock.Now().Add(e.game.Cooldown)
	seconds := ceilSeconds(e.game.Cooldown)

	e.metrics.AttacksStopped.Inc()
	e.log.Info().
		Str("player", id).
		Dur("cooldown", e.game.Cooldown).
		Msg("Attack stopped")

	e.notifier.Send(id, network.LogMessage(fmt.Sprintf("[SYS] Attack stopped. Cooldown started (%ds)...", seconds)))
	e.notifier.Send(id, &network.ServerMessage{Type: network.MsgTypeCooldownStart, Payload: seconds})
}

// tick runs one guess for a
func (e *Engine) tick(a *attack) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if a.stopped {
		return
	}

	attacker, ok := e.hosts[a.attackerID]
	if !ok || attacker.attack != a {
		a.stop()
		return
	}

	target, ok := e.hosts[a.targetID]
	if !ok || !target.IsActive() {
		e.log.Debug().
			Str("attacker", a.attackerID).
			Str("target", a.targetID).
			Int("ticks", a.ticks).
			Msg("Attack target gone, cancelling")
		e.cancelAttack(attacker)
		return
	}

	a.ticks++
	guess := e.randomGuess()
	decision := Evaluate(target.FirewallRules, Packet{
		SourceIP: attacker.IP,
		Port:     a.port,
		Protocol: a.protocol,
	})

	if decision.Blocked {
		e.metrics.AttackTicks.WithLabelValues(metrics.OutcomeBlocked).Inc()
		e.log.Trace().Str("attacker", a.attackerID).Str("target", a.targetID).Msg("Attempt blocked")

		e.notifier.Send(target.ID, network.LogMessage(fmt.Sprintf("[FW] BLOCKED: attempt (%s) from %s:%s",
			a.protocol, attacker.IP, a.port)))
		e.notifier.Send(attacker.ID, network.LogMessage(fmt.Sprintf("[ERR] BLOCKED by remote host (%s:%s)",
			target.IP, a.port)))
		return
	}

	if decision.Logged() {
		e.metrics.FirewallLogged.Inc()
		e.notifier.Send(target.ID, network.LogMessage(fmt.Sprintf("[FW] LOG: packet (%s) from %s:%s",
			a.protocol, attacker.IP, a.port)))
	}

	e.notifier.Send(target.ID, network.LogMessage(fmt.Sprintf("[WARN] Login attempt: pass %d from %s:%s (%s)",
		guess, attacker.IP, a.port, a.protocol)))

	if guess != target.Password {
		e.metrics.AttackTicks.WithLabelValues(metrics.OutcomeAttempt).Inc()
		return
	}

	e.metrics.AttackTicks.WithLabelValues(metrics.OutcomeSuccess).Inc()
	e.cancelAttack(attacker)
	attacker.HacksCount++

	e.log.Info().
		Str("attacker", attacker.ID).
		Str("target", target.ID).
		Int("ticks", a.ticks).
		Int("hacks", attacker.HacksCount).
		Msg("Password found")

	e.notifier.Send(attacker.ID, &network.ServerMessage{
		Type: network.MsgTypeHackResult,
		Payload: network.HackResultPayload{
			Success: true,
			Message: fmt.Sprintf("PASSWORD %d FOUND!", guess),
		},
	})
	e.notifier.Send(attacker.ID, &network.ServerMessage{Type: network.MsgTypeInitState, Payload: attacker.Clone()})

	e.compromise(target)
}

// cancelAttack stops the host's running attack, if any, without a cooldown
func (e *Engine) cancelAttack(h *host) {
	if h.attack == nil {
		return
	}
	h.attack.stop()
	h.attack = nil
	e.metrics.ActiveAttacks.Dec()
}

func (e *Engine) reject(id, reason, message string) {
	e.metrics.Rejections.WithLabelValues(reason).Inc()
	e.log.Debug().Str("player", id).Str("reason", reason).Msg("Attack rejected")
	e.notifier.Send(id, network.LogMessage(message))
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
