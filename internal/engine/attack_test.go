package engine

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravitas-games/hacksim/internal/config"
	"github.com/gravitas-games/hacksim/internal/metrics"
	"github.com/gravitas-games/hacksim/internal/network"
	"github.com/gravitas-games/hacksim/pkg/models"
)

// fixedPassword collapses the password range so every guess is n
func fixedPassword(n int) func(*config.Config) {
	return func(c *config.Config) {
		c.Game.PasswordMin = n
		c.Game.PasswordMax = n
	}
}

func autoRecovery(c *config.Config) {
	c.Recovery.Policy = config.RecoveryAuto
	c.Recovery.Delay = time.Minute
}

func TestStartAttackRejections(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(h *harness)
		attacker string
		target   string
		want     string
	}{
		{
			name:     "attacker absent",
			attacker: "ghost",
			target:   "p1",
			want:     "[ERR] Join the game before attacking.",
		},
		{
			name:     "target absent",
			attacker: "p2",
			target:   "ghost",
			want:     "[ERR] Invalid or inactive target.",
		},
		{
			name:     "self attack",
			attacker: "p2",
			target:   "p2",
			want:     "[ERR] You cannot attack yourself.",
		},
		{
			name: "cooldown",
			setup: func(h *harness) {
				h.engine.StartAttack("p2", "p1", "22", "tcp")
				h.engine.StopAttack("p2")
				h.clock.Advance(1500 * time.Millisecond)
			},
			attacker: "p2",
			target:   "p1",
			want:     "[ERR] Cooldown active. Wait 4s.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.engine.Join("p1", "alice", "42")
			h.engine.Join("p2", "bob", "7")
			if tt.setup != nil {
				tt.setup(h)
			}
			before1, before2 := h.player(t, "p1"), h.player(t, "p2")
			h.notes.Reset()

			h.engine.StartAttack(tt.attacker, tt.target, "22", "tcp")

			assert.Equal(t, []string{tt.want}, h.notes.Logs(tt.attacker))
			assert.Len(t, h.notes.All(), 1)
			assert.Equal(t, 0, h.sched.Recurring())
			assert.Equal(t, before1, h.player(t, "p1"))
			assert.Equal(t, before2, h.player(t, "p2"))
		})
	}
}

func TestCompromisedCannotAttackOrBeAttacked(t *testing.T) {
	h := newHarness(t, fixedPassword(1))
	h.engine.Join("p1", "alice", "1")
	h.engine.Join("p2", "bob", "1")
	h.engine.Join("p3", "carol", "1")

	h.engine.StartAttack("p2", "p1", "22", "tcp")
	h.sched.Tick()
	require.True(t, h.player(t, "p1").IsCompromised())
	h.notes.Reset()

	h.engine.StartAttack("p3", "p1", "22", "tcp")
	assert.Equal(t, []string{"[ERR] Invalid or inactive target."}, h.notes.Logs("p3"))

	h.engine.StartAttack("p1", "p3", "22", "tcp")
	assert.Equal(t, []string{"[ERR] Your system is compromised."}, h.notes.Logs("p1"))

	assert.Equal(t, 0, h.sched.Recurring())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Rejections.WithLabelValues(rejectInactive)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Rejections.WithLabelValues(rejectInvalidTarget)))
}

func TestStartAttackReplacesWithoutCooldown(t *testing.T) {
	h := newHarness(t)
	h.engine.Join("p1", "alice", "1")
	h.engine.Join("p2", "bob", "2")
	h.engine.Join("p3", "carol", "3")

	h.engine.StartAttack("p2", "p1", "22", "tcp")
	h.engine.StartAttack("p2", "p3", "80", "tcp")

	assert.Equal(t, 1, h.sched.Recurring())
	assert.Zero(t, h.engine.CooldownRemaining("p2"))
	assert.NotContains(t, h.notes.Types("p2"), network.MsgTypeCooldownStart)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ActiveAttacks))

	h.notes.Reset()
	h.sched.Tick()
	assert.Empty(t, h.notes.To("p1"), "the replaced attack never ticks again")
	assert.Len(t, h.notes.LogsWithPrefix("p3", "[WARN] Login attempt"), 1)
}

func TestStopAttackCooldown(t *testing.T) {
	h := newHarness(t)
	h.engine.Join("p1", "alice", "1")
	h.engine.Join("p2", "bob", "2")

	h.engine.StartAttack("p2", "p1", "22", "tcp")
	h.notes.Reset()
	h.engine.StopAttack("p2")

	assert.False(t, h.engine.Attacking("p2"))
	assert.Equal(t, 0, h.sched.Recurring())
	assert.Equal(t, []string{network.MsgTypeLog, network.MsgTypeCooldownStart}, h.notes.Types("p2"))
	assert.Equal(t, "[SYS] Attack stopped. Cooldown started (5s)...", h.notes.Logs("p2")[0])
	assert.Equal(t, 5, h.notes.To("p2")[1].Payload)

	prev := h.engine.CooldownRemaining("p2")
	assert.Equal(t, 5*time.Second, prev)
	for i := 0; i < 5; i++ {
		h.clock.Advance(time.Second)
		cur := h.engine.CooldownRemaining("p2")
		assert.Less(t, cur, prev)
		prev = cur
	}
	assert.Zero(t, prev)

	h.engine.StartAttack("p2", "p1", "22", "tcp")
	assert.True(t, h.engine.Attacking("p2"))
}

func TestZeroCooldownAllowsImmediateRestart(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Game.Cooldown = 0 })
	h.engine.Join("p1", "alice", "1")
	h.engine.Join("p2", "bob", "2")

	h.engine.StartAttack("p2", "p1", "22", "tcp")
	h.engine.StopAttack("p2")
	assert.Equal(t, 0, h.notes.To("p2")[len(h.notes.To("p2"))-1].Payload)

	h.notes.Reset()
	h.engine.StartAttack("p2", "p1", "22", "tcp")
	assert.True(t, h.engine.Attacking("p2"))
	assert.Empty(t, h.notes.LogsWithPrefix("p2", "[ERR]"))
}

func TestStopAttackWithoutTaskIsNoop(t *testing.T) {
	h := newHarness(t)
	h.engine.Join("p1", "alice", "1")
	h.notes.Reset()

	h.engine.StopAttack("p1")
	h.engine.StopAttack("ghost")

	assert.Empty(t, h.notes.All())
	assert.Zero(t, h.engine.CooldownRemaining("p1"))
}

// Scenario A: an unprotected host is eventually cracked
func TestScenarioBruteForceSucceeds(t *testing.T) {
	h := newHarness(t)
	h.engine.Join("p1", "alice", "42")
	h.engine.Join("p2", "bob", "7")

	h.engine.StartAttack("p2", "p1", "22", "tcp")
	assert.Equal(t, []string{"[ATK] Starting attack on " + h.player(t, "p1").IP + ":22 (tcp)..."},
		h.notes.Logs("p2"))

	ticks := h.tickUntil(5000, func() bool { return h.player(t, "p1").IsCompromised() })
	require.Positive(t, ticks, "password never found")

	assert.Equal(t, 1, h.player(t, "p2").HacksCount)
	assert.Equal(t, models.StatusCompromised, h.player(t, "p1").Status)
	assert.False(t, h.engine.Attacking("p2"))
	assert.Equal(t, 0, h.sched.Recurring())

	attempts := h.notes.LogsWithPrefix("p1", "[WARN] Login attempt")
	assert.Len(t, attempts, ticks)
	assert.Contains(t, attempts[len(attempts)-1], "pass 42 ")

	types := h.notes.Types("p2")
	assert.Equal(t, []string{network.MsgTypeHackResult, network.MsgTypeInitState}, types[len(types)-2:])
	result := h.notes.To("p2")[len(types)-2].Payload.(network.HackResultPayload)
	assert.True(t, result.Success)
	assert.Equal(t, "PASSWORD 42 FOUND!", result.Message)

	p1Types := h.notes.Types("p1")
	assert.Equal(t, network.MsgTypeGameOver, p1Types[len(p1Types)-1])
	for _, e := range h.notes.LastRoster() {
		if e.ID == "p1" {
			assert.Equal(t, models.StatusCompromised, e.Status)
		} else {
			assert.Equal(t, 1, e.HacksCount)
		}
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AttackTicks.WithLabelValues(metrics.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Compromises))
	assert.Equal(t, 0, h.sched.Timers(), "never policy schedules no recovery")

	h.notes.Reset()
	h.sched.Tick()
	assert.Empty(t, h.notes.All())
}

// Scenario B: a matching deny rule blocks every attempt
func TestScenarioFirewallBlocks(t *testing.T) {
	h := newHarness(t, fixedPassword(42))
	h.engine.Join("p1", "alice", "42")
	h.engine.Join("p2", "bob", "42")
	h.engine.UpdateFirewall("p1", network.UpdateFirewallPayload{
		Direction: "inbound", Source: "*", Port: "22", Protocol: "tcp", Action: "deny",
	})
	h.engine.StartAttack("p2", "p1", "22", "tcp")
	h.notes.Reset()

	for i := 0; i < 50; i++ {
		h.sched.Tick()
	}

	p1, p2 := h.player(t, "p1"), h.player(t, "p2")
	assert.True(t, p1.IsActive())
	assert.Zero(t, p2.HacksCount)
	assert.True(t, h.engine.Attacking("p2"))

	assert.Len(t, h.notes.Logs("p1"), 50)
	assert.Len(t, h.notes.LogsWithPrefix("p1", "[FW] BLOCKED: attempt (tcp) from "+p2.IP+":22"), 50)
	assert.Empty(t, h.notes.LogsWithPrefix("p1", "[WARN]"))
	assert.Len(t, h.notes.LogsWithPrefix("p2", "[ERR] BLOCKED by remote host ("+p1.IP+":22)"), 50)
	assert.Equal(t, 50.0, testutil.ToFloat64(h.metrics.AttackTicks.WithLabelValues(metrics.OutcomeBlocked)))
}

// Scenario C: restarting during the cooldown is refused
func TestScenarioCooldownRejectsRestart(t *testing.T) {
	h := newHarness(t)
	h.engine.Join("p1", "alice", "42")
	h.engine.Join("p2", "bob", "7")

	h.engine.StartAttack("p2", "p1", "22", "tcp")
	h.engine.StopAttack("p2")
	h.notes.Reset()

	h.engine.StartAttack("p2", "p1", "22", "tcp")

	assert.Equal(t, []string{"[ERR] Cooldown active. Wait 5s."}, h.notes.Logs("p2"))
	assert.False(t, h.engine.Attacking("p2"))
	assert.Equal(t, 0, h.sched.Recurring())
}

// Scenario D: the target disconnecting halts the attack silently
func TestScenarioTargetDisconnects(t *testing.T) {
	h := newHarness(t)
	h.engine.Join("p1", "alice", "42")
	h.engine.Join("p2", "bob", "7")
	h.engine.StartAttack("p2", "p1", "22", "tcp")
	h.sched.Tick()

	h.engine.Remove("p1")
	h.notes.Reset()

	h.sched.Tick()
	h.sched.Tick()

	assert.Empty(t, h.notes.All())
	assert.False(t, h.engine.Attacking("p2"))
	assert.Equal(t, 0, h.sched.Recurring())
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.ActiveAttacks))
}

func TestAttackerDisconnectStopsTask(t *testing.T) {
	h := newHarness(t)
	h.engine.Join("p1", "alice", "42")
	h.engine.Join("p2", "bob", "7")
	h.engine.StartAttack("p2", "p1", "22", "tcp")

	h.engine.Remove("p2")
	h.notes.Reset()
	h.sched.Tick()

	assert.Empty(t, h.notes.All())
	assert.Equal(t, 0, h.sched.Recurring())
}

func TestStaleTickIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.engine.Join("p1", "alice", "42")
	h.engine.Join("p2", "bob", "7")
	h.engine.StartAttack("p2", "p1", "22", "tcp")

	// Capture the callback before the task is stopped, as a ticker
	// goroutine racing with StopAttack would.
	stale := h.sched.live(true)[0].fn
	h.engine.StopAttack("p2")
	h.notes.Reset()

	stale()

	assert.Empty(t, h.notes.All())
}

func TestFirewallEditsApplyOnNextTick(t *testing.T) {
	h := newHarness(t, fixedPassword(50))
	h.engine.Join("p1", "alice", "50")
	h.engine.Join("p2", "bob", "50")
	h.engine.UpdateFirewall("p1", network.UpdateFirewallPayload{Port: "22", Protocol: "tcp", Action: "log"})
	h.engine.UpdateFirewall("p1", network.UpdateFirewallPayload{Port: "*", Protocol: "udp", Action: "deny"})
	h.engine.StartAttack("p2", "p1", "22", "udp")
	h.notes.Reset()

	h.sched.Tick()
	assert.Len(t, h.notes.LogsWithPrefix("p1", "[FW] BLOCKED"), 1)

	// Replace both rules with an allow for udp
	h.engine.UpdateFirewall("p1", network.UpdateFirewallPayload{Port: "22", Protocol: "udp", Action: "allow"})
	h.engine.UpdateFirewall("p1", network.UpdateFirewallPayload{Port: "23", Protocol: "udp", Action: "allow"})
	h.engine.UpdateFirewall("p1", network.UpdateFirewallPayload{Port: "24", Protocol: "udp", Action: "allow"})
	h.notes.Reset()

	h.sched.Tick()
	assert.Empty(t, h.notes.LogsWithPrefix("p1", "[FW] BLOCKED"))
	assert.True(t, h.player(t, "p1").IsCompromised())
}

func TestLogRuleDoesNotBlock(t *testing.T) {
	h := newHarness(t, fixedPassword(8))
	h.engine.Join("p1", "alice", "8")
	h.engine.Join("p2", "bob", "8")
	h.engine.UpdateFirewall("p1", network.UpdateFirewallPayload{Source: "*", Port: "22", Protocol: "tcp", Action: "log"})
	h.engine.StartAttack("p2", "p1", "22", "tcp")
	h.notes.Reset()

	h.sched.Tick()

	logs := h.notes.Logs("p1")
	require.GreaterOrEqual(t, len(logs), 2)
	assert.Contains(t, logs[0], "[FW] LOG: packet (tcp)")
	assert.Contains(t, logs[1], "[WARN] Login attempt: pass 8")
	assert.True(t, h.player(t, "p1").IsCompromised())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FirewallLogged))
}

func TestCompromiseCancelsTargetsOwnAttack(t *testing.T) {
	h := newHarness(t, fixedPassword(4))
	h.engine.Join("p1", "alice", "4")
	h.engine.Join("p2", "bob", "4")
	h.engine.Join("p3", "carol", "4")
	h.engine.UpdateFirewall("p3", network.UpdateFirewallPayload{Port: "*", Protocol: "tcp", Action: "deny"})

	h.engine.StartAttack("p1", "p3", "22", "tcp")
	h.engine.StartAttack("p2", "p1", "22", "tcp")

	h.sched.Tick()

	assert.True(t, h.player(t, "p1").IsCompromised())
	assert.False(t, h.engine.Attacking("p1"))
	assert.Equal(t, 0, h.sched.Recurring())
}

func TestAutoRecovery(t *testing.T) {
	h := newHarness(t, fixedPassword(9), autoRecovery)
	h.engine.Join("p1", "alice", "9")
	h.engine.Join("p2", "bob", "9")
	h.engine.UpdateFirewall("p1", network.UpdateFirewallPayload{Port: "80", Protocol: "tcp", Action: "deny"})
	h.engine.StartAttack("p2", "p1", "22", "tcp")
	h.sched.Tick()

	require.True(t, h.player(t, "p1").IsCompromised())
	require.Equal(t, 1, h.sched.Timers())
	gameOver := h.notes.To("p1")
	assert.Equal(t, network.GameOverPayload{Message: "SYSTEM COMPROMISED. RESTARTING IN 60s..."},
		gameOver[len(gameOver)-1].Payload)

	before := h.player(t, "p1")
	h.notes.Reset()
	h.sched.FireTimers()

	after := h.player(t, "p1")
	assert.True(t, after.IsActive())
	assert.Empty(t, after.FirewallRules)
	assert.Equal(t, before.Password, after.Password)
	assert.Equal(t, before.HacksCount, after.HacksCount)
	assert.Regexp(t, ipPattern, after.IP)

	assert.Equal(t, []string{network.MsgTypeGameReset, network.MsgTypeLog}, h.notes.Types("p1"))
	assert.Contains(t, wire(t, h.notes.To("p1")[0]), `"firewall":[]`)
	assert.Equal(t, "[SYS] System restored. New IP assigned: "+after.IP, h.notes.Logs("p1")[0])
	require.Len(t, h.notes.Broadcasts(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Recoveries))

	h.engine.StartAttack("p2", "p1", "22", "tcp")
	assert.True(t, h.engine.Attacking("p2"))
}

func TestAutoRecoveryCancelledOnDisconnect(t *testing.T) {
	h := newHarness(t, fixedPassword(9), autoRecovery)
	h.engine.Join("p1", "alice", "9")
	h.engine.Join("p2", "bob", "9")
	h.engine.StartAttack("p2", "p1", "22", "tcp")
	h.sched.Tick()
	require.Equal(t, 1, h.sched.Timers())

	h.engine.Remove("p1")
	assert.Equal(t, 0, h.sched.Timers())

	// A fresh host under the same identity is not touched by the old timer
	h.engine.Join("p1", "alice", "9")
	h.notes.Reset()
	h.sched.FireTimers()
	assert.Empty(t, h.notes.All())
}
