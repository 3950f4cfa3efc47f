// Package engine implements the intrusion simulation: the session registry,
// firewall evaluation, brute force scheduling and the compromise lifecycle.
//
// Every mutation happens under a single engine mutex. Scheduled callbacks
// (attack ticks and recoveries) take the same mutex and re-validate their
// handle before acting, so a stopped task never touches state again.
package engine

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gravitas-games/hacksim/internal/config"
	"github.com/gravitas-games/hacksim/internal/metrics"
	"github.com/gravitas-games/hacksim/internal/network"
	"github.com/gravitas-games/hacksim/pkg/models"
)

// Notifier delivers engine events to sessions by logical identity
type Notifier interface {
	Send(playerID string, msg *network.ServerMessage)
	Broadcast(msg *network.ServerMessage)
}

// Option customizes an Engine
type Option func(*Engine)

// WithClock replaces the wall clock used for cooldowns and scheduling
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithScheduler replaces the scheduler that drives ticks and recoveries
func WithScheduler(s Scheduler) Option {
	return func(e *Engine) { e.scheduler = s }
}

// WithRand sets the random source for guesses and addresses
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// WithMetrics sets the metrics collector
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger used for engine diagnostics
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// host is the engine-owned record behind a Player
type host struct {
	models.Player

	seq      uint64
	attack   *attack // owned outgoing brute force, at most one
	recovery *job    // pending automatic recovery
}

// job is a scheduled callback guarded by the engine mutex
type job struct {
	task    Task
	stopped bool
}

func (j *job) stop() {
	if j.stopped {
		return
	}
	j.stopped = true
	if j.task != nil {
		j.task.Stop()
	}
}

// Engine owns every host of one game
type Engine struct {
	game     config.GameConfig
	recovery config.RecoveryConfig

	mu    sync.Mutex
	hosts map[string]*host
	seq   uint64

	notifier  Notifier
	clock     clockwork.Clock
	scheduler Scheduler
	rng       *rand.Rand
	metrics   *metrics.Collector
	log       zerolog.Logger
}

// New creates an engine publishing its events through notifier
func New(cfg *config.Config, notifier Notifier, opts ...Option) *Engine {
	e := &Engine{
		game:     cfg.Game,
		recovery: cfg.Recovery,
		hosts:    make(map[string]*host),
		notifier: notifier,
		log:      log.Logger,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.scheduler == nil {
		e.scheduler = NewScheduler(e.clock)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(e.clock.Now().UnixNano()))
	}
	if e.metrics == nil {
		e.metrics = metrics.New(nil)
	}
	e.log = e.log.With().Str("component", "engine").Logger()

	return e
}

// Join creates a fresh host for the connection, discarding any previous one
func (e *Engine) Join(id, username, rawPassword string) models.Player {
	e.mu.Lock()
	defer e.mu.Unlock()

	if old, ok := e.hosts[id]; ok {
		e.discard(old)
	}

	e.seq++
	h := &host{
		Player: models.Player{
			ID:            id,
			Username:      e.sanitizeUsername(username),
			Password:      e.parsePassword(rawPassword),
			IP:            e.randomIP(),
			Status:        models.StatusActive,
			FirewallRules: []models.FirewallRule{},
			JoinedAt:      e.clock.Now(),
		},
		seq: e.seq,
	}
	e.hosts[id] = h
	e.metrics.PlayersOnline.Set(float64(len(e.hosts)))

	e.log.Info().
		Str("player", id).
		Str("username", h.Username).
		Str("ip", h.IP).
		Msg("Player joined")

	e.notifier.Send(id, &network.ServerMessage{Type: network.MsgTypeInitState, Payload: h.Clone()})
	e.broadcastRoster()

	return h.Clone()
}

// Get returns a snapshot of the player for a connection
func (e *Engine) Get(id string) (models.Player, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.hosts[id]
	if !ok {
		return models.Player{}, false
	}
	return h.Clone(), true
}

// Remove deletes the connection's host and cancels everything it owns.
// Removing an unknown connection does nothing.
func (e *Engine) Remove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.hosts[id]
	if !ok {
		return
	}

	e.discard(h)
	e.metrics.PlayersOnline.Set(float64(len(e.hosts)))

	e.log.Info().
		Str("player", id).
		Str("username", h.Username).
		Msg("Player left")

	e.broadcastRoster()
}

// PublicRoster lists every host in join order without secrets
func (e *Engine) PublicRoster() []models.RosterEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.roster()
}

// UpdateFirewall appends a rule to the player's firewall, evicting the oldest
// when full. Players that are absent or compromised are ignored.
func (e *Engine) UpdateFirewall(id string, payload network.UpdateFirewallPayload) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.hosts[id]
	if !ok || !h.IsActive() {
		return
	}

	rule := NormalizeRule(payload)
	h.FirewallRules = appendRule(h.FirewallRules, rule, e.game.RuleCapacity)

	e.log.Debug().
		Str("player", id).
		Str("action", string(rule.Action)).
		Str("src", rule.Source).
		Str("port", rule.Port).
		Str("proto", rule.Protocol).
		Int("rules", len(h.FirewallRules)).
		Msg("Firewall rule added")

	rules := append([]models.FirewallRule(nil), h.FirewallRules...)
	e.notifier.Send(id, &network.ServerMessage{Type: network.MsgTypeFirewallUpdated, Payload: rules})
	e.notifier.Send(id, network.LogMessage(fmt.Sprintf("[SYS] Rule: %s %s/%s source %s",
		strings.ToUpper(string(rule.Action)), rule.Protocol, rule.Port, rule.Source)))
}

// CooldownRemaining reports how long the player must still wait to attack
func (e *Engine) CooldownRemaining(id string) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.hosts[id]
	if !ok {
		return 0
	}
	return h.CooldownRemaining(e.clock.Now())
}

// Attacking reports whether the player currently owns a running attack
func (e *Engine) Attacking(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.hosts[id]
	return ok && h.attack != nil
}

// Shutdown cancels every scheduled task
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, h := range e.hosts {
		e.cancelAttack(h)
		if h.recovery != nil {
			h.recovery.stop()
			h.recovery = nil
		}
	}
}

// discard cancels the host's tasks and drops it from the registry
func (e *Engine) discard(h *host) {
	e.cancelAttack(h)
	if h.recovery != nil {
		h.recovery.stop()
		h.recovery = nil
	}
	delete(e.hosts, h.ID)
}

func (e *Engine) roster() []models.RosterEntry {
	hosts := make([]*host, 0, len(e.hosts))
	for _, h := range e.hosts {
		hosts = append(hosts, h)
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].seq < hosts[j].seq })

	entries := make([]models.RosterEntry, 0, len(hosts))
	for _, h := range hosts {
		entries = append(entries, h.Public())
	}
	return entries
}

func (e *Engine) broadcastRoster() {
	e.notifier.Broadcast(&network.ServerMessage{Type: network.MsgTypeUpdatePlayers, Payload: e.roster()})
}

func (e *Engine) sanitizeUsername(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "guest"
	}
	if utf8.RuneCountInString(name) > e.game.UsernameMax {
		name = string([]rune(name)[:e.game.UsernameMax])
	}
	return name
}

// parsePassword accepts integer or decimal text, truncating decimals.
// Anything missing, non numeric or out of range becomes the lowest password.
func (e *Engine) parsePassword(raw string) int {
	raw = strings.TrimSpace(raw)

	n, err := strconv.Atoi(raw)
	if err != nil {
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || math.IsNaN(f) || f < float64(e.game.PasswordMin) || f >= float64(e.game.PasswordMax+1) {
			return e.game.PasswordMin
		}
		n = int(math.Trunc(f))
	}

	if n < e.game.PasswordMin || n > e.game.PasswordMax {
		return e.game.PasswordMin
	}
	return n
}

func (e *Engine) randomIP() string {
	return fmt.Sprintf("%s.%d.%d", e.game.IPPrefix, e.rng.Intn(255), e.rng.Intn(255))
}

func (e *Engine) randomGuess() int {
	return e.game.PasswordMin + e.rng.Intn(e.game.PasswordMax-e.game.PasswordMin+1)
}
