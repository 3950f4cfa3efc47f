package engine

import (
	"encoding/json"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gravitas-games/hacksim/internal/config"
	"github.com/gravitas-games/hacksim/internal/metrics"
	"github.com/gravitas-games/hacksim/internal/network"
	"github.com/gravitas-games/hacksim/pkg/models"
)

// manualScheduler fires tasks only when the test asks
type manualScheduler struct {
	mu    sync.Mutex
	tasks []*manualTask
}

type manualTask struct {
	s        *manualScheduler
	fn       func()
	repeat   bool
	interval time.Duration
	stopped  bool
	fired    bool
}

func (t *manualTask) Stop() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.stopped = true
}

func (s *manualScheduler) Every(interval time.Duration, fn func()) Task {
	return s.add(&manualTask{s: s, fn: fn, repeat: true, interval: interval})
}

func (s *manualScheduler) After(delay time.Duration, fn func()) Task {
	return s.add(&manualTask{s: s, fn: fn, interval: delay})
}

func (s *manualScheduler) add(t *manualTask) Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
	return t
}

func (s *manualScheduler) live(repeat bool) []*manualTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*manualTask
	for _, t := range s.tasks {
		if t.repeat == repeat && !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// Tick fires every live recurring task once. A task stopped by an earlier
// callback in the same round is skipped.
func (s *manualScheduler) Tick() {
	for _, t := range s.live(true) {
		s.mu.Lock()
		stopped := t.stopped
		s.mu.Unlock()
		if !stopped {
			t.fn()
		}
	}
}

// FireTimers runs every pending one-shot task
func (s *manualScheduler) FireTimers() {
	for _, t := range s.live(false) {
		s.mu.Lock()
		t.fired = true
		s.mu.Unlock()
		t.fn()
	}
}

func (s *manualScheduler) Recurring() int { return len(s.live(true)) }
func (s *manualScheduler) Timers() int    { return len(s.live(false)) }

type delivery struct {
	to  string // empty for broadcasts
	msg *network.ServerMessage
}

// recorder captures everything the engine emits
type recorder struct {
	mu   sync.Mutex
	sent []delivery
}

func (r *recorder) Send(id string, msg *network.ServerMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, delivery{to: id, msg: msg})
}

func (r *recorder) Broadcast(msg *network.ServerMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, delivery{msg: msg})
}

func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

func (r *recorder) All() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery(nil), r.sent...)
}

// To returns direct messages for one session, in order
func (r *recorder) To(id string) []*network.ServerMessage {
	var out []*network.ServerMessage
	for _, d := range r.All() {
		if d.to == id {
			out = append(out, d.msg)
		}
	}
	return out
}

func (r *recorder) Types(id string) []string {
	var out []string
	for _, m := range r.To(id) {
		out = append(out, m.Type)
	}
	return out
}

func (r *recorder) Logs(id string) []string {
	var out []string
	for _, m := range r.To(id) {
		if m.Type == network.MsgTypeLog {
			out = append(out, m.Payload.(string))
		}
	}
	return out
}

func (r *recorder) LogsWithPrefix(id, prefix string) []string {
	var out []string
	for _, l := range r.Logs(id) {
		if strings.HasPrefix(l, prefix) {
			out = append(out, l)
		}
	}
	return out
}

func (r *recorder) Broadcasts() []*network.ServerMessage {
	var out []*network.ServerMessage
	for _, d := range r.All() {
		if d.to == "" {
			out = append(out, d.msg)
		}
	}
	return out
}

func (r *recorder) LastRoster() []models.RosterEntry {
	b := r.Broadcasts()
	if len(b) == 0 {
		return nil
	}
	return b[len(b)-1].Payload.([]models.RosterEntry)
}

type harness struct {
	engine  *Engine
	sched   *manualScheduler
	notes   *recorder
	clock   *clockwork.FakeClock
	metrics *metrics.Collector
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()

	cfg := config.Default()
	for _, m := range mutate {
		m(cfg)
	}

	h := &harness{
		sched:   &manualScheduler{},
		notes:   &recorder{},
		clock:   clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		metrics: metrics.New(nil),
	}
	h.engine = New(cfg, h.notes,
		WithClock(h.clock),
		WithScheduler(h.sched),
		WithRand(rand.New(rand.NewSource(7))),
		WithMetrics(h.metrics),
		WithLogger(zerolog.Nop()),
	)
	t.Cleanup(h.engine.Shutdown)
	return h
}

// tickUntil fires ticks until done reports true or max ticks elapse
func (h *harness) tickUntil(max int, done func() bool) int {
	for i := 1; i <= max; i++ {
		h.sched.Tick()
		if done() {
			return i
		}
	}
	return -1
}

func (h *harness) player(t *testing.T, id string) models.Player {
	t.Helper()
	p, ok := h.engine.Get(id)
	if !ok {
		t.Fatalf("player %s not found", id)
	}
	return p
}

// wire returns msg as the client would receive it
func wire(t *testing.T, msg *network.ServerMessage) string {
	t.Helper()

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return string(data)
}
