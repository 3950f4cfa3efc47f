package engine

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Task is a handle to a scheduled callback
type Task interface {
	// Stop prevents future runs. It does not wait for a run in progress.
	Stop()
}

// Scheduler runs delayed and recurring callbacks
type Scheduler interface {
	// Every runs fn once per interval until the task is stopped
	Every(interval time.Duration, fn func()) Task

	// After runs fn once after delay unless the task is stopped first
	After(delay time.Duration, fn func()) Task
}

// ClockScheduler schedules callbacks on a clockwork clock
type ClockScheduler struct {
	clock clockwork.Clock
}

// NewScheduler creates a scheduler driven by clock
func NewScheduler(clock clockwork.Clock) *ClockScheduler {
	return &ClockScheduler{clock: clock}
}

// Every starts a ticker goroutine for fn
func (s *ClockScheduler) Every(interval time.Duration, fn func()) Task {
	t := &tickerTask{
		ticker: s.clock.NewTicker(interval),
		done:   make(chan struct{}),
	}
	go t.run(fn)
	return t
}

// After arms a one-shot timer for fn
func (s *ClockScheduler) After(delay time.Duration, fn func()) Task {
	return &timerTask{timer: s.clock.AfterFunc(delay, fn)}
}

type tickerTask struct {
	ticker clockwork.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *tickerTask) run(fn func()) {
	defer t.ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.Chan():
			// A stop racing with the tick wins
			select {
			case <-t.done:
				return
			default:
			}
			fn()
		}
	}
}

func (t *tickerTask) Stop() {
	t.once.Do(func() { close(t.done) })
}

type timerTask struct {
	timer clockwork.Timer
}

func (t *timerTask) Stop() {
	t.timer.Stop()
}
