package hue

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huesync/internal/eventbus"
)

// tracker is one slot for a long-running bridge operation. task is guarded
// by the session lifecycle lock.
type tracker struct {
	name string
	task *periodicTask
}

func (t *tracker) activeLocked() bool {
	return t.task != nil
}

func (t *tracker) stopLocked() {
	if t.task != nil {
		t.task.Stop()
		t.task = nil
	}
}

// pollOutcome is what one tick decided.
type pollOutcome struct {
	done   bool
	result string
	// notify raises the change events for state mutated while polling.
	notify func()
}

// pollFunc runs with the refresh lock held. lastTick is set on the tick that
// reaches the timeout, and the poll must report done on it.
type pollFunc func(ctx context.Context, lastTick bool) (pollOutcome, error)

type trackerRun struct {
	slot       *tracker
	interval   time.Duration
	timeout    time.Duration
	completion eventbus.EventType
	failed     string
	poll       pollFunc
}

// startTrackerLocked expects lifeMu to be held. The timeout is counted in
// ticks, so a slow bridge stretches it.
func (s *Session) startTrackerLocked(run trackerRun) {
	maxTicks := int(run.timeout / run.interval)
	if maxTicks < 1 {
		maxTicks = 1
	}
	ctx := s.ctx
	ticks := 0

	run.slot.task = startPeriodic(run.slot.name, run.interval, func(task *periodicTask) {
		if ctx.Err() != nil {
			return
		}
		ticks++
		s.trackerTick(ctx, task, run, ticks >= maxTicks)
	})
	log.Debug().Str("tracker", run.slot.name).Int("max_ticks", maxTicks).Msg("Tracker started")
}

func (s *Session) trackerTick(ctx context.Context, task *periodicTask, run trackerRun, lastTick bool) {
	s.refreshMu.Lock()
	if ctx.Err() != nil {
		// Uninitialized while waiting for the lock
		s.refreshMu.Unlock()
		return
	}
	out, err := run.poll(ctx, lastTick)
	s.refreshMu.Unlock()

	if err != nil {
		s.emitError(err)
		out = pollOutcome{done: true, result: run.failed, notify: out.notify}
	}
	if lastTick && !out.done {
		out.done = true
		out.result = run.failed
	}
	if !out.done {
		return
	}

	// The refresh lock is released above; taking it again after lifeMu
	// would invert the lock order.
	s.lifeMu.Lock()
	task.Stop()
	if run.slot.task == task {
		run.slot.task = nil
	}
	s.lifeMu.Unlock()

	if out.notify != nil {
		out.notify()
	}
	s.emitCompleted(run.completion, out.result)
	log.Info().Str("tracker", run.slot.name).Str("result", out.result).Msg("Tracker finished")
}
