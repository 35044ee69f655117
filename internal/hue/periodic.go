package hue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// periodicTask fires tick on its own goroutine every interval. A tick that
// arrives while the previous one is still running is skipped, not queued.
// Stop is the only way to cancel and may be called from inside tick, which
// receives its own task for that purpose.
type periodicTask struct {
	name     string
	stop     chan struct{}
	stopOnce sync.Once
	busy     atomic.Bool
}

func startPeriodic(name string, interval time.Duration, tick func(*periodicTask)) *periodicTask {
	p := &periodicTask{
		name: name,
		stop: make(chan struct{}),
	}
	go p.run(interval, tick)
	return p
}

func (p *periodicTask) run(interval time.Duration, tick func(*periodicTask)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if !p.busy.CompareAndSwap(false, true) {
				log.Debug().Str("task", p.name).Msg("Previous tick still running, skipping")
				continue
			}
			go p.fire(tick)
		}
	}
}

func (p *periodicTask) fire(tick func(*periodicTask)) {
	defer p.busy.Store(false)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("task", p.name).Msg("Periodic tick panicked")
		}
	}()
	if p.Stopped() {
		return
	}
	tick(p)
}

// Stop cancels future ticks. A tick already running completes.
func (p *periodicTask) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
}

// Stopped reports whether Stop was called.
func (p *periodicTask) Stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}
