package scope

import (
	"context"
	"time"
)

// job performs a poll's I/O off the actor goroutine and returns the closure
// that applies its result on the actor.
type job func(ctx context.Context) (apply func())

// poller drives one periodic poll. Every field is owned by the scope actor.
// The next run is armed only after the previous one completed, and a trigger
// arriving while a run is in flight is skipped, not queued.
type poller struct {
	name     string
	interval time.Duration
	plan     func() job
	post     func(func()) bool
	observe  func(name string, took time.Duration)
	onSkip   func(name string)

	ctx      context.Context
	seq      uint64
	running  bool
	inFlight bool
	timer    *time.Timer
	cancel   context.CancelFunc
	skipped  int
	lastRun  time.Time
}

func (p *poller) start(ctx context.Context) {
	p.stop()
	p.ctx = ctx
	p.running = true
	p.trigger()
}

func (p *poller) stop() {
	p.seq++
	p.running = false
	p.inFlight = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// trigger starts a run now. It reports false when stopped or already in flight.
func (p *poller) trigger() bool {
	if !p.running {
		return false
	}
	if p.inFlight {
		p.skipped++
		if p.onSkip != nil {
			p.onSkip(p.name)
		}
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}

	run := p.plan()
	seq := p.seq
	ctx, cancel := context.WithCancel(p.ctx)
	p.cancel = cancel
	p.inFlight = true
	started := time.Now()

	go func() {
		var apply func()
		if run != nil {
			apply = run(ctx)
		}
		posted := p.post(func() {
			cancel()
			if seq != p.seq {
				return
			}
			p.cancel = nil
			p.inFlight = false
			p.lastRun = time.Now()
			if p.observe != nil {
				p.observe(p.name, p.lastRun.Sub(started))
			}
			if apply != nil {
				apply()
			}
			p.schedule(seq)
		})
		if !posted {
			cancel()
		}
	}()
	return true
}

func (p *poller) schedule(seq uint64) {
	p.timer = time.AfterFunc(p.interval, func() {
		p.post(func() {
			if seq != p.seq {
				return
			}
			p.timer = nil
			p.trigger()
		})
	})
}
