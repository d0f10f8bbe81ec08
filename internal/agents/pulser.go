package agents

import (
	"sync"
	"sync/atomic"
	"time"
)

// Pulser drives periodic heartbeats for one agent until stopped. The
// registry never polls agents itself; a Pulser is how a caller keeps an
// in-process agent alive while its work function runs.
type Pulser struct {
	registry *Registry
	agentID  string
	interval time.Duration

	stop      chan struct{}
	done      chan struct{}
	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPulser creates a Pulser for the given agent. Call Start to begin.
func NewPulser(r *Registry, agentID string, interval time.Duration) *Pulser {
	return &Pulser{
		registry: r,
		agentID:  agentID,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins heartbeating in a background goroutine. The loop exits on
// Stop or when the agent disappears from the registry. Calling Start twice
// is a no-op.
func (p *Pulser) Start() {
	p.startOnce.Do(func() {
		p.started.Store(true)
		go p.loop()
	})
}

func (p *Pulser) loop() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if err := p.registry.Heartbeat(p.agentID); err != nil {
				return
			}
		}
	}
}

// Stop halts the heartbeat loop and waits for it to exit. Safe to call more
// than once, or without a prior Start.
func (p *Pulser) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	if p.started.Load() {
		<-p.done
	}
}
