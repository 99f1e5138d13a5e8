package engine

import (
	"sync"
	"time"

	"loopseq/logx"
)

// ClockMode identifies which tick source currently drives the engine.
type ClockMode int

const (
	ClockInternal ClockMode = iota
	ClockExternal
)

const (
	ticksPerQuarterNote       = 24
	externalClockStallTimeout = 1000 * time.Millisecond
)

// ClockSource produces a 24 PPQN tick stream from either an internal
// BPM-driven timer or external MIDI clock (0xF8) messages, and implements
// the active-clock selector: the first external tick takes over
// immediately, and externalClockStallTimeout of external silence reverts
// to internal.
type ClockSource struct {
	mu           sync.Mutex
	mode         ClockMode
	bpmProvider  func() float64
	lastExternal time.Time
	ticks        uint64
	subs         []chan struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewClockSource builds a clock whose internal cadence is driven by
// bpmProvider, read once per internal tick so BPM changes take effect
// immediately.
func NewClockSource(bpmProvider func() float64) *ClockSource {
	return &ClockSource{
		mode:        ClockInternal,
		bpmProvider: bpmProvider,
		stopCh:      make(chan struct{}),
	}
}

// Subscribe returns a channel that receives a value on every tick of the
// active source. Delivery is best-effort: a subscriber slower than the
// tick rate misses ticks rather than blocking the clock, which the
// emission model tolerates (a missed tick delays a note on/off by at most
// one tick; see the track emission loop).
func (c *ClockSource) Subscribe() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan struct{}, 1)
	c.subs = append(c.subs, ch)
	return ch
}

// Mode reports the currently active clock source.
func (c *ClockSource) Mode() ClockMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// TickCount returns the PPQN tick counter of the active source.
func (c *ClockSource) TickCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// ExternalTick registers one incoming MIDI clock pulse and returns an
// instantaneous BPM estimate (0 if this is the first tick seen). Switches
// the active mode to external.
func (c *ClockSource) ExternalTick() (bpmEstimate float64) {
	c.mu.Lock()
	now := time.Now()
	wasInternal := c.mode == ClockInternal
	if !c.lastExternal.IsZero() {
		dt := now.Sub(c.lastExternal).Seconds()
		if dt > 0 {
			bpmEstimate = 60.0 / (float64(ticksPerQuarterNote) * dt)
		}
	}
	c.lastExternal = now
	c.mode = ClockExternal
	c.ticks++
	c.mu.Unlock()

	if wasInternal {
		logx.Infof(logx.Clock, "external clock detected, taking over from internal")
	}
	c.emit()
	return bpmEstimate
}

// ExternalSongPos resets the tick counter from an incoming MIDI songpos
// message. sixteenths is the MIDI songpos value: a count of MIDI beats
// (sixteenth notes), each equal to 6 clock ticks at 24 PPQN.
func (c *ClockSource) ExternalSongPos(sixteenths uint32) {
	c.mu.Lock()
	c.ticks = uint64(sixteenths) * 6
	c.mode = ClockExternal
	c.lastExternal = time.Now()
	c.mu.Unlock()
}

// Run drives the internal timer and the external-silence watchdog. It
// blocks until Stop is called and is meant to run in its own goroutine —
// the engine's single logical clock thread.
func (c *ClockSource) Run() {
	watchdog := time.NewTicker(100 * time.Millisecond)
	defer watchdog.Stop()

	interval := func() time.Duration {
		bpm := c.bpmProvider()
		if bpm <= 0 {
			bpm = 120
		}
		return time.Duration(60.0 / bpm / float64(ticksPerQuarterNote) * float64(time.Second))
	}
	timer := time.NewTimer(interval())
	defer timer.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-watchdog.C:
			c.mu.Lock()
			stalled := c.mode == ClockExternal && !c.lastExternal.IsZero() &&
				time.Since(c.lastExternal) > externalClockStallTimeout
			if stalled {
				c.mode = ClockInternal
			}
			c.mu.Unlock()
			if stalled {
				logx.Warnf(logx.Clock, "external clock stalled, reverting to internal")
			}
		case <-timer.C:
			c.mu.Lock()
			isInternal := c.mode == ClockInternal
			if isInternal {
				c.ticks++
			}
			c.mu.Unlock()
			if isInternal {
				c.emit()
			}
			timer.Reset(interval())
		}
	}
}

// Stop terminates the clock's internal goroutine. Idempotent.
func (c *ClockSource) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *ClockSource) emit() {
	c.mu.Lock()
	subs := c.subs
	c.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
