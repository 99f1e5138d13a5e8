package engine

import (
	"sync"
	"time"
)

// MetronomeClick is emitted on every beat boundary when the metronome is
// enabled. Strong marks beat 1 of the bar; playing the actual
// metronome.wav / metronome_b.wav assets is left to the UI/audio
// collaborator.
type MetronomeClick struct {
	Strong bool
}

// Tempo tracks musical position in beats, derives BPM under external
// clock (smoothed), and emits metronome cues. It owns a ClockSource and is
// the sole writer of BPM/metronome state; Track and Scheduler only read
// from it.
type Tempo struct {
	mu                  sync.RWMutex
	barSize             float64
	bpm                 float64
	externalBPMEstimate float64
	metronomeEnabled    bool

	clock     *ClockSource
	metronome chan MetronomeClick

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewTempo builds a Tempo with the given initial (internal) BPM, clamped
// to [60,200], and bar_size = 4 beats.
func NewTempo(bpm int) *Tempo {
	t := &Tempo{
		barSize:   4,
		bpm:       clampBPM(float64(bpm)),
		metronome: make(chan MetronomeClick, 8),
		stopCh:    make(chan struct{}),
	}
	t.clock = NewClockSource(func() float64 {
		t.mu.RLock()
		defer t.mu.RUnlock()
		return t.bpm
	})
	return t
}

func clampBPM(bpm float64) float64 {
	if bpm < 60 {
		return 60
	}
	if bpm > 200 {
		return 200
	}
	return bpm
}

// Clock returns the underlying tick source, for Engine to Run() and for
// the Input Router to feed external clock/songpos messages into.
func (t *Tempo) Clock() *ClockSource { return t.clock }

// Metronome returns the channel of beat cues; empty unless enabled.
func (t *Tempo) Metronome() <-chan MetronomeClick { return t.metronome }

// BPM returns the effective tempo: the smoothed external estimate while
// slaved to external clock, otherwise the configured internal value.
func (t *Tempo) BPM() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.clock.Mode() == ClockExternal && t.externalBPMEstimate > 0 {
		return t.externalBPMEstimate
	}
	return t.bpm
}

// SetBPM sets the internal tempo, clamped to [60,200]. Has no effect on
// the externally-derived estimate while slaved to external clock.
func (t *Tempo) SetBPM(bpm float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bpm = clampBPM(bpm)
}

// BarSize returns beats per bar (always 4 in this implementation).
func (t *Tempo) BarSize() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.barSize
}

// BeatDuration is the wall-clock duration of one beat at the current BPM.
func (t *Tempo) BeatDuration() time.Duration {
	return time.Duration(60.0 / t.BPM() * float64(time.Second))
}

// Position returns the current musical position in beats, derived from
// the active clock's tick counter.
func (t *Tempo) Position() float64 {
	return float64(t.clock.TickCount()) / float64(ticksPerQuarterNote)
}

// PositionToTime converts a beat position to a wall-clock duration at the
// current BPM: p * 60 / bpm.
func (t *Tempo) PositionToTime(p float64) time.Duration {
	return time.Duration(p * 60.0 / t.BPM() * float64(time.Second))
}

// SetMetronomeEnabled toggles whether beat cues are emitted.
func (t *Tempo) SetMetronomeEnabled(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metronomeEnabled = on
}

// MetronomeEnabled reports whether beat cues are currently emitted.
func (t *Tempo) MetronomeEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.metronomeEnabled
}

// OnExternalClock must be called by the Input Router for every incoming
// MIDI clock (0xF8) message. It forwards the tick to the ClockSource and
// folds the instantaneous BPM estimate into a smoothed running value.
func (t *Tempo) OnExternalClock() {
	estimate := t.clock.ExternalTick()
	if estimate <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.externalBPMEstimate == 0 {
		t.externalBPMEstimate = estimate
		return
	}
	// exponential moving average smooths jitter between individual ticks
	const alpha = 0.2
	t.externalBPMEstimate = alpha*estimate + (1-alpha)*t.externalBPMEstimate
}

// OnExternalSongPos must be called by the Input Router for an incoming
// MIDI songpos (0xF2) message.
func (t *Tempo) OnExternalSongPos(sixteenths uint32) {
	t.clock.ExternalSongPos(sixteenths)
}

// runMetronome consumes ticks and emits a MetronomeClick on every beat
// boundary (every 24 ticks) while enabled. Intended to run in its own
// goroutine — the engine's tempo/metronome thread.
func (t *Tempo) runMetronome(ticks <-chan struct{}) {
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticks:
			tick := t.clock.TickCount()
			if tick%ticksPerQuarterNote != 0 {
				continue
			}
			if !t.MetronomeEnabled() {
				continue
			}
			beatIndex := tick / ticksPerQuarterNote
			strong := beatIndex%uint64(t.BarSize()) == 0
			select {
			case t.metronome <- MetronomeClick{Strong: strong}:
			default:
			}
		}
	}
}

// Run starts the clock goroutine and the metronome goroutine, and blocks
// until Stop is called.
func (t *Tempo) Run() {
	sub := t.clock.Subscribe()
	go t.runMetronome(sub)
	t.clock.Run()
}

// Stop terminates the tempo's goroutines. Idempotent.
func (t *Tempo) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.clock.Stop()
}
