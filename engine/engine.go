package engine

import (
	"sync"

	"loopseq/logx"
)

// Engine owns one fixed-size bank of tracks plus the shared Tempo,
// Scheduler, and routers, and drives the per-tick emission loop across
// every running track. This is the top-level object a cmd/ binary or a
// control surface talks to.
type Engine struct {
	Tempo     *Tempo
	Scheduler *Scheduler
	Input     *InputRouter
	Output    *OutputRouter
	Store     *Store

	Tracks []*Track

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewEngine builds an Engine with numTracks empty tracks, wired to a
// fresh Tempo/Scheduler/InputRouter/OutputRouter, persisting to
// statePath.
func NewEngine(numTracks, bpm int, statePath string) *Engine {
	tempo := NewTempo(bpm)
	sched := NewScheduler(tempo)
	output := NewOutputRouter()
	input := NewInputRouter(tempo, output)

	e := &Engine{
		Tempo:     tempo,
		Scheduler: sched,
		Input:     input,
		Output:    output,
		Store:     NewStore(statePath),
		stopCh:    make(chan struct{}),
	}

	for i := 0; i < numTracks; i++ {
		tr := NewTrack(i, tempo, output, sched)
		e.Tracks = append(e.Tracks, tr)
		input.AddTrack(tr)
	}
	return e
}

// Run starts the clock, the scheduler, and the engine's own tick-stepping
// loop, and blocks until Stop is called. Meant to run in its own
// goroutine (or as the blocking call of a cmd/ main).
func (e *Engine) Run() {
	go e.Tempo.Run()
	go e.Scheduler.Run()

	ticks := e.Tempo.Clock().Subscribe()
	for {
		select {
		case <-e.stopCh:
			e.panicAll()
			return
		case <-ticks:
			for _, tr := range e.Tracks {
				tr.OnClock()
			}
		}
	}
}

func (e *Engine) panicAll() {
	for _, tr := range e.Tracks {
		tr.Stop()
	}
}

// Stop halts every track (emitting NoteOff for every held pitch) and
// terminates the clock and scheduler goroutines. Idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.Scheduler.Stop()
	e.Tempo.Stop()
}

// Save writes the engine's full state to the persistence store.
func (e *Engine) Save() error {
	snap := Snapshot{
		Metronome:     e.Tempo.MetronomeEnabled(),
		Tempo:         int(e.Tempo.BPM()),
		NumTracks:     len(e.Tracks),
		SchemaVersion: 1,
	}
	for _, tr := range e.Tracks {
		snap.Sequencers = append(snap.Sequencers, tr.Snapshot())
	}
	return e.Store.Save(snap)
}

// Load restores state from the persistence store. A missing or malformed
// file is tolerated (the StateCorrupt failure kind): Load logs and leaves
// the engine at its current configuration rather than failing startup.
func (e *Engine) Load() {
	snap, err := e.Store.Load()
	if err != nil {
		logx.Errorf(logx.Persist, "state.json unreadable, continuing with defaults: %v", err)
		return
	}
	if len(snap.Sequencers) == 0 {
		return
	}
	if snap.Tempo > 0 {
		e.Tempo.SetBPM(float64(snap.Tempo))
	}
	e.Tempo.SetMetronomeEnabled(snap.Metronome)
	for i, tr := range e.Tracks {
		if i >= len(snap.Sequencers) {
			break
		}
		if err := tr.LoadSnapshot(snap.Sequencers[i]); err != nil {
			logx.Errorf(logx.Persist, "track %d state corrupt, skipping: %v", i, err)
		}
	}
}
