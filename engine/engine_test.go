package engine

import (
	"path/filepath"
	"testing"
)

func TestNewEngine_WiresTracksToInputRouter(t *testing.T) {
	eng := NewEngine(4, 120, filepath.Join(t.TempDir(), "state.json"))
	if len(eng.Tracks) != 4 {
		t.Fatalf("expected 4 tracks, got %d", len(eng.Tracks))
	}
	if len(eng.Input.tracks) != 4 {
		t.Fatalf("expected all 4 tracks registered with the input router, got %d", len(eng.Input.tracks))
	}
	for i, tr := range eng.Tracks {
		if tr.ID() != i {
			t.Errorf("track %d has ID %d", i, tr.ID())
		}
	}
}

func TestEngine_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	eng := NewEngine(2, 100, path)
	eng.Tracks[0].SetBars(5)
	eng.Tracks[0].ReplaceEvents([]Event{
		{Position: 0.5, Message: Message{Kind: NoteOn, Channel: 1, Note: 60, Velocity: 80}},
		{Position: 1.5, Message: Message{Kind: NoteOff, Channel: 1, Note: 60}},
	})
	eng.Tempo.SetBPM(140)
	eng.Tempo.SetMetronomeEnabled(true)

	if err := eng.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := NewEngine(2, 100, path)
	reloaded.Load()

	if reloaded.Tempo.BPM() != 140 {
		t.Errorf("reloaded bpm = %v, want 140", reloaded.Tempo.BPM())
	}
	if !reloaded.Tempo.MetronomeEnabled() {
		t.Error("reloaded metronome should be enabled")
	}
	if reloaded.Tracks[0].Bars() != 5 {
		t.Errorf("reloaded track 0 bars = %d, want 5", reloaded.Tracks[0].Bars())
	}
	if len(reloaded.Tracks[0].Events()) != 2 {
		t.Errorf("reloaded track 0 events = %d, want 2", len(reloaded.Tracks[0].Events()))
	}
}

func TestEngine_StopIsIdempotent(t *testing.T) {
	eng := NewEngine(1, 120, filepath.Join(t.TempDir(), "state.json"))
	done := make(chan struct{})
	go func() {
		eng.Run()
		close(done)
	}()

	eng.Stop()
	eng.Stop() // must not panic on a second call
	<-done
}
