package engine

import (
	"math"
	"reflect"
	"testing"
)

// recordingSink collects every message a Track sends, in order.
type recordingSink struct {
	sent []Message
}

func (s *recordingSink) Send(m Message) { s.sent = append(s.sent, m) }

// immediateScheduler runs every scheduled callback synchronously, so tests
// don't need a real clock-driven Scheduler goroutine.
type immediateScheduler struct {
	lastTarget float64
}

func (s *immediateScheduler) Schedule(target float64, fn func()) {
	s.lastTarget = target
	fn()
}

func newTestTrack(tempo *Tempo) (*Track, *recordingSink) {
	sink := &recordingSink{}
	tr := NewTrack(0, tempo, sink, &immediateScheduler{})
	tr.SetBars(2) // loop_length = 8 beats at bar_size=4
	return tr, sink
}

func setPosition(tempo *Tempo, beats float64) {
	// OnExternalSongPos sets ticks = sixteenths*6, i.e. position in beats =
	// sixteenths/4, so beats is rounded to the nearest quarter beat: a value
	// that isn't an exact quarter-beat multiple lands on its nearest one
	// (2.8 lands on 2.75, 7.9 on 8.0).
	tempo.OnExternalSongPos(uint32(math.Round(beats * 4)))
}

// S1: record a note, stop recording, start playback, and expect the
// recorded NoteOn/NoteOff pair re-emitted at the same positions with the
// channel rewritten to output_channel.
func TestTrack_RecordAndPlay(t *testing.T) {
	tempo := NewTempo(120)
	tr, sink := newTestTrack(tempo)
	tr.SetOutputChannel(3)

	tr.Record()
	setPosition(tempo, 0.50)
	tr.ProcessMessage(Message{Kind: NoteOn, Channel: 1, Note: 60, Velocity: 100})
	setPosition(tempo, 1.00)
	tr.ProcessMessage(Message{Kind: NoteOff, Channel: 1, Note: 60})
	tr.StopRecording()

	events := tr.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 recorded events, got %d", len(events))
	}

	// Playback continues on the same run rather than a fresh Start, so
	// startPosition (captured at the Record-triggered Start, tempo position
	// 0) still anchors these queries to the positions the note was recorded
	// at.
	sink.sent = nil

	setPosition(tempo, 0.50)
	tr.OnClock()
	setPosition(tempo, 1.00)
	tr.OnClock()

	if len(sink.sent) != 2 {
		t.Fatalf("expected NoteOn+NoteOff emitted, got %d messages: %+v", len(sink.sent), sink.sent)
	}
	if sink.sent[0].Kind != NoteOn || sink.sent[0].Note != 60 || sink.sent[0].Channel != 3 {
		t.Errorf("first emission = %+v, want NoteOn(60) on channel 3", sink.sent[0])
	}
	if sink.sent[1].Kind != NoteOff || sink.sent[1].Note != 60 || sink.sent[1].Channel != 3 {
		t.Errorf("second emission = %+v, want NoteOff(60) on channel 3", sink.sent[1])
	}
}

// S2: a note recorded across the loop wrap point must stay held across the
// boundary rather than re-attacking.
func TestTrack_WrapNote(t *testing.T) {
	tempo := NewTempo(120)
	tr, _ := newTestTrack(tempo)

	tr.Record()
	setPosition(tempo, 7.75)
	tr.ProcessMessage(Message{Kind: NoteOn, Channel: 1, Note: 62, Velocity: 100})
	setPosition(tempo, 0.25)
	tr.ProcessMessage(Message{Kind: NoteOff, Channel: 1, Note: 62})
	tr.StopRecording()

	filtered := tr.FilteredEvents()
	if len(filtered) != 2 {
		t.Fatalf("expected 2 filtered events, got %d", len(filtered))
	}

	// Still running from the Record-triggered Start (startPosition 0), so
	// this query lands relative to the same positions the pair was
	// recorded at: tempo position 8.0 is loop position 0, the wrap point.
	setPosition(tempo, 8.0)
	open := tr.openAtLocked(tr.positionLocked())
	if _, held := open[62]; !held {
		t.Fatalf("note 62 should still be open at the loop wrap point, open=%v", open)
	}
}

// S3: overdubbing a new pair over an existing one removes the prior pair
// entirely, leaving only the new recording.
func TestTrack_OverdubOverlap(t *testing.T) {
	tempo := NewTempo(120)
	tr, _ := newTestTrack(tempo)

	tr.ReplaceEvents([]Event{
		{Position: 2.0, Message: Message{Kind: NoteOn, Note: 62, Velocity: 100}},
		{Position: 3.0, Message: Message{Kind: NoteOff, Note: 62}},
	})

	tr.Record()
	setPosition(tempo, 2.5)
	tr.ProcessMessage(Message{Kind: NoteOn, Channel: 1, Note: 62, Velocity: 90})
	setPosition(tempo, 2.75)
	tr.ProcessMessage(Message{Kind: NoteOff, Channel: 1, Note: 62})
	tr.StopRecording()

	events := tr.Events()
	if len(events) != 2 {
		t.Fatalf("expected exactly the new pair to survive, got %d events: %+v", len(events), events)
	}
	for _, e := range events {
		if e.Position != 2.5 && e.Position != 2.75 {
			t.Errorf("unexpected surviving event at position %v, want only the new pair", e.Position)
		}
	}
}

// S6: stopping a track with held notes emits a NoteOff for every pitch and
// leaves currently_on empty.
func TestTrack_PanicOnStop(t *testing.T) {
	tempo := NewTempo(120)
	tr, sink := newTestTrack(tempo)

	tr.Start()
	tr.mu.Lock()
	tr.currentlyOn[60] = Event{Message: Message{Kind: NoteOn, Note: 60}}
	tr.currentlyOn[64] = Event{Message: Message{Kind: NoteOn, Note: 64}}
	tr.mu.Unlock()

	tr.Stop()

	if len(sink.sent) != 2 {
		t.Fatalf("expected 2 NoteOffs on stop, got %d: %+v", len(sink.sent), sink.sent)
	}
	for _, m := range sink.sent {
		if m.Kind != NoteOff {
			t.Errorf("message %+v is not a NoteOff", m)
		}
	}

	tr.mu.Lock()
	n := len(tr.currentlyOn)
	tr.mu.Unlock()
	if n != 0 {
		t.Errorf("currently_on should be empty after stop, has %d entries", n)
	}
}

// Property 1 (pair closure): after record/stop-recording, every NoteOn has
// a matching NoteOff, with at most one exception per pitch still open in
// currently_recording_notes.
func TestTrack_PairClosureProperty(t *testing.T) {
	tempo := NewTempo(120)
	tr, _ := newTestTrack(tempo)

	tr.Record()
	setPosition(tempo, 0.0)
	tr.ProcessMessage(Message{Kind: NoteOn, Channel: 1, Note: 60})
	setPosition(tempo, 1.0)
	tr.ProcessMessage(Message{Kind: NoteOff, Channel: 1, Note: 60})
	setPosition(tempo, 2.0)
	tr.ProcessMessage(Message{Kind: NoteOn, Channel: 1, Note: 64})
	// 64 is left dangling deliberately, then closed by StopRecording.
	tr.StopRecording()

	ons := map[uint8]int{}
	offs := map[uint8]int{}
	for _, e := range tr.Events() {
		switch e.Message.Kind {
		case NoteOn:
			ons[e.Message.Note]++
		case NoteOff:
			offs[e.Message.Note]++
		}
	}
	for pitch, count := range ons {
		if offs[pitch] != count {
			t.Errorf("pitch %d has %d NoteOn but %d NoteOff", pitch, count, offs[pitch])
		}
	}
}

// Property 3 (filter purity): calling Refresh twice yields identical
// filtered_events.
func TestTrack_RefreshIsIdempotent(t *testing.T) {
	tempo := NewTempo(120)
	tr, _ := newTestTrack(tempo)
	tr.SetQuantizer(true, 4)
	tr.SetOffset(0.1)
	tr.ReplaceEvents([]Event{
		{Position: 0.13, Message: Message{Kind: NoteOn, Note: 60, Velocity: 100}},
		{Position: 0.37, Message: Message{Kind: NoteOff, Note: 60}},
	})

	first := tr.FilteredEvents()
	tr.Refresh()
	second := tr.FilteredEvents()

	if !reflect.DeepEqual(first, second) {
		t.Errorf("refresh is not idempotent: %+v != %+v", first, second)
	}
}
