package engine

import "testing"

func approxEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-6
}

// S5: with divisor=4 against bar_size=4 (q=1.0 beat), a NoteOn at 0.13
// snaps to 0.0 and its paired NoteOff at 0.37 shifts by the same delta,
// landing at 0.24.
func TestQuantizerFilter_Scenario(t *testing.T) {
	events := []Event{
		{Position: 0.13, Message: Message{Kind: NoteOn, Note: 60, Velocity: 100}},
		{Position: 0.37, Message: Message{Kind: NoteOff, Note: 60}},
	}
	q := QuantizerFilter{Enabled: true, Divisor: 4, BarSize: 4}
	out := q.apply(CloneEvents(events), 8)

	if !approxEqual(out[0].Position, 0.0) {
		t.Errorf("NoteOn snapped to %v, want 0.0", out[0].Position)
	}
	if !approxEqual(out[1].Position, 0.24) {
		t.Errorf("NoteOff snapped to %v, want 0.24", out[1].Position)
	}
}

// Property 4: applying the quantizer twice with the same divisor is the
// same as applying it once.
func TestQuantizerFilter_Idempotent(t *testing.T) {
	events := []Event{
		{Position: 0.13, Message: Message{Kind: NoteOn, Note: 60, Velocity: 100}},
		{Position: 0.37, Message: Message{Kind: NoteOff, Note: 60}},
	}
	q := QuantizerFilter{Enabled: true, Divisor: 4, BarSize: 4}

	once := q.apply(CloneEvents(events), 8)
	twice := q.apply(CloneEvents(once), 8)

	for i := range once {
		if !approxEqual(once[i].Position, twice[i].Position) {
			t.Errorf("event %d: applying twice moved position %v -> %v", i, once[i].Position, twice[i].Position)
		}
	}
}

// Open question 4's resolution: gate length multiplier is capped strictly
// below a full loop, so a held note can never wrap into re-triggering
// itself regardless of how large the multiplier is set.
func TestGateLengthFilter_CapsBelowLoopLength(t *testing.T) {
	events := []Event{
		{Position: 0, Message: Message{Kind: NoteOn, Note: 60, Velocity: 100}},
		{Position: 1, Message: Message{Kind: NoteOff, Note: 60}},
	}
	g := GateLengthFilter{Multiplier: 4}
	out := g.apply(CloneEvents(events), 2) // loop_length=2, 4x a 1-beat note would overrun it

	length := out[1].Position - out[0].Position
	if length < 0 {
		length += 2
	}
	if length >= 2 {
		t.Errorf("gate length %v should stay strictly below loop_length=2", length)
	}
}

// The offset filter shifts both halves of a pair that wraps the loop by
// the same amount, without reordering events or changing message kinds.
func TestOffsetFilter_PreservesPairing(t *testing.T) {
	events := []Event{
		{Position: 7.9, Message: Message{Kind: NoteOn, Note: 62, Velocity: 100}},
		{Position: 0.2, Message: Message{Kind: NoteOff, Note: 62}},
	}
	f := OffsetFilter{Offset: 0.5}
	out := f.apply(CloneEvents(events), 8)

	if out[0].Message.Kind != NoteOn || out[1].Message.Kind != NoteOff {
		t.Fatalf("offset filter must not reorder or change message kinds: %+v", out)
	}
	if !approxEqual(out[0].Position, wrapPosition(7.9+0.5, 8)) {
		t.Errorf("NoteOn position = %v, want %v", out[0].Position, wrapPosition(7.9+0.5, 8))
	}
	if !approxEqual(out[1].Position, wrapPosition(0.2+0.5, 8)) {
		t.Errorf("NoteOff position = %v, want %v", out[1].Position, wrapPosition(0.2+0.5, 8))
	}
}

func TestPairedOffIndex_WrapsAroundSlice(t *testing.T) {
	events := []Event{
		{Position: 0.5, Message: Message{Kind: NoteOff, Note: 62}},
		{Position: 7.75, Message: Message{Kind: NoteOn, Note: 62}},
	}
	idx := pairedOffIndex(events, 1)
	if idx != 0 {
		t.Errorf("pairedOffIndex = %d, want 0 (wrapping to the start of the slice)", idx)
	}
}
