package engine

import "math"

// epsilon keeps the gate length filter's cap strictly below a full loop so
// a held note never re-triggers itself on wrap.
const epsilon = 1e-6

// wrapPosition folds p into [0, loopLength).
func wrapPosition(p, loopLength float64) float64 {
	if loopLength <= 0 {
		return 0
	}
	p = math.Mod(p, loopLength)
	if p < 0 {
		p += loopLength
	}
	return p
}

// pairedOffIndex finds the index of the NoteOff paired with the NoteOn at
// onIdx: scan forward in position order from onIdx, wrapping to the start
// of the slice if nothing is found before reaching it again. Returns -1 for
// an orphan NoteOn (an in-progress recording).
func pairedOffIndex(events []Event, onIdx int) int {
	note := events[onIdx].Message.Note
	for i := onIdx; i < len(events); i++ {
		if events[i].Message.Kind == NoteOff && events[i].Message.Note == note {
			return i
		}
	}
	for i := 0; i < onIdx; i++ {
		if events[i].Message.Kind == NoteOff && events[i].Message.Note == note {
			return i
		}
	}
	return -1
}

// OffsetFilter shifts every on/off pair by a fixed number of beats.
type OffsetFilter struct {
	Offset float64 // beats, typically in [-1, 1]
}

func (f OffsetFilter) apply(events []Event, loopLength float64) []Event {
	if f.Offset == 0 {
		return events
	}
	for i := range events {
		if events[i].Message.Kind != NoteOn {
			continue
		}
		offIdx := pairedOffIndex(events, i)
		if offIdx < 0 {
			continue
		}
		events[i].Position = wrapPosition(events[i].Position+f.Offset, loopLength)
		events[offIdx].Position = wrapPosition(events[offIdx].Position+f.Offset, loopLength)
	}
	return events
}

// GateLengthFilter scales the duration of every held note by Multiplier,
// preserving the note's attack position.
type GateLengthFilter struct {
	Multiplier float64 // (0, 4], 1 = unmodified
}

func (f GateLengthFilter) apply(events []Event, loopLength float64) []Event {
	mult := f.Multiplier
	if mult <= 0 {
		mult = 1
	}
	for i := range events {
		if events[i].Message.Kind != NoteOn {
			continue
		}
		offIdx := pairedOffIndex(events, i)
		if offIdx < 0 {
			continue
		}
		length := events[offIdx].Position - events[i].Position
		if length < 0 {
			length += loopLength
		}
		length *= mult
		if cap := loopLength - epsilon; length > cap {
			length = cap
		}
		events[offIdx].Position = wrapPosition(events[i].Position+length, loopLength)
	}
	return events
}

// QuantizerFilter snaps each NoteOn to the nearest multiple of q beats,
// shifting its paired NoteOff by the same delta so the held length is
// unaffected. q = bar_size / Divisor (the named resolution of the spec's
// open question on quantization units).
type QuantizerFilter struct {
	Enabled bool
	Divisor int // one of {1,2,4,8,16,32}
	BarSize float64
}

// QuantizeUnit returns q in beats for the configured divisor.
func (f QuantizerFilter) QuantizeUnit() float64 {
	if f.Divisor <= 0 {
		return f.BarSize
	}
	return f.BarSize / float64(f.Divisor)
}

func (f QuantizerFilter) apply(events []Event, loopLength float64) []Event {
	if !f.Enabled {
		return events
	}
	q := f.QuantizeUnit()
	if q <= 0 {
		return events
	}
	for i := range events {
		if events[i].Message.Kind != NoteOn {
			continue
		}
		offIdx := pairedOffIndex(events, i)
		snapped := math.Round(events[i].Position/q) * q
		delta := snapped - events[i].Position
		events[i].Position = wrapPosition(snapped, loopLength)
		if offIdx >= 0 {
			events[offIdx].Position = wrapPosition(events[offIdx].Position+delta, loopLength)
		}
	}
	return events
}

// Filters bundles a track's three per-track transforms and runs them in
// the order the reference implementation actually applies them: offset,
// then gate length, then quantizer (the distilled spec's prose states the
// opposite order; the resolution of that discrepancy is recorded in
// DESIGN.md).
type Filters struct {
	Offset     OffsetFilter
	GateLength GateLengthFilter
	Quantizer  QuantizerFilter
}

// Apply runs the pipeline over a clone of events, never mutating the
// original slice, and returns the derived filtered list.
func (f Filters) Apply(events []Event, loopLength float64) []Event {
	out := CloneEvents(events)
	out = f.Offset.apply(out, loopLength)
	out = f.GateLength.apply(out, loopLength)
	out = f.Quantizer.apply(out, loopLength)
	return out
}
