package engine

import (
	"sort"
	"sync"
)

// TrackState is the observable state of a Track's transport.
type TrackState int

const (
	Idle TrackState = iota
	Playing
	Recording
)

// OutputSink is the destination for a Track's emitted messages: the
// Output Router in production, a recording slice in tests.
type OutputSink interface {
	Send(Message)
}

// BarScheduler defers a callback to as close as possible to a target
// musical position. Implemented by Scheduler; a small interface here lets
// Track be tested without a real scheduler goroutine.
type BarScheduler interface {
	Schedule(targetPosition float64, fn func())
}

// Track holds one loop's recorded events, owns its record/play state
// machine, and drives per-tick emission. All mutation goes through the
// track's own mutex; there is no global lock.
type Track struct {
	id     int
	tempo  *Tempo
	output OutputSink
	sched  BarScheduler

	mu sync.Mutex

	bars          int
	inputChannel  *uint8 // nil = Any
	outputChannel uint8
	thru          bool

	events         []Event
	filteredEvents []Event
	nextEventID    uint64

	running        bool
	recording      bool
	startScheduled bool
	stopScheduled  bool
	startPosition  float64

	currentlyOn             map[uint8]Event
	currentlyRecordingNotes map[uint8]Event
	currentlyOpenThruNotes  map[uint8]Event

	filters Filters
}

// NewTrack builds an empty, idle track bound to tempo for position/bar-size
// and output for emission. sched may be nil only in tests that never call
// ScheduleStart/ScheduleStop.
func NewTrack(id int, tempo *Tempo, output OutputSink, sched BarScheduler) *Track {
	tr := &Track{
		id:                      id,
		tempo:                   tempo,
		output:                  output,
		sched:                   sched,
		bars:                    4,
		outputChannel:           1,
		currentlyOn:             make(map[uint8]Event),
		currentlyRecordingNotes: make(map[uint8]Event),
		currentlyOpenThruNotes:  make(map[uint8]Event),
		filters: Filters{
			GateLength: GateLengthFilter{Multiplier: 1},
			Quantizer:  QuantizerFilter{Divisor: 8, BarSize: tempo.BarSize()},
		},
	}
	return tr
}

// ID returns the track's bank index.
func (tr *Track) ID() int { return tr.id }

// State reports Idle/Playing/Recording.
func (tr *Track) State() TrackState {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	switch {
	case tr.recording:
		return Recording
	case tr.running:
		return Playing
	default:
		return Idle
	}
}

// Bars returns the loop length in bars.
func (tr *Track) Bars() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.bars
}

// SetBars changes the loop length (1..16 bars). Events that fall outside
// the new, shorter loop are dropped rather than left in an inconsistent
// position.
func (tr *Track) SetBars(bars int) {
	if bars < 1 {
		bars = 1
	} else if bars > 16 {
		bars = 16
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.bars = bars
	loopLength := tr.loopLengthLocked()
	kept := tr.events[:0]
	for _, e := range tr.events {
		if e.Position < loopLength {
			kept = append(kept, e)
		}
	}
	tr.events = kept
	tr.refreshLocked()
}

func (tr *Track) loopLengthLocked() float64 {
	return float64(tr.bars) * tr.tempo.BarSize()
}

// LoopLength returns bars * bar_size in beats.
func (tr *Track) LoopLength() float64 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.loopLengthLocked()
}

// Position returns the track-local loop position in beats; 0 when idle.
func (tr *Track) Position() float64 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.positionLocked()
}

func (tr *Track) positionLocked() float64 {
	if !tr.running {
		return 0
	}
	return wrapPosition(tr.tempo.Position()-tr.startPosition, tr.loopLengthLocked())
}

// InputChannel returns the inbound channel filter, or nil for Any.
func (tr *Track) InputChannel() *uint8 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.inputChannel
}

// SetInputChannel sets the inbound channel filter; nil means Any.
func (tr *Track) SetInputChannel(ch *uint8) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.inputChannel = ch
}

// OutputChannel returns the channel rewritten onto emitted messages.
func (tr *Track) OutputChannel() uint8 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.outputChannel
}

// SetOutputChannel sets the channel rewritten onto emitted messages,
// clamped to [1,16].
func (tr *Track) SetOutputChannel(ch uint8) {
	if ch < 1 {
		ch = 1
	} else if ch > 16 {
		ch = 16
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.outputChannel = ch
}

// Thru reports whether incoming note messages are echoed to output.
func (tr *Track) Thru() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.thru
}

// SetThru toggles pass-through of incoming note messages to output.
func (tr *Track) SetThru(on bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.thru = on
}

// SetQuantizer configures the quantizer filter and recomputes filtered_events.
func (tr *Track) SetQuantizer(enabled bool, divisor int) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.filters.Quantizer.Enabled = enabled
	tr.filters.Quantizer.Divisor = divisor
	tr.filters.Quantizer.BarSize = tr.tempo.BarSize()
	tr.refreshLocked()
}

// Quantizer returns the current quantizer filter settings.
func (tr *Track) Quantizer() QuantizerFilter {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.filters.Quantizer
}

// SetGateLength configures the gate length multiplier and recomputes
// filtered_events.
func (tr *Track) SetGateLength(multiplier float64) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.filters.GateLength.Multiplier = multiplier
	tr.refreshLocked()
}

// GateLength returns the current gate length filter settings.
func (tr *Track) GateLength() GateLengthFilter {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.filters.GateLength
}

// SetOffset configures the offset filter and recomputes filtered_events.
func (tr *Track) SetOffset(offset float64) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.filters.Offset.Offset = offset
	tr.refreshLocked()
}

// Offset returns the current offset filter settings.
func (tr *Track) Offset() OffsetFilter {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.filters.Offset
}

// Events returns a copy of the recorded event list.
func (tr *Track) Events() []Event {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return CloneEvents(tr.events)
}

// FilteredEvents returns a copy of the derived, filtered event list.
func (tr *Track) FilteredEvents() []Event {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return CloneEvents(tr.filteredEvents)
}

// ReplaceEvents overwrites the recorded event list (used by persistence
// load) and recomputes filtered_events.
func (tr *Track) ReplaceEvents(events []Event) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.events = CloneEvents(events)
	for i := range tr.events {
		tr.nextEventID++
		tr.events[i].id = tr.nextEventID
	}
	tr.refreshLocked()
}

// Reset stops the track and clears all recorded events.
func (tr *Track) Reset() {
	tr.Stop()
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.events = nil
	tr.refreshLocked()
}

// Start begins playback immediately from the tempo's current position.
func (tr *Track) Start() {
	pos := tr.tempo.Position()
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.startScheduled = false
	tr.startPosition = pos
	tr.running = true
}

// ScheduleStart defers Start to the next bar boundary.
func (tr *Track) ScheduleStart() {
	tr.mu.Lock()
	tr.startScheduled = true
	tr.mu.Unlock()

	target := nextBarPosition(tr.tempo.Position(), tr.tempo.BarSize())
	tr.sched.Schedule(target, func() {
		tr.mu.Lock()
		fire := tr.startScheduled
		tr.mu.Unlock()
		if !fire {
			return
		}
		tr.mu.Lock()
		tr.startScheduled = false
		tr.startPosition = target
		tr.running = true
		tr.mu.Unlock()
	})
}

// Record begins recording, starting playback first if the track is idle.
func (tr *Track) Record() {
	tr.mu.Lock()
	running := tr.running
	tr.mu.Unlock()
	if !running {
		tr.Start()
	}
	tr.mu.Lock()
	tr.recording = true
	tr.mu.Unlock()
}

// ScheduleRecord schedules a start (if idle) and marks recording active;
// recording semantics apply once the scheduled start actually fires and
// ProcessMessage observes the track running.
func (tr *Track) ScheduleRecord() {
	tr.mu.Lock()
	running := tr.running
	tr.mu.Unlock()
	if !running {
		tr.ScheduleStart()
	}
	tr.mu.Lock()
	tr.recording = true
	tr.mu.Unlock()
}

// StopRecording ends recording, closing any dangling on-events with a
// synthetic NoteOff at the current position.
func (tr *Track) StopRecording() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.recording = false
	tr.closeOpenNotesLocked()
}

func (tr *Track) closeOpenNotesLocked() {
	if len(tr.currentlyRecordingNotes) == 0 {
		return
	}
	p := tr.positionLocked()
	for pitch, onEv := range tr.currentlyRecordingNotes {
		tr.nextEventID++
		tr.events = append(tr.events, Event{
			Position: p,
			Message:  Message{Kind: NoteOff, Channel: onEv.Message.Channel, Note: pitch},
			id:       tr.nextEventID,
		})
		delete(tr.currentlyOn, pitch)
	}
	tr.currentlyRecordingNotes = make(map[uint8]Event)
	tr.refreshLocked()
}

// ScheduleStop defers Stop to the next bar boundary.
func (tr *Track) ScheduleStop() {
	tr.mu.Lock()
	tr.stopScheduled = true
	tr.mu.Unlock()

	target := nextBarPosition(tr.tempo.Position(), tr.tempo.BarSize())
	tr.sched.Schedule(target, func() {
		tr.mu.Lock()
		fire := tr.stopScheduled
		tr.mu.Unlock()
		if fire {
			tr.Stop()
		}
	})
}

// Stop halts playback/recording immediately and panics (emits NoteOff)
// every currently held pitch.
func (tr *Track) Stop() {
	tr.mu.Lock()
	tr.running = false
	tr.stopScheduled = false
	if tr.recording {
		tr.recording = false
		tr.closeOpenNotesLocked()
	}
	offs := make([]Message, 0, len(tr.currentlyOn))
	for pitch := range tr.currentlyOn {
		offs = append(offs, Message{Kind: NoteOff, Channel: tr.outputChannel, Note: pitch})
	}
	tr.currentlyOn = make(map[uint8]Event)
	tr.mu.Unlock()

	for _, m := range offs {
		tr.output.Send(m)
	}
}

// channelOKLocked applies the track's input_channel filter.
func (tr *Track) channelOKLocked(msg Message) bool {
	if tr.inputChannel == nil {
		return true
	}
	return msg.Channel == *tr.inputChannel
}

// ProcessMessage routes one inbound note message through thru and
// recording, per the track's current state. Non-note messages are not
// meaningful here; the Input Router forwards those directly to the
// Output Router without involving tracks.
func (tr *Track) ProcessMessage(msg Message) {
	if msg.Kind != NoteOn && msg.Kind != NoteOff {
		return
	}

	tr.mu.Lock()
	if !tr.channelOKLocked(msg) {
		tr.mu.Unlock()
		return
	}
	thru := tr.thru
	outCh := tr.outputChannel
	tr.mu.Unlock()

	if thru {
		tr.emitThru(msg.WithChannel(outCh))
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if !tr.recording || !tr.running {
		return
	}

	p := tr.positionLocked()

	switch msg.Kind {
	case NoteOn:
		tr.nextEventID++
		ev := Event{Position: p, Message: msg, id: tr.nextEventID}
		tr.currentlyRecordingNotes[msg.Note] = ev
		tr.currentlyOn[msg.Note] = ev
		tr.events = append(tr.events, ev)
	case NoteOff:
		if onEv, ok := tr.currentlyRecordingNotes[msg.Note]; ok {
			tr.removeNotesBetweenLocked(msg.Note, onEv.Position, p, onEv)
			delete(tr.currentlyRecordingNotes, msg.Note)
			tr.nextEventID++
			tr.events = append(tr.events, Event{Position: p, Message: msg, id: tr.nextEventID})
		}
		delete(tr.currentlyOn, msg.Note)
	}

	tr.refreshLocked()
}

func (tr *Track) emitThru(msg Message) {
	tr.mu.Lock()
	switch msg.Kind {
	case NoteOn:
		tr.currentlyOpenThruNotes[msg.Note] = Event{Message: msg}
	case NoteOff:
		delete(tr.currentlyOpenThruNotes, msg.Note)
	}
	tr.mu.Unlock()
	tr.output.Send(msg)
}

// removeNotesBetweenLocked purges any prior on/off pair of note whose
// interval overlaps [start,end] (wrapping the loop), implementing the
// overdub overlap-purge rule: a pair is removed as a unit, not by testing
// each event's raw position, so two pairs never end up partially
// overlapping in the kept set. exclude is the new, still-open recording
// and is never itself a removal candidate.
func (tr *Track) removeNotesBetweenLocked(note uint8, start, end float64, exclude Event) {
	loopLength := tr.loopLengthLocked()

	type indexed struct {
		idx int
		ev  Event
	}
	var others []indexed
	for i, e := range tr.events {
		if e.Message.Note == note && e.id != exclude.id {
			others = append(others, indexed{i, e})
		}
	}
	sort.Slice(others, func(i, j int) bool { return others[i].ev.Position < others[j].ev.Position })

	sorted := make([]Event, len(others))
	for i, o := range others {
		sorted[i] = o.ev
	}
	remove := make(map[int]bool, len(others))
	for i, on := range others {
		if on.ev.Message.Kind != NoteOn {
			continue
		}
		j := pairedOffIndex(sorted, i)
		if j < 0 {
			continue
		}
		off := others[j]
		if intervalOverlaps(start, end, on.ev.Position, off.ev.Position, loopLength) {
			remove[on.idx] = true
			remove[off.idx] = true
		}
	}

	kept := tr.events[:0]
	for i, e := range tr.events {
		if !remove[i] {
			kept = append(kept, e)
		}
	}
	tr.events = kept
}

// cyclicContains reports whether p lies in the half-open interval
// [start,end) on a circle of circumference loopLength; end <= start means
// the interval wraps through 0.
func cyclicContains(p, start, end, loopLength float64) bool {
	if loopLength <= 0 {
		return false
	}
	span := end - start
	if span <= 0 {
		span += loopLength
	}
	offset := p - start
	if offset < 0 {
		offset += loopLength
	}
	return offset < span
}

// intervalOverlaps reports whether two half-open cyclic intervals, each
// shorter than a full loop, share any position. Checking each interval's
// start against the other is sufficient for two proper arcs on a circle.
func intervalOverlaps(aStart, aEnd, bStart, bEnd, loopLength float64) bool {
	return cyclicContains(aStart, bStart, bEnd, loopLength) ||
		cyclicContains(bStart, aStart, aEnd, loopLength)
}

// refreshLocked sorts events by position and recomputes filtered_events.
// It never resolves overlaps: that is exclusively a recording-time
// responsibility (removeNotesBetweenLocked).
func (tr *Track) refreshLocked() {
	sort.Slice(tr.events, func(i, j int) bool { return tr.events[i].Position < tr.events[j].Position })
	tr.filteredEvents = tr.filters.Apply(tr.events, tr.loopLengthLocked())
}

// Refresh recomputes filtered_events; exported for callers (e.g.
// persistence load) that mutate events through ReplaceEvents and still
// want an explicit recomputation point.
func (tr *Track) Refresh() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.refreshLocked()
}

// openAtLocked returns the pitches sounding at position p, derived from
// filtered_events by scanning the whole loop in cyclic order ending at p
// so that notes open near the end of the loop stay held across wrap.
func (tr *Track) openAtLocked(p float64) map[uint8]Event {
	open := make(map[uint8]Event)
	apply := func(e Event) {
		switch e.Message.Kind {
		case NoteOn:
			open[e.Message.Note] = e
		case NoteOff:
			delete(open, e.Message.Note)
		}
	}
	for _, e := range tr.filteredEvents {
		if e.Position > p {
			apply(e)
		}
	}
	for _, e := range tr.filteredEvents {
		if e.Position <= p {
			apply(e)
		}
	}
	return open
}

// OnClock is the per-tick emission hook: reconcile currently_on against
// the notes that should be sounding at the current position, and emit the
// NoteOff/NoteOn deltas. Called once per clock tick for every running
// track.
func (tr *Track) OnClock() {
	tr.mu.Lock()
	if !tr.running {
		tr.mu.Unlock()
		return
	}
	p := tr.positionLocked()
	open := tr.openAtLocked(p)

	var offs, ons []Message
	for pitch := range tr.currentlyOn {
		if _, stillOpen := open[pitch]; stillOpen {
			continue
		}
		if _, rec := tr.currentlyRecordingNotes[pitch]; rec {
			continue
		}
		if _, passing := tr.currentlyOpenThruNotes[pitch]; passing {
			continue
		}
		offs = append(offs, Message{Kind: NoteOff, Channel: tr.outputChannel, Note: pitch})
		delete(tr.currentlyOn, pitch)
	}
	for pitch, ev := range open {
		if _, already := tr.currentlyOn[pitch]; already {
			continue
		}
		msg := ev.Message.WithChannel(tr.outputChannel)
		ons = append(ons, msg)
		tr.currentlyOn[pitch] = Event{Position: p, Message: msg}
	}
	tr.mu.Unlock()

	for _, m := range offs {
		tr.output.Send(m)
	}
	for _, m := range ons {
		tr.output.Send(m)
	}
}
