package engine

import "time"

const feedbackSuppressionWindow = 100 * time.Millisecond

// Subscriber receives routed note messages. Track implements this
// directly via ProcessMessage.
type Subscriber interface {
	ProcessMessage(Message)
}

// InputRouter fans incoming messages to every Track, suppresses feedback
// (an identical message re-arriving within feedbackSuppressionWindow of
// having been sent to outputs), and forwards clock/songpos control
// messages to Tempo. It does not own MIDI ports itself — callers (one
// reader goroutine per input port) feed it messages via Route.
type InputRouter struct {
	tempo  *Tempo
	output *OutputRouter
	tracks []Subscriber
}

// NewInputRouter builds an InputRouter bound to tempo (for clock/songpos)
// and output (for feedback suppression lookups).
func NewInputRouter(tempo *Tempo, output *OutputRouter) *InputRouter {
	return &InputRouter{tempo: tempo, output: output}
}

// AddTrack registers a track to receive fanned-out note messages.
func (r *InputRouter) AddTrack(t Subscriber) {
	r.tracks = append(r.tracks, t)
}

// Route processes one inbound message from the named source port. port is
// carried for diagnostics only; the routing decision does not depend on
// it.
func (r *InputRouter) Route(port string, msg Message) {
	switch msg.Kind {
	case Clock:
		r.tempo.OnExternalClock()
		return
	case SongPos:
		r.tempo.OnExternalSongPos(msg.SongPosition)
		return
	}

	if r.output.WasRecentlySent(msg, feedbackSuppressionWindow) {
		return
	}

	switch msg.Kind {
	case NoteOn, NoteOff:
		for _, t := range r.tracks {
			t.ProcessMessage(msg)
		}
	case Other:
		r.output.Send(msg)
	}
}
